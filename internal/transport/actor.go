// Package transport owns the single UDP socket floorreg talks to the sensors
// through. One actor loop multiplexes three duties on that socket: sending
// queued commands, broadcasting discovery, and receiving sensor reports.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"floorreg/internal/metrics"
	"floorreg/internal/pubsub"
	"floorreg/internal/sensor"
	"floorreg/internal/timeutil"
)

const (
	// DefaultReceiveTimeout bounds each receive attempt.
	DefaultReceiveTimeout = 500 * time.Millisecond
	maxDatagramSize       = 4096
)

var errNotListening = errors.New("socket is not bound")

// Config tunes the actor loop.
type Config struct {
	// BindAddress is the local address to bind; empty means 0.0.0.0.
	BindAddress       string
	ReceiveTimeout    time.Duration
	DiscoveryInterval time.Duration
	// SubscriberBuffer is the per-subscriber report buffer.
	SubscriberBuffer int
}

// Option customises an Actor.
type Option func(*Actor)

// WithSocketFactory replaces the real UDP socket factory.
func WithSocketFactory(f SocketFactory) Option {
	return func(a *Actor) { a.factory = f }
}

// WithClock sets the clock used by the discovery rate limiter.
func WithClock(c timeutil.Clock) Option {
	return func(a *Actor) { a.clock = c }
}

// WithLogger sets the actor's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Actor) { a.log = l }
}

// WithMetrics records transport activity on m.
func WithMetrics(m *metrics.Transport) Option {
	return func(a *Actor) { a.metrics = m }
}

// Actor serializes every use of the transport socket. Construct one per
// process and share it; Enqueue is safe from any goroutine.
type Actor struct {
	cfg     Config
	factory SocketFactory
	clock   timeutil.Clock
	log     zerolog.Logger
	metrics *metrics.Transport

	// lifeMu is held for the whole bind/loop/dispose cycle, so a second Run
	// waits for the first to release the socket.
	lifeMu    sync.Mutex
	sock      Socket
	port      uint16
	broadcast *net.UDPAddr
	buf       []byte
	bound     atomic.Pointer[net.UDPAddr]

	queue   Queue
	limiter *Limiter
	reports *pubsub.Publisher[sensor.Report]
}

// New returns an idle actor. Its report stream exists immediately and lives
// until Close, across any number of Run cycles.
func New(cfg Config, opts ...Option) *Actor {
	if cfg.BindAddress == "" {
		cfg.BindAddress = net.IPv4zero.String()
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = DefaultReceiveTimeout
	}
	if cfg.DiscoveryInterval < DefaultDiscoveryInterval {
		cfg.DiscoveryInterval = DefaultDiscoveryInterval
	}

	a := &Actor{
		cfg:     cfg,
		factory: UDPSocketFactory{},
		clock:   timeutil.RealClock{},
		log:     zerolog.Nop(),
		buf:     make([]byte, maxDatagramSize),
		reports: pubsub.New[sensor.Report](cfg.SubscriberBuffer),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.limiter = NewLimiter(cfg.DiscoveryInterval, a.clock)
	return a
}

// Reports returns the stream of decoded sensor reports.
func (a *Actor) Reports() *pubsub.Publisher[sensor.Report] {
	return a.reports
}

// Start runs the loop in a new goroutine and returns the report stream
// without waiting for the socket to bind. Setup failures are logged; call
// Start again to retry.
func (a *Actor) Start(ctx context.Context, broadcastAddr string, port uint16) *pubsub.Publisher[sensor.Report] {
	go func() {
		_ = a.Run(ctx, broadcastAddr, port)
	}()
	return a.reports
}

// Run binds the socket and loops until ctx is cancelled. If another Run is
// active it blocks until that one has disposed its socket. The socket is
// always disposed before Run returns. The returned error is non-nil only when
// setup fails or the socket is closed underneath the loop.
func (a *Actor) Run(ctx context.Context, broadcastAddr string, port uint16) error {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	defer a.dispose()

	if err := a.bind(broadcastAddr, port); err != nil {
		a.log.Error().Err(err).Uint16("port", port).Msg("UDP transport setup failed")
		return err
	}

	a.log.Info().
		Str("local", a.bound.Load().String()).
		Str("broadcast", a.broadcast.String()).
		Dur("receive_timeout", a.cfg.ReceiveTimeout).
		Dur("discovery_interval", a.cfg.DiscoveryInterval).
		Msg("UDP transport listening")

	for ctx.Err() == nil {
		if err := a.iterate(); err != nil {
			a.log.Error().Err(err).Msg("UDP transport loop stopped")
			return err
		}
	}
	return nil
}

// Enqueue queues cmd for transmission on a later loop iteration. A command
// with Port 0 is sent to the actor's own port.
func (a *Actor) Enqueue(cmd sensor.Command) {
	depth := a.queue.Push(cmd)
	a.metrics.QueueDepth(depth)
	a.log.Debug().
		Str("address", cmd.Address).
		Uint16("port", cmd.Port).
		Str("action", cmd.Action()).
		Int("queue_depth", depth).
		Msg("Command queued")
}

// Pending returns the number of queued commands.
func (a *Actor) Pending() int {
	return a.queue.Len()
}

// Listening reports whether the socket is currently bound.
func (a *Actor) Listening() bool {
	return a.bound.Load() != nil
}

// LocalAddr returns the bound address, or nil when not listening.
func (a *Actor) LocalAddr() *net.UDPAddr {
	return a.bound.Load()
}

// Subscribers returns the number of live report subscribers.
func (a *Actor) Subscribers() int {
	return a.reports.Subscribers()
}

// LastDiscovery returns when the last discovery broadcast was granted, and
// false if none has been.
func (a *Actor) LastDiscovery() (time.Time, bool) {
	return a.limiter.LastGrant()
}

// Close ends the report stream. Cancel the context passed to Run to stop the
// loop itself.
func (a *Actor) Close() {
	a.reports.Close()
}

func (a *Actor) bind(broadcastAddr string, port uint16) error {
	// a socket left over from an earlier cycle is never reused
	a.dispose()

	baddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(broadcastAddr, strconv.Itoa(int(port))))
	if err != nil {
		return fmt.Errorf("resolving broadcast address %s: %w", broadcastAddr, err)
	}

	ip := net.ParseIP(a.cfg.BindAddress)
	if ip == nil {
		return fmt.Errorf("invalid bind address %q", a.cfg.BindAddress)
	}
	laddr := &net.UDPAddr{IP: ip, Port: int(port)}

	sock, err := a.factory.ListenUDP(laddr)
	if err != nil {
		return fmt.Errorf("binding UDP socket: %w", err)
	}

	local, ok := sock.LocalAddr().(*net.UDPAddr)
	if !ok {
		local = laddr
	}

	a.sock = sock
	a.port = port
	a.broadcast = baddr
	a.bound.Store(local)
	a.metrics.Listening(true)
	return nil
}

func (a *Actor) dispose() {
	if a.sock == nil {
		return
	}
	if err := a.sock.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		a.log.Warn().Err(err).Msg("Failed to close UDP socket")
	}
	a.sock = nil
	a.bound.Store(nil)
	a.metrics.Listening(false)
	a.log.Info().Msg("UDP socket disposed")
}

// iterate performs one drain → broadcast → receive cycle.
func (a *Actor) iterate() error {
	a.drainOne()
	a.maybeBroadcast()
	return a.receive()
}

func (a *Actor) drainOne() {
	cmd, ok, err := a.queue.PopAndSend(a.sendCommand)
	if !ok {
		return
	}
	a.metrics.QueueDepth(a.queue.Len())

	if err != nil {
		a.metrics.SendFailed(metrics.KindCommand)
		a.log.Warn().
			Err(err).
			Str("address", cmd.Address).
			Str("action", cmd.Action()).
			Msg("Failed to send command, dropping it")
		return
	}

	a.metrics.Sent(metrics.KindCommand)
	a.log.Info().
		Str("address", cmd.Address).
		Str("action", cmd.Action()).
		Msg("Command sent")
}

func (a *Actor) sendCommand(cmd sensor.Command) error {
	if a.sock == nil {
		return errNotListening
	}
	port := cmd.Port
	if port == 0 {
		port = a.port
	}
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(cmd.Address, strconv.Itoa(int(port))))
	if err != nil {
		return fmt.Errorf("resolving %s: %w", cmd.Address, err)
	}
	if _, err := a.sock.WriteToUDP([]byte(cmd.Payload), addr); err != nil {
		return fmt.Errorf("writing command to %s: %w", addr, err)
	}
	return nil
}

func (a *Actor) maybeBroadcast() {
	ok, wait := a.limiter.Allow()
	if !ok {
		a.metrics.Postponed()
		a.log.Trace().Dur("wait", wait).Msg("Discovery broadcast postponed")
		return
	}

	if _, err := a.sock.WriteToUDP([]byte(sensor.DiscoveryMessage), a.broadcast); err != nil {
		a.metrics.SendFailed(metrics.KindDiscovery)
		a.log.Error().Err(err).Str("target", a.broadcast.String()).Msg("Failed to send discovery broadcast")
		return
	}

	a.metrics.Sent(metrics.KindDiscovery)
	a.log.Debug().Str("target", a.broadcast.String()).Msg("Discovery broadcast sent")
}

// receive waits up to the receive timeout for one datagram. Only a closed
// socket is reported as an error.
func (a *Actor) receive() error {
	if err := a.sock.SetReadDeadline(time.Now().Add(a.cfg.ReceiveTimeout)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		a.log.Warn().Err(err).Msg("Failed to set read deadline")
		return nil
	}

	n, src, err := a.sock.ReadFromUDP(a.buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil
		}
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		a.log.Warn().Err(err).Msg("Error reading from UDP")
		return nil
	}

	a.metrics.Received()
	a.handleDatagram(a.buf[:n], src)
	return nil
}

func (a *Actor) handleDatagram(data []byte, src *net.UDPAddr) {
	host := sensor.HostOf(src)

	report, err := sensor.Decode(data)
	if err != nil {
		a.metrics.Rejected()
		a.log.Debug().
			Err(err).
			Str("src", host).
			Int("bytes", len(data)).
			Msg("Ignoring datagram")
		return
	}

	// the device's own sender_ip claim is never trusted
	report = report.WithSource(host)
	a.publish(report)
}

func (a *Actor) publish(report sensor.Report) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("Failed to publish sensor report")
		}
	}()

	dropped := a.reports.Publish(report)
	a.metrics.Published(dropped)
	if dropped > 0 {
		a.log.Warn().Int("dropped", dropped).Msg("Slow subscriber, discarded oldest reports")
	}

	a.log.Debug().
		Str("name", report.Identity).
		Float64("temperature", report.Temperature).
		Str("src", report.SourceAddress).
		Msg("Sensor report received")
}
