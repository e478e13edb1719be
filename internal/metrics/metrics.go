// Package metrics exposes Prometheus counters for the UDP transport.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Datagram kinds used as the "kind" label.
const (
	KindCommand   = "command"
	KindDiscovery = "discovery"
)

// Transport holds the transport collectors. A nil *Transport is valid and
// records nothing.
type Transport struct {
	sent      *prometheus.CounterVec
	sendErrs  *prometheus.CounterVec
	postponed prometheus.Counter
	received  prometheus.Counter
	rejected  prometheus.Counter
	published prometheus.Counter
	dropped   prometheus.Counter
	queue     prometheus.Gauge
	listening prometheus.Gauge
}

// NewTransport creates the transport collectors and registers them on reg.
func NewTransport(reg prometheus.Registerer) (*Transport, error) {
	t := &Transport{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floorreg",
			Name:      "datagrams_sent_total",
			Help:      "Datagrams transmitted, by kind.",
		}, []string{"kind"}),
		sendErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "floorreg",
			Name:      "send_errors_total",
			Help:      "Failed datagram transmissions, by kind.",
		}, []string{"kind"}),
		postponed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floorreg",
			Name:      "discovery_postponed_total",
			Help:      "Discovery broadcasts skipped by the rate limiter.",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floorreg",
			Name:      "datagrams_received_total",
			Help:      "Datagrams read from the socket.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floorreg",
			Name:      "datagrams_rejected_total",
			Help:      "Received datagrams that did not decode as sensor reports.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floorreg",
			Name:      "reports_published_total",
			Help:      "Sensor reports published to subscribers.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floorreg",
			Name:      "reports_dropped_total",
			Help:      "Buffered reports discarded because a subscriber fell behind.",
		}),
		queue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "floorreg",
			Name:      "outbound_queue_depth",
			Help:      "Commands waiting to be transmitted.",
		}),
		listening: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "floorreg",
			Name:      "socket_listening",
			Help:      "1 while the transport socket is bound.",
		}),
	}

	for _, c := range []prometheus.Collector{
		t.sent, t.sendErrs, t.postponed, t.received, t.rejected,
		t.published, t.dropped, t.queue, t.listening,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering transport metrics: %w", err)
		}
	}
	return t, nil
}

// Sent counts a datagram of kind written to the socket.
func (t *Transport) Sent(kind string) {
	if t != nil {
		t.sent.WithLabelValues(kind).Inc()
	}
}

// SendFailed counts a failed write of kind.
func (t *Transport) SendFailed(kind string) {
	if t != nil {
		t.sendErrs.WithLabelValues(kind).Inc()
	}
}

// Postponed counts a discovery broadcast held back by the rate limiter.
func (t *Transport) Postponed() {
	if t != nil {
		t.postponed.Inc()
	}
}

// Received counts a datagram read from the socket.
func (t *Transport) Received() {
	if t != nil {
		t.received.Inc()
	}
}

// Rejected counts a datagram that did not decode as a report.
func (t *Transport) Rejected() {
	if t != nil {
		t.rejected.Inc()
	}
}

// Published records one published report and the values it displaced.
func (t *Transport) Published(dropped int) {
	if t != nil {
		t.published.Inc()
		t.dropped.Add(float64(dropped))
	}
}

// QueueDepth sets the number of commands waiting to be sent.
func (t *Transport) QueueDepth(n int) {
	if t != nil {
		t.queue.Set(float64(n))
	}
}

// Listening sets whether the socket is bound.
func (t *Transport) Listening(on bool) {
	if t == nil {
		return
	}
	if on {
		t.listening.Set(1)
	} else {
		t.listening.Set(0)
	}
}

// Serve exposes /metrics for gatherer on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Metrics server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving metrics on %s: %w", addr, err)
	}
	return nil
}
