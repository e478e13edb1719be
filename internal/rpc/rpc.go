// Package rpc provides Unix socket IPC between the floorreg node and its CLI.
package rpc

import (
	"errors"
	"fmt"
	"net"
	netrpc "net/rpc"
	"os"
	"time"

	"github.com/rs/zerolog"

	"floorreg/internal/dispatch"
	"floorreg/internal/journal"
	"floorreg/internal/registry"
	"floorreg/internal/sensor"
)

// ErrJournalDisabled is returned by RecentCommands when the node runs
// without a journal.
var ErrJournalDisabled = errors.New("command journal is disabled")

// TransportState reports the live state of the UDP actor.
type TransportState interface {
	Listening() bool
	LocalAddr() *net.UDPAddr
	Pending() int
	Subscribers() int
	LastDiscovery() (time.Time, bool)
}

// Service is the RPC service exposed by the node.
type Service struct {
	reg       *registry.Registry
	dispatch  *dispatch.Dispatcher
	journal   *journal.Journal
	transport TransportState
	log       zerolog.Logger
}

// NewService wires the service. j may be nil.
func NewService(reg *registry.Registry, d *dispatch.Dispatcher, j *journal.Journal, t TransportState, log zerolog.Logger) *Service {
	return &Service{reg: reg, dispatch: d, journal: j, transport: t, log: log}
}

// ListSensorsArgs is the request for ListSensors.
type ListSensorsArgs struct{}

// ListSensorsReply is the response for ListSensors.
type ListSensorsReply struct {
	Sensors []registry.Entry
}

// SendCommandArgs is the request for SendCommand.
type SendCommandArgs struct {
	Name string
	Open bool
}

// SendCommandReply is the response for SendCommand.
type SendCommandReply struct {
	Command sensor.Command
}

// RecentCommandsArgs is the request for RecentCommands.
type RecentCommandsArgs struct {
	Limit int
}

// RecentCommandsReply is the response for RecentCommands.
type RecentCommandsReply struct {
	Records []journal.Record
}

// StatusArgs is the request for Status.
type StatusArgs struct{}

// StatusReply is the response for Status.
// LastDiscovery is zero until the first broadcast.
type StatusReply struct {
	Listening     bool
	LocalAddr     string
	Pending       int
	Sensors       int
	Subscribers   int
	LastDiscovery time.Time
}

// ListSensors returns every known sensor ordered by name.
func (s *Service) ListSensors(args *ListSensorsArgs, reply *ListSensorsReply) error {
	reply.Sensors = s.reg.Snapshot()
	return nil
}

// SendCommand queues an open or close command for a named sensor.
func (s *Service) SendCommand(args *SendCommandArgs, reply *SendCommandReply) error {
	cmd, err := s.dispatch.Send(args.Name, args.Open, "cli")
	if err != nil {
		return err
	}
	reply.Command = cmd
	return nil
}

// RecentCommands returns up to Limit journal records, newest first.
func (s *Service) RecentCommands(args *RecentCommandsArgs, reply *RecentCommandsReply) error {
	if s.journal == nil {
		return ErrJournalDisabled
	}
	records, err := s.journal.Recent(args.Limit)
	if err != nil {
		return fmt.Errorf("reading journal: %w", err)
	}
	reply.Records = records
	return nil
}

// Status reports whether the node's socket is bound and how much work is queued.
func (s *Service) Status(args *StatusArgs, reply *StatusReply) error {
	reply.Sensors = s.reg.Len()
	if s.transport == nil {
		return nil
	}
	reply.Listening = s.transport.Listening()
	reply.Pending = s.transport.Pending()
	reply.Subscribers = s.transport.Subscribers()
	if at, ok := s.transport.LastDiscovery(); ok {
		reply.LastDiscovery = at
	}
	if addr := s.transport.LocalAddr(); addr != nil {
		reply.LocalAddr = addr.String()
	}
	return nil
}

// StartServer starts the Unix socket RPC server. Closing the returned
// listener stops it.
func StartServer(socketPath string, service *Service, log zerolog.Logger) (net.Listener, error) {
	server := netrpc.NewServer()
	if err := server.Register(service); err != nil {
		return nil, fmt.Errorf("registering RPC service: %w", err)
	}

	// Remove existing socket file if present
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	// Set socket permissions
	if err := os.Chmod(socketPath, 0660); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	log.Info().Str("socket", socketPath).Msg("RPC server started")

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("RPC accept error")
				continue
			}
			go server.ServeConn(conn)
		}
	}()

	return listener, nil
}

// Client is a client for the floorreg RPC service.
type Client struct {
	client *netrpc.Client
}

// NewClient dials the Unix socket and returns an RPC client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC socket %s: %w", socketPath, err)
	}
	return &Client{client: netrpc.NewClient(conn)}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// ListSensors fetches all known sensors from the node.
func (c *Client) ListSensors() ([]registry.Entry, error) {
	args := &ListSensorsArgs{}
	reply := &ListSensorsReply{}
	if err := c.client.Call("Service.ListSensors", args, reply); err != nil {
		return nil, err
	}
	return reply.Sensors, nil
}

// SendCommand asks the node to open or close the named sensor's door.
func (c *Client) SendCommand(name string, open bool) (sensor.Command, error) {
	args := &SendCommandArgs{Name: name, Open: open}
	reply := &SendCommandReply{}
	if err := c.client.Call("Service.SendCommand", args, reply); err != nil {
		return sensor.Command{}, err
	}
	return reply.Command, nil
}

// RecentCommands fetches up to limit journal records.
func (c *Client) RecentCommands(limit int) ([]journal.Record, error) {
	args := &RecentCommandsArgs{Limit: limit}
	reply := &RecentCommandsReply{}
	if err := c.client.Call("Service.RecentCommands", args, reply); err != nil {
		return nil, err
	}
	return reply.Records, nil
}

// Status fetches the node's transport state.
func (c *Client) Status() (StatusReply, error) {
	reply := StatusReply{}
	if err := c.client.Call("Service.Status", &StatusArgs{}, &reply); err != nil {
		return StatusReply{}, err
	}
	return reply, nil
}
