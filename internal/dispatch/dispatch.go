// Package dispatch turns "open/close sensor X" requests into queued commands.
package dispatch

import (
	"fmt"

	"github.com/rs/zerolog"

	"floorreg/internal/journal"
	"floorreg/internal/registry"
	"floorreg/internal/sensor"
)

// Enqueuer accepts commands for transmission.
type Enqueuer interface {
	Enqueue(cmd sensor.Command)
}

// Recorder stores issued commands.
type Recorder interface {
	Append(identity, origin string, cmd sensor.Command) (journal.Record, error)
}

// Dispatcher resolves sensors by name and queues commands for them.
type Dispatcher struct {
	reg      *registry.Registry
	out      Enqueuer
	recorder Recorder
	port     uint16
	log      zerolog.Logger
}

// New returns a Dispatcher sending to port. recorder may be nil.
func New(reg *registry.Registry, out Enqueuer, recorder Recorder, port uint16, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, out: out, recorder: recorder, port: port, log: log}
}

// Send queues an open or close command for the named sensor. origin labels
// who asked (e.g. "cli", "mqtt") in the journal. Journal failures are logged
// and do not fail the send.
func (d *Dispatcher) Send(identity string, open bool, origin string) (sensor.Command, error) {
	cmd, err := d.reg.Command(identity, open, d.port)
	if err != nil {
		return sensor.Command{}, fmt.Errorf("building command: %w", err)
	}

	d.out.Enqueue(cmd)

	if d.recorder != nil {
		if _, err := d.recorder.Append(identity, origin, cmd); err != nil {
			d.log.Warn().Err(err).Str("name", identity).Msg("Failed to journal command")
		}
	}

	d.log.Info().
		Str("name", identity).
		Str("address", cmd.Address).
		Str("action", cmd.Action()).
		Str("origin", origin).
		Msg("Command requested")
	return cmd, nil
}
