// Package registry keeps the latest report of every known floor-register
// sensor, keyed by device name.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"floorreg/internal/sensor"
	"floorreg/internal/timeutil"
)

var (
	// ErrUnknownSensor is returned when no report has been seen for a name.
	ErrUnknownSensor = errors.New("unknown sensor")
	// ErrNoAddress is returned when a sensor's source address is unknown.
	ErrNoAddress = errors.New("sensor has no known address")
)

// Entry is the registry's view of one sensor.
type Entry struct {
	Report    sensor.Report
	FirstSeen time.Time
	LastSeen  time.Time
	Reports   uint64
	Active    bool
}

// Registry is an in-memory map of identity to latest report. Nothing is
// persisted.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	clock   timeutil.Clock
	log     zerolog.Logger
}

// New returns an empty registry.
func New(clock timeutil.Clock, log zerolog.Logger) *Registry {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Registry{
		entries: make(map[string]*Entry),
		clock:   clock,
		log:     log,
	}
}

// Upsert records r as the latest report for its identity. A report without a
// name is stored under the empty key.
func (r *Registry) Upsert(rep sensor.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	key := rep.Identity

	if e, ok := r.entries[key]; ok {
		e.Report = rep
		e.LastSeen = now
		e.Reports++
		e.Active = true

		r.log.Debug().
			Str("name", key).
			Float64("temperature", rep.Temperature).
			Msg("Sensor updated")
		return
	}

	r.entries[key] = &Entry{
		Report:    rep,
		FirstSeen: now,
		LastSeen:  now,
		Reports:   1,
		Active:    true,
	}

	r.log.Info().
		Str("name", key).
		Str("ip", rep.SourceAddress).
		Float64("temperature", rep.Temperature).
		Msg("New sensor discovered")
}

// Snapshot returns every entry sorted by identity.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Report.Identity < out[j].Report.Identity
	})
	return out
}

// Get returns the entry for identity.
func (r *Registry) Get(identity string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[identity]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of known sensors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Command builds the open or close command for the named sensor.
func (r *Registry) Command(identity string, open bool, port uint16) (sensor.Command, error) {
	e, ok := r.Get(identity)
	if !ok {
		return sensor.Command{}, fmt.Errorf("%w: %q", ErrUnknownSensor, identity)
	}
	cmd, ok := e.Report.Command(open, port)
	if !ok {
		return sensor.Command{}, fmt.Errorf("%w: %q", ErrNoAddress, identity)
	}
	return cmd, nil
}

// Run upserts every report from reports until ctx is cancelled or the
// channel is closed.
func (r *Registry) Run(ctx context.Context, reports <-chan sensor.Report) {
	for {
		select {
		case <-ctx.Done():
			return
		case rep, ok := <-reports:
			if !ok {
				return
			}
			r.Upsert(rep)
		}
	}
}

// Expire marks entries not seen within threshold as inactive and returns how
// many changed.
func (r *Registry) Expire(threshold time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock.Now().Add(-threshold)
	n := 0
	for key, e := range r.entries {
		if e.Active && e.LastSeen.Before(cutoff) {
			e.Active = false
			n++
			r.log.Info().
				Str("name", key).
				Time("last_seen", e.LastSeen).
				Msg("Sensor marked inactive")
		}
	}
	return n
}

// RunExpiry calls Expire every checkInterval until ctx is cancelled.
func (r *Registry) RunExpiry(ctx context.Context, checkInterval, threshold time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Expire(threshold)
		}
	}
}
