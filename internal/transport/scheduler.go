package transport

import (
	"sync"
	"time"

	"floorreg/internal/timeutil"
)

// DefaultDiscoveryInterval is the minimum gap between discovery broadcasts.
const DefaultDiscoveryInterval = 10 * time.Second

// Limiter grants at most one discovery broadcast per interval. A grant is
// stamped when it is handed out, before the broadcast is attempted, so a slow
// or failing send still waits a full interval before the next try.
type Limiter struct {
	mu       sync.Mutex
	clock    timeutil.Clock
	interval time.Duration
	last     time.Time
	granted  bool
}

// NewLimiter returns a Limiter that has never granted. Intervals shorter
// than DefaultDiscoveryInterval are raised to it.
func NewLimiter(interval time.Duration, clock timeutil.Clock) *Limiter {
	if interval < DefaultDiscoveryInterval {
		interval = DefaultDiscoveryInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Limiter{clock: clock, interval: interval}
}

// Allow reports whether a broadcast may start now. When it may not, wait is
// the time left until the next grant.
func (l *Limiter) Allow() (ok bool, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if l.granted {
		if elapsed := now.Sub(l.last); elapsed < l.interval {
			return false, l.interval - elapsed
		}
	}
	l.last = now
	l.granted = true
	return true, 0
}

// LastGrant returns when the last broadcast was granted, and false if never.
func (l *Limiter) LastGrant() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last, l.granted
}
