// Package pubsub provides a multi-subscriber broadcast channel whose Publish
// never blocks on slow or absent subscribers.
package pubsub

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscriber buffer used when none is configured.
const DefaultBuffer = 64

// Publisher fans values out to every current subscriber. Each subscriber owns
// a bounded buffer; when it is full the oldest buffered value is discarded to
// make room for the new one.
type Publisher[T any] struct {
	mu          sync.Mutex
	subscribers map[string]chan T
	buffer      int
	closed      bool
}

// New returns a Publisher with the given per-subscriber buffer size.
func New[T any](buffer int) *Publisher[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Publisher[T]{
		subscribers: make(map[string]chan T),
		buffer:      buffer,
	}
}

// Subscribe registers a new subscriber. The returned id is used to
// unsubscribe. Subscribing to a closed publisher returns a closed channel.
func (p *Publisher[T]) Subscribe() (string, <-chan T) {
	id := uuid.NewString()
	ch := make(chan T, p.buffer)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		close(ch)
		return id, ch
	}
	p.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (p *Publisher[T]) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.subscribers[id]; ok {
		close(ch)
		delete(p.subscribers, id)
	}
}

// Publish delivers v to every subscriber and returns how many buffered values
// were discarded to do so.
func (p *Publisher[T]) Publish(v T) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}

	dropped := 0
	for _, ch := range p.subscribers {
		select {
		case ch <- v:
			continue
		default:
		}
		// full: make room by discarding the oldest value
		select {
		case <-ch:
			dropped++
		default:
		}
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

// Subscribers returns the current number of subscribers.
func (p *Publisher[T]) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers)
}

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (p *Publisher[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, ch := range p.subscribers {
		close(ch)
		delete(p.subscribers, id)
	}
}
