package transport

import (
	"sync"

	"floorreg/internal/sensor"
)

// Queue is the FIFO of commands waiting for the actor. Growth is unbounded;
// callers are expected not to flood it.
type Queue struct {
	mu    sync.Mutex
	items []sensor.Command
}

// Push appends cmd and returns the new depth.
func (q *Queue) Push(cmd sensor.Command) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, cmd)
	return len(q.items)
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PopAndSend removes the oldest command and hands it to send while still
// holding the lock, so a concurrent Push cannot interleave with the pop. The
// command is never requeued, whatever send returns. ok is false when the queue
// was empty.
func (q *Queue) PopAndSend(send func(sensor.Command) error) (cmd sensor.Command, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return sensor.Command{}, false, nil
	}
	cmd = q.items[0]
	q.items[0] = sensor.Command{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return cmd, true, send(cmd)
}
