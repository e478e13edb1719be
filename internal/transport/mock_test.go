package transport

import (
	"net"
	"sync"
	"time"
)

type mockPacket struct {
	data []byte
	addr *net.UDPAddr
}

type mockWrite struct {
	data string
	addr string
}

// mockSocket is an in-memory Socket. Reads block until a packet is injected
// or the read deadline passes.
type mockSocket struct {
	mu        sync.Mutex
	inbound   chan mockPacket
	writes    []mockWrite
	attempts  int
	failWrite error
	closed    bool
	deadline  time.Time
	local     *net.UDPAddr
}

func newMockSocket(local *net.UDPAddr) *mockSocket {
	return &mockSocket{
		inbound: make(chan mockPacket, 64),
		local:   local,
	}
}

func (m *mockSocket) inject(data string, from string) {
	m.inbound <- mockPacket{data: []byte(data), addr: mustUDPAddr(from)}
}

func (m *mockSocket) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, nil, net.ErrClosed
	}
	wait := time.Until(m.deadline)
	m.mu.Unlock()

	if wait <= 0 {
		wait = time.Millisecond
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case p := <-m.inbound:
		return copy(b, p.data), p.addr, nil
	case <-timer.C:
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: timeoutError{}}
	}
}

func (m *mockSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.closed {
		return 0, net.ErrClosed
	}
	if m.failWrite != nil {
		return 0, m.failWrite
	}
	m.writes = append(m.writes, mockWrite{data: string(b), addr: addr.String()})
	return len(b), nil
}

func (m *mockSocket) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return net.ErrClosed
	}
	m.deadline = t
	return nil
}

func (m *mockSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return net.ErrClosed
	}
	m.closed = true
	return nil
}

func (m *mockSocket) LocalAddr() net.Addr {
	return m.local
}

func (m *mockSocket) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockSocket) sent() []mockWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockWrite(nil), m.writes...)
}

func (m *mockSocket) writeAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *mockSocket) setFailWrite(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = err
}

// mockFactory hands out a fresh mockSocket per bind.
type mockFactory struct {
	mu      sync.Mutex
	err     error
	sockets []*mockSocket
}

func (f *mockFactory) ListenUDP(laddr *net.UDPAddr) (Socket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := newMockSocket(laddr)
	f.sockets = append(f.sockets, s)
	return s, nil
}

func (f *mockFactory) binds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sockets)
}

func (f *mockFactory) last() *mockSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sockets) == 0 {
		return nil
	}
	return f.sockets[len(f.sockets)-1]
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func mustUDPAddr(s string) *net.UDPAddr {
	addr, err := net.ResolveUDPAddr("udp4", s)
	if err != nil {
		panic(err)
	}
	return addr
}
