package transport

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

// Socket is the subset of *net.UDPConn the actor needs. It lets tests drive
// the loop without a real network.
type Socket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// SocketFactory creates bound sockets.
type SocketFactory interface {
	ListenUDP(laddr *net.UDPAddr) (Socket, error)
}

// UDPSocketFactory binds real IPv4 UDP sockets. The Go runtime enables
// SO_BROADCAST on every datagram socket, so the result can send to subnet
// broadcast addresses directly.
type UDPSocketFactory struct {
	// TTL sets the unicast IP TTL when non-zero.
	TTL int
	// ReadBuffer sets the kernel receive buffer when non-zero.
	ReadBuffer int
}

// ListenUDP binds laddr.
func (f UDPSocketFactory) ListenUDP(laddr *net.UDPAddr) (Socket, error) {
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("listening on UDP %s: %w", laddr, err)
	}

	if f.TTL > 0 {
		if err := ipv4.NewPacketConn(conn).SetTTL(f.TTL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting TTL %d: %w", f.TTL, err)
		}
	}
	if f.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(f.ReadBuffer); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting read buffer: %w", err)
		}
	}
	return conn, nil
}
