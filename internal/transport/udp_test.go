package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floorreg/internal/sensor"
)

// freePort returns a UDP port that was free a moment ago.
func freePort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return uint16(port)
}

func loopbackPeer(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func runLoopback(t *testing.T, a *Actor, port uint16) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, "127.0.0.1", port) }()
	require.Eventually(t, a.Listening, 2*time.Second, time.Millisecond)
	t.Cleanup(cancel)
	return cancel, done
}

func TestUDP_ReportFromPeerIsPublished(t *testing.T) {
	port := freePort(t)
	a := New(Config{ReceiveTimeout: 20 * time.Millisecond}, WithSocketFactory(UDPSocketFactory{TTL: 1}))
	defer a.Close()
	_, reports := a.Reports().Subscribe()

	runLoopback(t, a, port)

	peer := loopbackPeer(t)
	_, err := peer.WriteToUDP(
		[]byte(`{"name":"sensor-1","temperature":21.5,"sender_ip":"10.9.9.9"}`),
		&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(port)},
	)
	require.NoError(t, err)

	select {
	case r := <-reports:
		assert.Equal(t, "sensor-1", r.Identity)
		assert.Equal(t, 21.5, r.Temperature)
		assert.Equal(t, "127.0.0.1", r.SourceAddress)
	case <-time.After(3 * time.Second):
		t.Fatal("report not published")
	}
}

func TestUDP_QueuedCommandReachesPeer(t *testing.T) {
	port := freePort(t)
	a := New(Config{ReceiveTimeout: 20 * time.Millisecond})
	defer a.Close()
	runLoopback(t, a, port)

	peer := loopbackPeer(t)
	peerPort := uint16(peer.LocalAddr().(*net.UDPAddr).Port)
	a.Enqueue(sensor.NewCommand("127.0.0.1", peerPort, true))

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 256)
	n, from, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, sensor.OpenMessage, string(buf[:n]))
	assert.Equal(t, int(port), from.Port)
}

func TestUDP_RebindAfterCancel(t *testing.T) {
	port := freePort(t)
	a := New(Config{ReceiveTimeout: 20 * time.Millisecond})
	defer a.Close()

	cancel, done := runLoopback(t, a, port)
	cancel()
	require.NoError(t, <-done)
	require.False(t, a.Listening())

	// the port must be free again: a stale socket would make this fail
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: int(port)})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	cancel2, done2 := runLoopback(t, a, port)
	assert.Equal(t, int(port), a.LocalAddr().Port)
	cancel2()
	require.NoError(t, <-done2)
}
