package node

import (
	"context"
	"net"
	"testing"
	"time"

	"floorreg/internal/transport"
)

func freeUDPPort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return uint16(port)
}

func TestStartTransport_DoneAfterSocketDisposed(t *testing.T) {
	actor := transport.New(transport.Config{
		BindAddress:    "127.0.0.1",
		ReceiveTimeout: 20 * time.Millisecond,
	})
	defer actor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	done := startTransport(ctx, actor, "127.0.0.1", freeUDPPort(t), errCh)

	deadline := time.Now().Add(2 * time.Second)
	for !actor.Listening() {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("transport never started listening")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not stop after cancel")
	}

	if actor.Listening() {
		t.Error("socket should be disposed once done is closed")
	}
	select {
	case err := <-errCh:
		t.Errorf("unexpected transport error: %v", err)
	default:
	}
}
