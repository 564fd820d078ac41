package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func startBuf(t *testing.T) (*Server, *Client) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := newServer(lis)
	go func() { _ = s.Serve() }()

	c, err := dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return s, c
}

func TestHealth_ServingThenShutdown(t *testing.T) {
	s, c := startBuf(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := c.Serving(ctx)
	if err != nil || !ok {
		t.Fatalf("want SERVING, got ok=%v err=%v", ok, err)
	}

	s.SetServing(false)
	ok, err = c.Serving(ctx)
	if err != nil || ok {
		t.Fatalf("want NOT_SERVING, got ok=%v err=%v", ok, err)
	}
	s.Stop()
}
