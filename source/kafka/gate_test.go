package kafka

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGate_BlocksAtCapacity(t *testing.T) {
	g := NewGate(2)
	ctx := context.Background()
	_ = g.Acquire(ctx)
	_ = g.Acquire(ctx)
	if g.InFlight() != 2 {
		t.Fatalf("in flight = %d, want 2", g.InFlight())
	}

	acquired := make(chan struct{})
	go func() {
		_ = g.Acquire(ctx)
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("acquire should block while full")
	case <-time.After(30 * time.Millisecond):
	}
	g.Release(1)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("release did not wake waiter")
	}
}

func TestGate_AcquireHonoursContext(t *testing.T) {
	g := NewGate(1)
	_ = g.Acquire(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestGate_Close(t *testing.T) {
	g := NewGate(1)
	_ = g.Acquire(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Acquire(context.Background()) }()
	g.Close()
	select {
	case err := <-done:
		if !errors.Is(err, ErrGateClosed) {
			t.Fatalf("want ErrGateClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not wake waiter")
	}
}

func TestGate_ReleaseCapped(t *testing.T) {
	g := NewGate(1)
	g.Release(5)
	if g.InFlight() != 0 {
		t.Fatalf("in flight = %d", g.InFlight())
	}
}
