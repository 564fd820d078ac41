package kafka

import (
	"context"
	"errors"
	"sync"
)

var ErrGateClosed = errors.New("kafka: gate closed")

// Gate bounds how many records are being handled at once across all claimed
// partitions. Tokens come back only through Release.
type Gate struct {
	capacity int64

	mu     sync.Mutex
	tokens int64
	cond   *sync.Cond
	closed bool
}

func NewGate(capacity int64) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	g := &Gate{capacity: capacity, tokens: capacity}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Acquire blocks until a token is free, ctx is done or the gate is closed.
func (g *Gate) Acquire(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()
	for g.tokens == 0 && !g.closed && ctx.Err() == nil {
		g.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.closed {
		return ErrGateClosed
	}
	g.tokens--
	return nil
}

func (g *Gate) Release(n int64) {
	g.mu.Lock()
	g.tokens += n
	if g.tokens > g.capacity {
		g.tokens = g.capacity
	}
	g.mu.Unlock()
	g.cond.Broadcast()
}

// InFlight is the number of tokens currently held.
func (g *Gate) InFlight() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capacity - g.tokens
}

func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cond.Broadcast()
}
