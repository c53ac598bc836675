package testutil

import (
	"context"
	"sync"
)

// Barrier releases every waiter once n parties have arrived. It replaces the
// latch-style rendezvous used to line up concurrent workers in stress tests.
type Barrier struct {
	mu        sync.Mutex
	remaining int
	released  chan struct{}
}

// NewBarrier creates a barrier for n parties. n <= 0 yields an open barrier.
func NewBarrier(n int) *Barrier {
	b := &Barrier{remaining: n, released: make(chan struct{})}
	if n <= 0 {
		close(b.released)
	}
	return b
}

// Arrive records one party. Extra arrivals after release are ignored.
func (b *Barrier) Arrive() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return
	}
	b.remaining--
	if b.remaining == 0 {
		close(b.released)
	}
}

// Wait blocks until the barrier is released or ctx is done.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ArriveAndWait is Arrive followed by Wait.
func (b *Barrier) ArriveAndWait(ctx context.Context) error {
	b.Arrive()
	return b.Wait(ctx)
}
