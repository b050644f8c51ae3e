// Package gate provides a bounded-admission executor: at most maxConcurrent
// tasks run at once, the rest wait in strict FIFO order.
package gate

import (
	"context"
	"errors"
	"sync"

	"github.com/mailward/email-verifier/internal/metrics"
)

// ErrClosed is returned for acquisitions attempted after Close
var ErrClosed = errors.New("gate: closed")

// Gate caps concurrently in-flight operations of one kind. A slot is released
// exactly once per admitted task regardless of success, failure or timeout.
type Gate struct {
	mu      sync.Mutex
	max     int
	active  int
	waiters []*waiter // FIFO admission queue
	closed  bool
}

type waiter struct {
	ready chan struct{} // Closed when the slot is handed over
}

// New creates a gate admitting at most max concurrent tasks. max < 1 is
// treated as 1.
func New(max int) *Gate {
	if max < 1 {
		max = 1
	}
	return &Gate{max: max}
}

// Acquire blocks until a slot is available or the context is done. The queue
// is strict FIFO: earlier callers are admitted first.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if g.active < g.max && len(g.waiters) == 0 {
		g.active++
		g.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()
	metrics.GateQueued.Inc()
	defer metrics.GateQueued.Dec()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		// The slot may have been handed over while ctx fired; if so, pass it on.
		select {
		case <-w.ready:
			g.releaseLocked()
			g.mu.Unlock()
			return ctx.Err()
		default:
		}
		for i, queued := range g.waiters {
			if queued == w {
				g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
				break
			}
		}
		g.mu.Unlock()
		return ctx.Err()
	}
}

// Release returns a slot to the gate, admitting the oldest waiter if any
func (g *Gate) Release() {
	g.mu.Lock()
	g.releaseLocked()
	g.mu.Unlock()
}

func (g *Gate) releaseLocked() {
	if len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		close(w.ready) // Slot ownership moves to the waiter, active stays
		return
	}
	if g.active > 0 {
		g.active--
	}
}

// Do runs fn under an admitted slot. The slot is released when fn returns.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// Close rejects future acquisitions. Queued waiters still drain normally as
// in-flight tasks release their slots.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

// Active returns the number of tasks currently holding a slot
func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
