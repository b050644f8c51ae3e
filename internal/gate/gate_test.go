package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyNeverExceedsMax(t *testing.T) {
	const max = 3
	const tasks = 50

	g := New(max)
	var active, peak, completed atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func() error {
				now := active.Add(1)
				for {
					p := peak.Load()
					if now <= p || peak.CompareAndSwap(p, now) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				completed.Add(1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(tasks), completed.Load(), "every task must run")
	assert.LessOrEqual(t, peak.Load(), int64(max), "concurrency cap violated")
	assert.Equal(t, 0, g.Active())
}

func TestAcquireReleaseDirect(t *testing.T) {
	g := New(1)

	require.NoError(t, g.Acquire(context.Background()))
	assert.Equal(t, 1, g.Active())

	g.Release()
	assert.Equal(t, 0, g.Active())
}

func TestFIFOOrder(t *testing.T) {
	g := New(1)
	require.NoError(t, g.Acquire(context.Background()))

	const waiters = 5
	var mu sync.Mutex
	var order []int
	started := make(chan struct{}, waiters)
	var wg sync.WaitGroup

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			started <- struct{}{}
			require.NoError(t, g.Acquire(context.Background()))
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			g.Release()
		}(i)
		<-started
		// Queue each waiter before launching the next so arrival order is known
		waitForQueued(t, g, i+1)
	}

	g.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order, "waiters must be admitted in arrival order")
}

// waitForQueued polls until n waiters are queued behind the gate
func waitForQueued(t *testing.T, g *Gate, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		queued := len(g.waiters)
		g.mu.Unlock()
		if queued >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d queued waiters", n)
}

func TestContextCancellation(t *testing.T) {
	g := New(1)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The held slot is unaffected and can still be released and reused
	g.Release()
	require.NoError(t, g.Acquire(context.Background()))
	g.Release()
}

func TestCancelledWaiterDoesNotLeakSlot(t *testing.T) {
	g := New(1)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Acquire(ctx) }()
	waitForQueued(t, g, 1)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	g.Release()
	// If the cancelled waiter had swallowed the slot this would hang
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, g.Acquire(ctx2))
}

func TestDoReleasesOnError(t *testing.T) {
	g := New(1)
	sentinel := assert.AnError

	err := g.Do(context.Background(), func() error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 0, g.Active())
}

func TestCloseRejectsNewAcquires(t *testing.T) {
	g := New(2)
	require.NoError(t, g.Acquire(context.Background()))

	g.Close()
	assert.ErrorIs(t, g.Acquire(context.Background()), ErrClosed)

	// In-flight work is unaffected
	g.Release()
	assert.Equal(t, 0, g.Active())
}

func TestMaxBelowOneIsClampedToOne(t *testing.T) {
	g := New(0)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, g.Acquire(ctx), "second acquire must block on a single slot")
	g.Release()
}
