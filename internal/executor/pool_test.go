package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/nexcron/internal/jobs"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/registry"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", Format: "text", Output: "discard"})
	require.NoError(t, err)
	return log
}

func refFor(t *testing.T, fn func(ctx context.Context) (string, error)) registry.Ref {
	t.Helper()
	r := registry.New()
	require.NoError(t, r.RegisterFunc("test", fn))
	ref, err := r.Resolve("test")
	require.NoError(t, err)
	return ref
}

// collector gathers completion callbacks.
type collector struct {
	mu       sync.Mutex
	outcomes map[jobs.ID]jobs.Outcome
	calls    map[jobs.ID]int
	order    []jobs.ID
	done     chan jobs.ID
}

func newCollector() *collector {
	return &collector{
		outcomes: make(map[jobs.ID]jobs.Outcome),
		calls:    make(map[jobs.ID]int),
		done:     make(chan jobs.ID, 100),
	}
}

func (c *collector) onDone(id jobs.ID, o jobs.Outcome) {
	c.mu.Lock()
	c.outcomes[id] = o
	c.calls[id]++
	c.order = append(c.order, id)
	c.mu.Unlock()
	c.done <- id
}

func (c *collector) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for completion %d of %d", i+1, n)
		}
	}
}

func (c *collector) outcome(id jobs.ID) jobs.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcomes[id]
}

func newPool(t *testing.T, size int) *Pool {
	t.Helper()
	p := New(Config{MaxConcurrent: size}, testLogger(t), nil)
	p.Start()
	t.Cleanup(func() {
		_ = p.Stop(context.Background())
	})
	return p
}

func TestPool_DefaultSize(t *testing.T) {
	p := New(Config{}, testLogger(t), nil)
	assert.Equal(t, DefaultMaxConcurrent, p.Size())
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	p := New(Config{MaxConcurrent: 1}, testLogger(t), nil)
	err := p.Submit(1, "x", registry.Ref{}, 0, nil)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestPool_Success(t *testing.T) {
	p := newPool(t, 2)
	c := newCollector()

	ref := refFor(t, func(ctx context.Context) (string, error) { return "hello", nil })
	require.NoError(t, p.Submit(1, "greet", ref, 0, c.onDone))
	c.wait(t, 1)

	o := c.outcome(1)
	assert.True(t, o.OK())
	assert.Equal(t, "hello", o.Output)
	assert.NotEmpty(t, o.RunID)
	assert.False(t, o.FinishedAt.Before(o.StartedAt))
}

func TestPool_ConcurrencyCeiling(t *testing.T) {
	const size = 2
	p := newPool(t, size)
	c := newCollector()

	var current, peak int32
	ref := refFor(t, func(ctx context.Context) (string, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return "", nil
	})

	for i := 1; i <= 8; i++ {
		require.NoError(t, p.Submit(jobs.ID(i), "busy", ref, 0, c.onDone))
	}
	c.wait(t, 8)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(size))
	assert.Equal(t, int32(size), atomic.LoadInt32(&peak))
	for i := 1; i <= 8; i++ {
		assert.Equal(t, 1, c.calls[jobs.ID(i)], "exactly one callback per submission")
	}
}

func TestPool_FIFO(t *testing.T) {
	p := newPool(t, 1)
	c := newCollector()
	ref := refFor(t, func(ctx context.Context) (string, error) { return "", nil })

	for i := 1; i <= 5; i++ {
		require.NoError(t, p.Submit(jobs.ID(i), "fifo", ref, 0, c.onDone))
	}
	c.wait(t, 5)
	assert.Equal(t, []jobs.ID{1, 2, 3, 4, 5}, c.order)
}

func TestPool_FailureKinds(t *testing.T) {
	p := newPool(t, 3)
	c := newCollector()

	failing := refFor(t, func(ctx context.Context) (string, error) {
		return "partial", errors.New("disk full")
	})
	panicking := refFor(t, func(ctx context.Context) (string, error) {
		panic("kaboom")
	})
	slow := refFor(t, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	require.NoError(t, p.Submit(1, "err", failing, 0, c.onDone))
	require.NoError(t, p.Submit(2, "panic", panicking, 0, c.onDone))
	require.NoError(t, p.Submit(3, "timeout", slow, 20*time.Millisecond, c.onDone))
	c.wait(t, 3)

	o := c.outcome(1)
	assert.Equal(t, jobs.FailureError, o.Failure)
	assert.Equal(t, "disk full", o.Reason)
	assert.Equal(t, "partial", o.Output)

	o = c.outcome(2)
	assert.Equal(t, jobs.FailurePanic, o.Failure)
	assert.Contains(t, o.Reason, "kaboom")

	o = c.outcome(3)
	assert.Equal(t, jobs.FailureTimeout, o.Failure)
	assert.GreaterOrEqual(t, o.Duration, 20*time.Millisecond)
}

func TestPool_TimeoutIgnoredByCallable(t *testing.T) {
	p := newPool(t, 1)
	c := newCollector()

	stubborn := refFor(t, func(ctx context.Context) (string, error) {
		time.Sleep(60 * time.Millisecond)
		return "late", nil
	})
	require.NoError(t, p.Submit(1, "stubborn", stubborn, 10*time.Millisecond, c.onDone))
	c.wait(t, 1)

	o := c.outcome(1)
	assert.Equal(t, jobs.FailureTimeout, o.Failure)
	assert.GreaterOrEqual(t, o.Duration, 60*time.Millisecond, "worker waits for the callable to return")
}

func TestPool_StopCancelsQueued(t *testing.T) {
	p := New(Config{MaxConcurrent: 1}, testLogger(t), nil)
	p.Start()
	c := newCollector()

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := refFor(t, func(ctx context.Context) (string, error) {
		close(started)
		<-release
		return "finished", nil
	})
	quick := refFor(t, func(ctx context.Context) (string, error) { return "", nil })

	require.NoError(t, p.Submit(1, "blocking", blocking, 0, c.onDone))
	<-started
	require.NoError(t, p.Submit(2, "queued", quick, 0, c.onDone))

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop(context.Background()) }()

	c.wait(t, 1)
	assert.Equal(t, jobs.FailureCanceled, c.outcome(2).Failure)

	close(release)
	c.wait(t, 1)
	assert.True(t, c.outcome(1).OK(), "in-flight run is not cancelled")
	require.NoError(t, <-stopped)

	assert.ErrorIs(t, p.Submit(3, "late", quick, 0, c.onDone), ErrStopped)
}

func TestPool_StopDeadlineCancelsRunning(t *testing.T) {
	p := New(Config{MaxConcurrent: 1}, testLogger(t), nil)
	p.Start()
	c := newCollector()

	started := make(chan struct{})
	waiting := refFor(t, func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	require.NoError(t, p.Submit(1, "waiting", waiting, 0, c.onDone))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.wait(t, 1)
	assert.Equal(t, jobs.FailureCanceled, c.outcome(1).Failure)
}

func TestPool_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	p := New(Config{MaxConcurrent: 2}, testLogger(t), m)
	p.Start()
	defer p.Stop(context.Background())
	c := newCollector()

	ok := refFor(t, func(ctx context.Context) (string, error) { return "", nil })
	bad := refFor(t, func(ctx context.Context) (string, error) { return "", errors.New("no") })

	require.NoError(t, p.Submit(1, "ok", ok, 0, c.onDone))
	require.NoError(t, p.Submit(2, "ok", ok, 0, c.onDone))
	require.NoError(t, p.Submit(3, "bad", bad, 0, c.onDone))
	c.wait(t, 3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.runsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runsTotal.WithLabelValues("error")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.queued))
}

func TestPool_CallbackPanicDoesNotKillWorker(t *testing.T) {
	p := newPool(t, 1)
	c := newCollector()
	ref := refFor(t, func(ctx context.Context) (string, error) { return "", nil })

	require.NoError(t, p.Submit(1, "x", ref, 0, func(jobs.ID, jobs.Outcome) { panic("callback") }))
	require.NoError(t, p.Submit(2, "y", ref, 0, c.onDone))
	c.wait(t, 1)
	assert.True(t, c.outcome(2).OK())
}
