// Package executor runs job callables on a bounded pool of workers.
// At most MaxConcurrent callables execute at any moment; extra submissions
// wait in an unbounded FIFO queue. Every submission gets exactly one
// completion callback.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aatumaykin/nexcron/internal/jobs"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/registry"
)

// DefaultMaxConcurrent is the ceiling used when none is configured.
const DefaultMaxConcurrent = 3

var (
	ErrStopped    = errors.New("executor stopped")
	ErrNotStarted = errors.New("executor not started")
)

// DoneFunc receives the outcome of a submission. It is called exactly once,
// from a worker goroutine or from Stop.
type DoneFunc func(jobID jobs.ID, outcome jobs.Outcome)

// Config controls pool size.
type Config struct {
	MaxConcurrent int
}

type submission struct {
	jobID    jobs.ID
	name     string
	ref      registry.Ref
	timeout  time.Duration
	onDone   DoneFunc
	enqueued time.Time
}

// Pool is the bounded worker pool.
type Pool struct {
	size    int
	logger  *logger.Logger
	metrics *Metrics

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []submission
	running  int
	started  bool
	stopping bool
	wg       sync.WaitGroup

	// runCtx is the parent of every invocation context. It is cancelled only
	// when Stop runs out of time.
	runCtx    context.Context
	runCancel context.CancelFunc
}

// New creates a pool. metrics may be nil.
func New(cfg Config, log *logger.Logger, metrics *Metrics) *Pool {
	size := cfg.MaxConcurrent
	if size <= 0 {
		size = DefaultMaxConcurrent
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	p := &Pool{
		size:      size,
		logger:    log.Component("executor"),
		metrics:   metrics,
		runCtx:    runCtx,
		runCancel: runCancel,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopping {
		return
	}
	p.started = true

	p.logger.Info("starting executor", logger.Field{Key: "workers", Value: p.size})
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit queues one invocation and returns immediately. timeout <= 0 means
// no deadline.
func (p *Pool) Submit(jobID jobs.ID, name string, ref registry.Ref, timeout time.Duration, onDone DoneFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopping {
		return ErrStopped
	}
	if !p.started {
		return ErrNotStarted
	}

	p.queue = append(p.queue, submission{
		jobID:    jobID,
		name:     name,
		ref:      ref,
		timeout:  timeout,
		onDone:   onDone,
		enqueued: time.Now(),
	})
	p.metrics.setQueued(len(p.queue))
	p.cond.Signal()

	p.logger.Debug("job submitted",
		logger.Field{Key: "job_id", Value: jobID},
		logger.Field{Key: "queued", Value: len(p.queue)})
	return nil
}

// Stop stops accepting work and reports queued submissions as cancelled.
// In-flight invocations are left to finish. If ctx expires first, their
// contexts are cancelled and ctx.Err() is returned once they have returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	pending := p.queue
	p.queue = nil
	p.metrics.setQueued(0)
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, sub := range pending {
		outcome := jobs.Failure(jobs.FailureCanceled, "executor stopped before start")
		p.complete(sub, outcome)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("stop deadline reached, cancelling running jobs",
			logger.Field{Key: "running", Value: p.Running()})
		p.runCancel()
		<-done
		err = ctx.Err()
	}
	p.runCancel()

	p.logger.Info("executor stopped", logger.Field{Key: "dropped", Value: len(pending)})
	return err
}

// Size returns the concurrency ceiling.
func (p *Pool) Size() int {
	return p.size
}

// Running returns how many callables are executing now.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Queued returns how many submissions wait for a worker.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopping {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			p.logger.Debug("worker stopping", logger.Field{Key: "worker_id", Value: id})
			return
		}
		sub := p.queue[0]
		p.queue[0] = submission{}
		p.queue = p.queue[1:]
		p.running++
		p.metrics.setQueued(len(p.queue))
		p.metrics.setRunning(p.running)
		p.mu.Unlock()

		outcome := p.execute(id, sub)

		p.mu.Lock()
		p.running--
		p.metrics.setRunning(p.running)
		p.mu.Unlock()

		p.complete(sub, outcome)
	}
}

func (p *Pool) complete(sub submission, outcome jobs.Outcome) {
	p.metrics.recordRun(outcome)

	if sub.onDone == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("completion callback panicked", errors.New("callback panic"),
				logger.Field{Key: "job_id", Value: sub.jobID},
				logger.Field{Key: "panic", Value: r})
		}
	}()
	sub.onDone(sub.jobID, outcome)
}
