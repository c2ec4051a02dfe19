// Package scheduler runs the control loop that turns job triggers into
// executions. It owns every lifecycle transition of the jobs it manages:
// a single mutex serializes the loop, completion callbacks and API calls.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aatumaykin/nexcron/internal/bus"
	"github.com/aatumaykin/nexcron/internal/executor"
	"github.com/aatumaykin/nexcron/internal/jobs"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/registry"
	"github.com/aatumaykin/nexcron/internal/trigger"
)

// ErrCorruptState aborts the loop when the job store breaks an invariant.
var ErrCorruptState = errors.New("scheduler state corrupt")

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Submitter hands a job to an execution backend. onDone must be called
// exactly once and never from inside Submit.
type Submitter interface {
	Submit(jobID jobs.ID, name string, ref registry.Ref, timeout time.Duration, onDone executor.DoneFunc) error
}

// Publisher receives lifecycle events. Implementations must not block.
type Publisher interface {
	Publish(ev bus.Event) error
}

// Config holds scheduler tunables.
type Config struct {
	// MaxConsecutiveFailures halts a job in FailedTerminal once reached. 0 disables it.
	MaxConsecutiveFailures int
	// DefaultTimeout applies to jobs registered without their own timeout. 0 means none.
	DefaultTimeout time.Duration
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Scheduler) { s.events = p }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler is the control loop plus the public job API.
type Scheduler struct {
	cfg     Config
	store   *jobs.Store
	engine  *trigger.Engine
	exec    Submitter
	events  Publisher
	metrics *Metrics
	clock   Clock
	logger  *logger.Logger

	// mu serializes every status / next_run / last_run mutation.
	mu     sync.Mutex
	wakeCh chan struct{}

	// runMu guards the loop lifecycle fields below.
	runMu    sync.Mutex
	running  bool
	stopCh   chan struct{}
	loopDone chan struct{}
	err      error
	failed   chan struct{}
}

// New creates a scheduler. The loop does not run until Start.
func New(store *jobs.Store, engine *trigger.Engine, exec Submitter, log *logger.Logger, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		store:  store,
		engine: engine,
		exec:   exec,
		clock:  realClock{},
		logger: log.Component("scheduler"),
		wakeCh: make(chan struct{}, 1),
		failed: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start launches the control loop. Calling Start on a running scheduler is a
// no-op. A scheduler stopped by Stop can be started again; one that aborted
// on corrupt state cannot. When a previous Stop gave up waiting, Start waits
// for that loop to exit so two loops never overlap.
func (s *Scheduler) Start() error {
	s.runMu.Lock()
	if prev := s.loopDone; !s.running && prev != nil {
		s.runMu.Unlock()
		<-prev
		s.runMu.Lock()
	}
	defer s.runMu.Unlock()

	if s.err != nil {
		return s.err
	}
	if s.running {
		return nil
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.loop(s.stopCh, s.loopDone)

	s.metrics.setLoopRunning(true)
	s.logger.Info("scheduler started", logger.Field{Key: "jobs", Value: s.store.Len()})
	return nil
}

// Stop signals the loop and waits for it to return. Executions already
// handed to the executor keep running and still report their completion.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done := s.loopDone
	s.runMu.Unlock()

	s.metrics.setLoopRunning(false)

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// Failed is closed when the loop aborts on corrupt state.
func (s *Scheduler) Failed() <-chan struct{} {
	return s.failed
}

// Err returns the fatal error that aborted the loop, if any.
func (s *Scheduler) Err() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.err
}

// Location returns the zone cron triggers are evaluated in.
func (s *Scheduler) Location() *time.Location {
	return s.engine.Location()
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		batch, wait, err := s.tick()
		s.dispatch(batch)

		if err != nil {
			s.abort(err)
			return
		}

		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		if wait >= 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wakeCh:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (s *Scheduler) abort(err error) {
	s.runMu.Lock()
	s.err = err
	s.running = false
	s.runMu.Unlock()

	s.metrics.setLoopRunning(false)
	close(s.failed)
	s.logger.Error("scheduler loop aborted", err)
}

// tick marks every due scheduled job Running and returns them for dispatch,
// along with how long to sleep before the next due time (-1: nothing scheduled).
func (s *Scheduler) tick() ([]jobs.Job, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	var batch []jobs.Job
	for _, due := range s.store.DueBefore(now) {
		if due.Status != jobs.StatusScheduled {
			continue
		}
		lateness := now.Sub(*due.NextRun)
		s.store.Update(due.ID, func(j *jobs.Job) {
			j.Status = jobs.StatusRunning
			j.StatusBeforeRun = jobs.StatusScheduled
			j.ManualRun = false
		})
		s.metrics.recordDispatch(lateness)
		due.Status = jobs.StatusRunning
		batch = append(batch, due)
	}
	if len(batch) > 0 {
		s.metrics.setJobs(s.store.CountByStatus())
	}

	earliest, ok, err := s.store.Earliest()
	if err != nil {
		return batch, 0, errors.Join(ErrCorruptState, err)
	}
	if !ok {
		return batch, -1, nil
	}
	wait := earliest.Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}
	return batch, wait, nil
}

// dispatch submits jobs outside the state lock. A rejected submission is fed
// back through the completion path as a cancelled run.
func (s *Scheduler) dispatch(batch []jobs.Job) {
	for _, j := range batch {
		s.submit(j)
	}
}

func (s *Scheduler) submit(j jobs.Job) {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	s.logger.Debug("dispatching job",
		logger.Field{Key: "job_id", Value: j.ID},
		logger.Field{Key: "job", Value: j.Name},
		logger.Field{Key: "manual", Value: j.ManualRun})

	s.publish(bus.Event{Type: bus.EventJobStarted, JobID: j.ID, JobName: j.Name, Callable: j.Ref.Name(), Status: jobs.StatusRunning})

	if err := s.exec.Submit(j.ID, j.Name, j.Ref, timeout, s.onDone); err != nil {
		s.logger.Error("failed to submit job", err, logger.Field{Key: "job_id", Value: j.ID})
		s.onDone(j.ID, jobs.Failure(jobs.FailureCanceled, err.Error()))
	}
}

func (s *Scheduler) publish(ev bus.Event) {
	if s.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.clock.Now()
	}
	if err := s.events.Publish(ev); err != nil {
		s.logger.Debug("event not published",
			logger.Field{Key: "type", Value: ev.Type},
			logger.Field{Key: "reason", Value: err.Error()})
	}
}
