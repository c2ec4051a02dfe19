package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aatumaykin/nexcron/internal/bus"
	"github.com/aatumaykin/nexcron/internal/jobs"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/registry"
	"github.com/aatumaykin/nexcron/internal/scheduler"
	"github.com/aatumaykin/nexcron/internal/trigger"
)

// Subscriber is the part of the event bus the snapshotter needs.
type Subscriber interface {
	Subscribe(buffer int, types ...bus.EventType) (<-chan bus.Event, func())
}

// JobSource lists the jobs to persist.
type JobSource interface {
	ListJobs() []jobs.Job
}

// Adder registers replayed jobs.
type Adder interface {
	AddJob(name string, ref registry.Ref, trig trigger.Descriptor, opts ...scheduler.JobOption) (jobs.ID, error)
}

// Resolver looks up callables by name.
type Resolver interface {
	Resolve(name string) (registry.Ref, error)
}

// Replay registers every record with the scheduler. Records that cannot be
// registered (unknown callable, elapsed at-trigger, bad schedule) are logged
// and skipped. It returns the number of jobs restored.
func Replay(records []Record, sched Adder, reg Resolver, now time.Time, log *logger.Logger) int {
	log = log.Component("persist")
	restored := 0

	for _, rec := range records {
		fields := []logger.Field{
			{Key: "job", Value: rec.Name},
			{Key: "schedule", Value: rec.Schedule},
		}

		trig, err := trigger.Parse(rec.Schedule)
		if err != nil {
			log.Warn("skipping persisted job with bad schedule", append(fields, logger.Field{Key: "error", Value: err.Error()})...)
			continue
		}
		if trig.Kind == trigger.KindAt && !trig.When.After(now) {
			log.Warn("skipping persisted one-shot job whose time has passed", fields...)
			continue
		}

		ref, err := reg.Resolve(rec.Callable)
		if err != nil {
			log.Warn("skipping persisted job with unknown callable", append(fields, logger.Field{Key: "callable", Value: rec.Callable})...)
			continue
		}

		var opts []scheduler.JobOption
		if rec.Timeout != "" {
			d, err := time.ParseDuration(rec.Timeout)
			if err != nil || d < 0 {
				log.Warn("ignoring bad persisted timeout", append(fields, logger.Field{Key: "timeout", Value: rec.Timeout})...)
			} else {
				opts = append(opts, scheduler.WithTimeout(d))
			}
		}
		if rec.Paused {
			opts = append(opts, scheduler.StartPaused())
		}

		if _, err := sched.AddJob(rec.Name, ref, trig, opts...); err != nil {
			log.Warn("skipping persisted job", append(fields, logger.Field{Key: "error", Value: err.Error()})...)
			continue
		}
		restored++
	}

	log.Info("persisted jobs restored",
		logger.Field{Key: "restored", Value: restored},
		logger.Field{Key: "total", Value: len(records)})
	return restored
}

// Snapshotter rewrites the snapshot whenever a job definition changes.
type Snapshotter struct {
	storage *Storage
	source  JobSource
	logger  *logger.Logger

	mu          sync.Mutex
	unsubscribe func()
	done        chan struct{}
}

// NewSnapshotter creates a Snapshotter.
func NewSnapshotter(storage *Storage, source JobSource, log *logger.Logger) *Snapshotter {
	return &Snapshotter{
		storage: storage,
		source:  source,
		logger:  log.Component("persist"),
	}
}

// Start subscribes to definition-changing events.
func (s *Snapshotter) Start(ctx context.Context, src Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return errors.New("snapshotter already started")
	}

	var types []bus.EventType
	for _, t := range bus.AllEventTypes {
		if t.Changes() {
			types = append(types, t)
		}
	}

	events, unsubscribe := src.Subscribe(128, types...)
	s.unsubscribe = unsubscribe
	s.done = make(chan struct{})
	go s.run(ctx, events, s.done)

	s.logger.Info("snapshotter started", logger.Field{Key: "file", Value: s.storage.Path()})
	return nil
}

// Stop unsubscribes and writes a final snapshot.
func (s *Snapshotter) Stop() error {
	s.mu.Lock()
	unsubscribe, done := s.unsubscribe, s.done
	s.unsubscribe, s.done = nil, nil
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	unsubscribe()
	<-done
	return s.Save()
}

// Save writes the current job set.
func (s *Snapshotter) Save() error {
	if err := s.storage.Save(FromJobs(s.source.ListJobs())); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *Snapshotter) run(ctx context.Context, events <-chan bus.Event, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			// collapse a burst into one write
			open := drain(events)
			if err := s.Save(); err != nil {
				s.logger.Error("failed to save snapshot", err)
			}
			if !open {
				return
			}
		}
	}
}

func drain(events <-chan bus.Event) bool {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}
