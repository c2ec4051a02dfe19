package scheduler

import (
	"fmt"
	"time"

	"github.com/aatumaykin/nexcron/internal/bus"
	"github.com/aatumaykin/nexcron/internal/jobs"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/registry"
	"github.com/aatumaykin/nexcron/internal/trigger"
)

// JobOption tweaks a job at registration.
type JobOption func(*jobs.Job)

// WithTimeout sets a per-job execution deadline.
func WithTimeout(d time.Duration) JobOption {
	return func(j *jobs.Job) { j.Timeout = d }
}

// StartPaused registers the job in Paused state.
func StartPaused() JobOption {
	return func(j *jobs.Job) { j.Status = jobs.StatusPaused }
}

// WithOrigin tags the job with its source, e.g. jobs.OriginFile.
func WithOrigin(origin string) JobOption {
	return func(j *jobs.Job) { j.Origin = origin }
}

// AddJob registers a job and returns its id. The trigger must yield a fire
// time after now, otherwise trigger.ErrInvalidTrigger is returned. Interval
// triggers without an anchor are anchored at registration time.
func (s *Scheduler) AddJob(name string, ref registry.Ref, trig trigger.Descriptor, opts ...JobOption) (jobs.ID, error) {
	if !ref.Valid() {
		return 0, fmt.Errorf("%w: job %q has no callable", registry.ErrNotRegistered, name)
	}
	if err := s.engine.Validate(trig); err != nil {
		return 0, err
	}

	s.mu.Lock()

	now := s.clock.Now()
	if trig.Kind == trigger.KindInterval && trig.Anchor.IsZero() {
		trig.Anchor = now
	}
	next, ok, err := s.engine.NextFire(trig, now)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s never fires after %s", trigger.ErrInvalidTrigger, trig, now.Format(time.RFC3339))
	}

	job := jobs.Job{
		Name:      jobs.NormalizeName(name),
		Ref:       ref,
		Trigger:   trig,
		Status:    jobs.StatusScheduled,
		CreatedAt: now,
		Origin:    jobs.OriginAPI,
	}
	for _, opt := range opts {
		opt(&job)
	}
	if job.Status == jobs.StatusPaused {
		job.NextRun = nil
	} else {
		job.Status = jobs.StatusScheduled
		job.NextRun = jobs.TimePtr(next)
	}

	stored := s.store.Insert(job)
	s.metrics.setJobs(s.store.CountByStatus())
	s.mu.Unlock()

	s.logger.Info("job added",
		logger.Field{Key: "job_id", Value: stored.ID},
		logger.Field{Key: "job", Value: stored.Name},
		logger.Field{Key: "trigger", Value: trig.String()},
		logger.Field{Key: "next_run", Value: stored.NextRun})

	s.publish(eventFor(bus.EventJobAdded, stored))
	if stored.Status == jobs.StatusPaused {
		s.publish(eventFor(bus.EventJobPaused, stored))
	}
	s.wake()
	return stored.ID, nil
}

// RemoveJob deletes a job. A running invocation finishes but its completion
// is ignored. Returns false for unknown ids.
func (s *Scheduler) RemoveJob(id jobs.ID) bool {
	s.mu.Lock()
	job, ok := s.store.Get(id)
	if ok {
		s.store.Remove(id)
		s.metrics.setJobs(s.store.CountByStatus())
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	s.logger.Info("job removed", logger.Field{Key: "job_id", Value: id}, logger.Field{Key: "job", Value: job.Name})
	s.publish(eventFor(bus.EventJobRemoved, job))
	s.wake()
	return true
}

// Pause stops future dispatches of a job. A running job is paused when its
// current run completes. Unknown ids and jobs already paused or terminal are
// left alone; the result reports whether the id is known.
func (s *Scheduler) Pause(id jobs.ID) bool {
	s.mu.Lock()
	job, ok := s.store.Get(id)
	if !ok {
		s.mu.Unlock()
		return false
	}

	changed := false
	switch job.Status {
	case jobs.StatusScheduled:
		s.store.Update(id, func(j *jobs.Job) {
			j.Status = jobs.StatusPaused
			j.NextRun = nil
		})
		changed = true
	case jobs.StatusRunning:
		s.store.Update(id, func(j *jobs.Job) { j.PauseRequested = true })
	}
	job, _ = s.store.Get(id)
	s.metrics.setJobs(s.store.CountByStatus())
	s.mu.Unlock()

	if changed {
		s.logger.Info("job paused", logger.Field{Key: "job_id", Value: id})
		s.publish(eventFor(bus.EventJobPaused, job))
		s.wake()
	}
	return true
}

// Resume reschedules a paused job from the current time. A one-shot job whose
// time has passed gets a single catch-up run now. Resuming a FailedTerminal
// job resets its failure counter. A pending pause on a running job is
// withdrawn. The result reports whether the id is known.
func (s *Scheduler) Resume(id jobs.ID) bool {
	s.mu.Lock()
	job, ok := s.store.Get(id)
	if !ok {
		s.mu.Unlock()
		return false
	}

	changed := false
	switch job.Status {
	case jobs.StatusPaused, jobs.StatusFailedTerminal:
		now := s.clock.Now()
		next, ok, err := s.engine.NextFire(job.Trigger, now)
		if err != nil {
			s.logger.Error("failed to compute next run on resume", err, logger.Field{Key: "job_id", Value: id})
		}
		if err != nil || !ok {
			// elapsed one-shot, or a cron that can no longer match
			next = now
		}
		s.store.Update(id, func(j *jobs.Job) {
			j.Status = jobs.StatusScheduled
			j.NextRun = jobs.TimePtr(next)
			j.ConsecutiveFailures = 0
		})
		changed = true
	case jobs.StatusRunning:
		s.store.Update(id, func(j *jobs.Job) {
			j.PauseRequested = false
			if j.ManualRun && (j.StatusBeforeRun == jobs.StatusPaused || j.StatusBeforeRun == jobs.StatusFailedTerminal) {
				// next_run is computed when the manual run completes
				j.StatusBeforeRun = jobs.StatusScheduled
				j.NextRun = nil
				j.ConsecutiveFailures = 0
				changed = true
			}
		})
	}
	job, _ = s.store.Get(id)
	s.metrics.setJobs(s.store.CountByStatus())
	s.mu.Unlock()

	if changed {
		s.logger.Info("job resumed",
			logger.Field{Key: "job_id", Value: id},
			logger.Field{Key: "next_run", Value: job.NextRun})
		s.publish(eventFor(bus.EventJobResumed, job))
		s.wake()
	}
	return true
}

// RunNow dispatches a job immediately without touching its regular schedule.
// When the run completes the job returns to the status it had before.
// It reports false for unknown ids and jobs that are already running.
func (s *Scheduler) RunNow(id jobs.ID) bool {
	s.mu.Lock()
	job, ok := s.store.Get(id)
	if !ok || job.Status == jobs.StatusRunning {
		s.mu.Unlock()
		return false
	}

	prev := job.Status
	s.store.Update(id, func(j *jobs.Job) {
		j.Status = jobs.StatusRunning
		j.StatusBeforeRun = prev
		j.ManualRun = true
	})
	job, _ = s.store.Get(id)
	s.metrics.setJobs(s.store.CountByStatus())
	s.mu.Unlock()

	s.logger.Info("manual run requested", logger.Field{Key: "job_id", Value: id})
	s.submit(job)
	return true
}

// ListJobs returns copies of every job ordered by id.
func (s *Scheduler) ListJobs() []jobs.Job {
	return s.store.All()
}

// GetJob returns a copy of one job.
func (s *Scheduler) GetJob(id jobs.ID) (jobs.Job, bool) {
	return s.store.Get(id)
}

func eventFor(t bus.EventType, j jobs.Job) bus.Event {
	return bus.Event{
		Type:     t,
		JobID:    j.ID,
		JobName:  j.Name,
		Callable: j.Ref.Name(),
		Status:   j.Status,
		Failures: j.ConsecutiveFailures,
		NextRun:  j.NextRun,
	}
}
