package scheduler

import (
	"time"

	"github.com/aatumaykin/nexcron/internal/bus"
	"github.com/aatumaykin/nexcron/internal/jobs"
	"github.com/aatumaykin/nexcron/internal/logger"
)

// onDone is the executor callback. It is the only way out of Running.
func (s *Scheduler) onDone(id jobs.ID, outcome jobs.Outcome) {
	s.mu.Lock()
	job, ok := s.store.Get(id)
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("completion for removed job ignored", logger.Field{Key: "job_id", Value: id})
		return
	}
	if job.Status != jobs.StatusRunning {
		s.mu.Unlock()
		s.logger.Warn("completion for job that is not running",
			logger.Field{Key: "job_id", Value: id},
			logger.Field{Key: "status", Value: job.Status})
		return
	}

	now := s.clock.Now()
	notStarted := outcome.Failure == jobs.FailureCanceled && outcome.StartedAt.IsZero()

	var events []bus.EventType
	s.store.Update(id, func(j *jobs.Job) {
		if notStarted {
			events = s.restoreUnstarted(j, now)
		} else {
			events = s.applyOutcome(j, outcome, now)
		}
		j.ManualRun = false
		j.PauseRequested = false
		j.StatusBeforeRun = ""
	})
	job, _ = s.store.Get(id)
	s.metrics.setJobs(s.store.CountByStatus())
	s.mu.Unlock()

	if !notStarted {
		s.metrics.recordCompletion(outcome)
	}
	s.logCompletion(job, outcome, notStarted)

	for _, t := range events {
		ev := eventFor(t, job)
		ev.RunID = outcome.RunID
		if !outcome.OK() {
			ev.Reason = outcome.String()
		}
		s.publish(ev)
	}
	s.wake()
}

// applyOutcome records a finished run and decides the next status.
// Called with s.mu held.
func (s *Scheduler) applyOutcome(j *jobs.Job, outcome jobs.Outcome, now time.Time) []bus.EventType {
	var events []bus.EventType

	lastRun := outcome.StartedAt
	if lastRun.IsZero() {
		lastRun = now
	}
	j.LastRun = jobs.TimePtr(lastRun)
	o := outcome
	j.LastOutcome = &o

	switch {
	case outcome.OK():
		j.ConsecutiveFailures = 0
		events = append(events, bus.EventJobSucceeded)
	case outcome.Failure == jobs.FailureCanceled:
		// interrupted by shutdown, not held against the job
		events = append(events, bus.EventJobFailed)
	default:
		j.ConsecutiveFailures++
		events = append(events, bus.EventJobFailed)
	}

	if s.cfg.MaxConsecutiveFailures > 0 && j.ConsecutiveFailures >= s.cfg.MaxConsecutiveFailures {
		j.Status = jobs.StatusFailedTerminal
		j.NextRun = nil
		return append(events, bus.EventJobFailedTerminal)
	}

	if j.ManualRun {
		j.Status = j.StatusBeforeRun
		if j.PauseRequested && j.Status == jobs.StatusScheduled {
			j.Status = jobs.StatusPaused
			j.NextRun = nil
			return append(events, bus.EventJobPaused)
		}
		if j.Status == jobs.StatusScheduled && j.NextRun == nil {
			// resumed while the manual run was in flight
			next, ok, err := s.engine.NextFire(j.Trigger, now)
			if err != nil {
				s.logger.Error("failed to compute next run", err, logger.Field{Key: "job_id", Value: j.ID})
			}
			if err != nil || !ok {
				j.Status = jobs.StatusDone
				return append(events, bus.EventJobDone)
			}
			j.NextRun = jobs.TimePtr(next)
		}
		return events
	}

	if j.Trigger.OneShot() {
		j.Status = jobs.StatusDone
		j.NextRun = nil
		return append(events, bus.EventJobDone)
	}

	if j.PauseRequested {
		j.Status = jobs.StatusPaused
		j.NextRun = nil
		return append(events, bus.EventJobPaused)
	}

	next, ok, err := s.engine.NextFire(j.Trigger, now)
	if err != nil || !ok {
		if err != nil {
			s.logger.Error("failed to compute next run", err, logger.Field{Key: "job_id", Value: j.ID})
		}
		j.Status = jobs.StatusDone
		j.NextRun = nil
		return append(events, bus.EventJobDone)
	}

	j.Status = jobs.StatusScheduled
	j.NextRun = jobs.TimePtr(next)
	return events
}

// restoreUnstarted undoes a dispatch whose run never began (executor
// rejected or dropped it). Called with s.mu held.
func (s *Scheduler) restoreUnstarted(j *jobs.Job, now time.Time) []bus.EventType {
	if j.ManualRun {
		j.Status = j.StatusBeforeRun
		if j.Status == jobs.StatusScheduled && j.NextRun == nil {
			next, ok, err := s.engine.NextFire(j.Trigger, now)
			if err != nil || !ok {
				next = now
			}
			j.NextRun = jobs.TimePtr(next)
		}
		return nil
	}

	if j.PauseRequested || j.Trigger.OneShot() {
		// A one-shot stays resumable instead of being retried in a tight loop.
		j.Status = jobs.StatusPaused
		j.NextRun = nil
		return []bus.EventType{bus.EventJobPaused}
	}

	next, ok, err := s.engine.NextFire(j.Trigger, now)
	if err != nil || !ok {
		j.Status = jobs.StatusPaused
		j.NextRun = nil
		return []bus.EventType{bus.EventJobPaused}
	}
	j.Status = jobs.StatusScheduled
	j.NextRun = jobs.TimePtr(next)
	return nil
}

func (s *Scheduler) logCompletion(j jobs.Job, outcome jobs.Outcome, notStarted bool) {
	fields := []logger.Field{
		{Key: "job_id", Value: j.ID},
		{Key: "job", Value: j.Name},
		{Key: "status", Value: j.Status},
		{Key: "next_run", Value: j.NextRun},
	}

	switch {
	case notStarted:
		s.logger.Warn("job run was not started", append(fields, logger.Field{Key: "reason", Value: outcome.Reason})...)
	case outcome.OK():
		s.logger.Info("job succeeded", append(fields, logger.Field{Key: "duration_ms", Value: outcome.Duration.Milliseconds()})...)
	case j.Status == jobs.StatusFailedTerminal:
		s.logger.Error("job halted after consecutive failures", nil,
			append(fields, logger.Field{Key: "failures", Value: j.ConsecutiveFailures})...)
	default:
		s.logger.Warn("job failed", append(fields,
			logger.Field{Key: "outcome", Value: outcome.String()},
			logger.Field{Key: "failures", Value: j.ConsecutiveFailures})...)
	}
}
