// Package jobs holds the authoritative table of registered jobs and their
// lifecycle state. The Store owns no goroutines; all writes come from the
// scheduler's serialized path and readers always receive copies.
package jobs

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/aatumaykin/nexcron/internal/registry"
	"github.com/aatumaykin/nexcron/internal/trigger"
)

// ID identifies a job. IDs come from a monotonic counter and are never reused.
type ID uint64

func (id ID) String() string {
	return fmt.Sprintf("%d", uint64(id))
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusScheduled      Status = "scheduled"
	StatusPaused         Status = "paused"
	StatusRunning        Status = "running"
	StatusDone           Status = "done"
	StatusFailedTerminal Status = "failed_terminal"
)

// Origin values record who registered a job.
const (
	OriginAPI  = "api"
	OriginFile = "file"
)

// Terminal reports whether the job will never be dispatched again.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailedTerminal
}

// OutcomeKind tells success from failure.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
)

// FailureKind classifies failed runs.
type FailureKind string

const (
	FailureError    FailureKind = "error"
	FailurePanic    FailureKind = "panic"
	FailureTimeout  FailureKind = "timeout"
	FailureCanceled FailureKind = "canceled"
)

// Outcome is the result of one invocation.
type Outcome struct {
	Kind       OutcomeKind   `json:"kind"`
	Failure    FailureKind   `json:"failure,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Output     string        `json:"output,omitempty"`
	RunID      string        `json:"run_id,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// Success builds a successful outcome.
func Success(output string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Output: output}
}

// Failure builds a failed outcome.
func Failure(kind FailureKind, reason string) Outcome {
	return Outcome{Kind: OutcomeFailure, Failure: kind, Reason: reason}
}

// OK reports whether the run succeeded.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

func (o Outcome) String() string {
	if o.OK() {
		return string(OutcomeSuccess)
	}
	if o.Reason == "" {
		return fmt.Sprintf("failure(%s)", o.Failure)
	}
	return fmt.Sprintf("failure(%s): %s", o.Failure, o.Reason)
}

// Job is one registered job.
type Job struct {
	ID                  ID
	Name                string
	Ref                 registry.Ref
	Trigger             trigger.Descriptor
	Timeout             time.Duration
	Status              Status
	NextRun             *time.Time
	LastRun             *time.Time
	LastOutcome         *Outcome
	ConsecutiveFailures int
	CreatedAt           time.Time
	Origin              string

	// Bookkeeping for the run in flight.
	PauseRequested  bool
	ManualRun       bool
	StatusBeforeRun Status
}

// Clone returns a deep copy.
func (j Job) Clone() Job {
	c := j
	if j.NextRun != nil {
		t := *j.NextRun
		c.NextRun = &t
	}
	if j.LastRun != nil {
		t := *j.LastRun
		c.LastRun = &t
	}
	if j.LastOutcome != nil {
		o := *j.LastOutcome
		c.LastOutcome = &o
	}
	return c
}

// NormalizeName trims and NFC-normalizes a job label.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// TimePtr is a small helper for the optional timestamps on Job.
func TimePtr(t time.Time) *time.Time {
	return &t
}
