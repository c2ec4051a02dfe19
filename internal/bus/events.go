// Package bus carries job lifecycle events from the scheduler to interested
// components (notifier, persistence, IPC watchers).
//
// Publishing never blocks: when the bus or a subscriber buffer is full the
// event is dropped and a warning is logged.
package bus

import (
	"time"

	"github.com/aatumaykin/nexcron/internal/jobs"
)

// EventType names a lifecycle transition.
type EventType string

const (
	EventJobAdded          EventType = "job.added"
	EventJobRemoved        EventType = "job.removed"
	EventJobPaused         EventType = "job.paused"
	EventJobResumed        EventType = "job.resumed"
	EventJobStarted        EventType = "job.started"
	EventJobSucceeded      EventType = "job.succeeded"
	EventJobFailed         EventType = "job.failed"
	EventJobDone           EventType = "job.done"
	EventJobFailedTerminal EventType = "job.failed_terminal"
)

// AllEventTypes lists every event type in emission order of a typical job.
var AllEventTypes = []EventType{
	EventJobAdded,
	EventJobRemoved,
	EventJobPaused,
	EventJobResumed,
	EventJobStarted,
	EventJobSucceeded,
	EventJobFailed,
	EventJobDone,
	EventJobFailedTerminal,
}

// Changes reports whether the event alters a job definition or its paused
// state, i.e. whether a persisted snapshot becomes stale.
func (t EventType) Changes() bool {
	switch t {
	case EventJobAdded, EventJobRemoved, EventJobPaused, EventJobResumed, EventJobDone, EventJobFailedTerminal:
		return true
	default:
		return false
	}
}

// Event is one lifecycle notification.
type Event struct {
	Type      EventType      `json:"type"`
	JobID     jobs.ID        `json:"job_id"`
	JobName   string         `json:"job_name"`
	Callable  string         `json:"callable,omitempty"`
	Status    jobs.Status    `json:"status,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Failures  int            `json:"consecutive_failures,omitempty"`
	NextRun   *time.Time     `json:"next_run,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
