package ipc

import (
	"time"

	"github.com/aatumaykin/nexcron/internal/jobs"
)

// Request types.
const (
	TypeList   = "list"
	TypeStatus = "status"
	TypeStart  = "start"
	TypeStop   = "stop"
	TypeAdd    = "add"
	TypeRemove = "remove"
	TypePause  = "pause"
	TypeResume = "resume"
	TypeRunNow = "run_now"
)

// Error codes carried in Response.Code.
const (
	CodeNotFound       = "not_found"
	CodeInvalidTrigger = "invalid_trigger"
	CodeBadRequest     = "bad_request"
	CodeConflict       = "conflict"
	CodeInternal       = "internal"
)

// Request структура запроса от CLI
type Request struct {
	Type     string `json:"type"`
	ID       uint64 `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Callable string `json:"callable,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	Paused   bool   `json:"paused,omitempty"`
}

// Response структура ответа CLI
type Response struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Job     *JobInfo    `json:"job,omitempty"`
	Jobs    []JobInfo   `json:"jobs,omitempty"`
	Status  *StatusInfo `json:"status,omitempty"`
}

// JobInfo is the wire view of a job.
type JobInfo struct {
	ID                  uint64     `json:"id"`
	Name                string     `json:"name"`
	Callable            string     `json:"callable"`
	Schedule            string     `json:"schedule"`
	Status              string     `json:"status"`
	Origin              string     `json:"origin,omitempty"`
	Timeout             string     `json:"timeout,omitempty"`
	NextRun             *time.Time `json:"next_run,omitempty"`
	LastRun             *time.Time `json:"last_run,omitempty"`
	LastOutcome         string     `json:"last_outcome,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// StatusInfo describes the daemon.
type StatusInfo struct {
	PID       int            `json:"pid"`
	Running   bool           `json:"running"`
	Error     string         `json:"error,omitempty"`
	Jobs      map[string]int `json:"jobs"`
	Callables []string       `json:"callables"`
}

// NewJobInfo converts a job for the wire.
func NewJobInfo(j jobs.Job) JobInfo {
	info := JobInfo{
		ID:                  uint64(j.ID),
		Name:                j.Name,
		Callable:            j.Ref.Name(),
		Schedule:            j.Trigger.String(),
		Status:              string(j.Status),
		Origin:              j.Origin,
		NextRun:             j.NextRun,
		LastRun:             j.LastRun,
		ConsecutiveFailures: j.ConsecutiveFailures,
	}
	if j.Timeout > 0 {
		info.Timeout = j.Timeout.String()
	}
	if j.LastOutcome != nil {
		info.LastOutcome = j.LastOutcome.String()
	}
	return info
}
