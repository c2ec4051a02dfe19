package constants

// Messages printed by the nexcron CLI.

// Job messages
const (
	// MsgJobAdded is printed after a job was scheduled.
	MsgJobAdded = "✅ Job added\n"

	// MsgJobRemoved is printed after a job was removed.
	MsgJobRemoved = "✅ Job %d removed\n"

	// MsgJobPaused is printed after a job was paused.
	MsgJobPaused = "⏸ Job %d paused\n"

	// MsgJobResumed is printed after a job was resumed.
	MsgJobResumed = "▶ Job %d resumed\n"

	// MsgJobTriggered is printed after a manual run was requested.
	MsgJobTriggered = "🚀 Job %d triggered\n"

	// MsgJobsNotFound is printed when the scheduler has no jobs.
	MsgJobsNotFound = "No jobs scheduled.\n"

	// MsgJobsTotal is the footer of the job list.
	MsgJobsTotal = "Total: %d jobs\n"
)

// Scheduler messages
const (
	MsgSchedulerStarted = "✅ Scheduler started\n"
	MsgSchedulerStopped = "🛑 Scheduler stopped\n"
	MsgSchedulerState   = "Scheduler: %s\n"
	MsgSchedulerPID     = "PID: %d\n"
	MsgSchedulerError   = "Error: %s\n"
	MsgSchedulerJobs    = "Jobs: %s\n"
	MsgCallables        = "Callables: %s\n"
)

// Error messages
const (
	// MsgErrorFormat formats a failed command.
	MsgErrorFormat = "❌ %v\n"

	// MsgDaemonNotRunning hints how to start the daemon.
	MsgDaemonNotRunning = "❌ nexcron daemon is not running (start it with `nexcron serve`)\n"

	// MsgErrorInvalidID is printed for a malformed job id argument.
	MsgErrorInvalidID = "❌ invalid job id %q\n"
)
