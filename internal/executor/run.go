package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/nexcron/internal/jobs"
	"github.com/aatumaykin/nexcron/internal/logger"
)

const maxOutputLen = 4096

// execute runs one submission on the calling worker. A callable that ignores
// its deadline keeps the worker busy until it returns; the run is still
// classified as a timeout.
func (p *Pool) execute(workerID int, sub submission) jobs.Outcome {
	runID := uuid.New().String()
	started := time.Now()

	ctx := p.runCtx
	var cancel context.CancelFunc
	if sub.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, sub.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	fields := []logger.Field{
		{Key: "job_id", Value: sub.jobID},
		{Key: "job", Value: sub.name},
		{Key: "callable", Value: sub.ref.Name()},
		{Key: "run_id", Value: runID},
		{Key: "worker_id", Value: workerID},
	}
	p.logger.DebugCtx(ctx, "job started", append(fields,
		logger.Field{Key: "queue_wait_ms", Value: started.Sub(sub.enqueued).Milliseconds()})...)

	res := invoke(ctx, sub)

	var outcome jobs.Outcome
	switch {
	case res.panicked != nil:
		outcome = jobs.Failure(jobs.FailurePanic, fmt.Sprintf("panic: %v", res.panicked))
		p.logger.Error("job panicked", fmt.Errorf("panic: %v", res.panicked),
			append(fields, logger.Field{Key: "stack", Value: res.stack})...)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = jobs.Failure(jobs.FailureTimeout, fmt.Sprintf("timed out after %s", sub.timeout))
	case p.runCtx.Err() != nil && res.err != nil:
		outcome = jobs.Failure(jobs.FailureCanceled, res.err.Error())
	case res.err != nil:
		outcome = jobs.Failure(jobs.FailureError, res.err.Error())
	default:
		outcome = jobs.Success(res.output)
	}

	outcome.Output = truncate(res.output)
	outcome.RunID = runID
	outcome.StartedAt = started
	outcome.FinishedAt = time.Now()
	outcome.Duration = outcome.FinishedAt.Sub(started)

	p.logger.DebugCtx(ctx, "job finished", append(fields,
		logger.Field{Key: "outcome", Value: outcome.String()},
		logger.Field{Key: "duration_ms", Value: outcome.Duration.Milliseconds()})...)
	return outcome
}

type invokeResult struct {
	output   string
	err      error
	panicked any
	stack    string
}

// invoke calls the callable and converts a panic into a value.
func invoke(ctx context.Context, sub submission) (res invokeResult) {
	defer func() {
		if r := recover(); r != nil {
			res.panicked = r
			res.stack = string(debug.Stack())
		}
	}()
	res.output, res.err = sub.ref.Invoke(ctx)
	return res
}

func truncate(s string) string {
	if len(s) <= maxOutputLen {
		return s
	}
	return s[:maxOutputLen] + "…(truncated)"
}
