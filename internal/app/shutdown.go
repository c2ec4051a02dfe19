package app

import (
	"context"
	"errors"
	"time"

	"github.com/aatumaykin/nexcron/internal/ipc"
)

const shutdownTimeout = 30 * time.Second

// Shutdown stops components in reverse start order:
//  1. Metrics endpoint and IPC server
//  2. Notifier
//  3. Scheduler loop, then the executor (running jobs get until the deadline)
//  4. Snapshotter (writes a final snapshot)
//  5. Event bus and docker connection
//  6. PID file
//
// The method is thread-safe and idempotent.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error

	if err := a.stopMetricsServer(); err != nil {
		errs = append(errs, err)
	}

	if a.ipcHandler != nil {
		if err := a.ipcHandler.Stop(); err != nil {
			a.logger.Error("failed to stop IPC handler", err)
			errs = append(errs, err)
		}
	}

	if a.notifier != nil {
		a.notifier.Stop()
	}

	// Cancel background work (job file watcher, subscribers)
	a.cancel()

	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.Error("failed to stop scheduler", err)
			errs = append(errs, err)
		}
	}

	if a.pool != nil {
		if err := a.pool.Stop(ctx); err != nil {
			a.logger.Error("failed to stop executor", err)
			errs = append(errs, err)
		}
	}

	if a.snapshotter != nil {
		if err := a.snapshotter.Stop(); err != nil {
			a.logger.Error("failed to save final snapshot", err)
			errs = append(errs, err)
		}
	}

	if a.eventBus != nil && a.eventBus.IsStarted() {
		if err := a.eventBus.Stop(); err != nil {
			a.logger.Error("failed to stop event bus", err)
			errs = append(errs, err)
		}
	}

	if a.docker != nil {
		if err := a.docker.Close(); err != nil {
			a.logger.Error("failed to close docker client", err)
		}
	}

	if a.pidWritten {
		if err := ipc.Cleanup(a.config.PIDPath(), a.config.SocketPath()); err != nil {
			a.logger.Error("failed to cleanup IPC files", err)
		}
		a.pidWritten = false
	}

	a.started = false
	a.logger.Info("Application shutdown complete")
	return errors.Join(errs...)
}
