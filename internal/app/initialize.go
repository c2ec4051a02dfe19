package app

import (
	"context"
	"fmt"

	"github.com/aatumaykin/nexcron/internal/app/builders"
	"github.com/aatumaykin/nexcron/internal/bus"
	"github.com/aatumaykin/nexcron/internal/ipc"
)

// Initialize builds and starts all components in dependency order:
// workspace, event bus, callables, executor and scheduler, persisted and
// declared jobs, snapshotter, notifier, IPC and the metrics endpoint.
func (a *App) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("application already initialized")
	}

	// 1. Create application context
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.started = true

	// 2. Workspace and pid file
	if _, err := builders.NewWorkspaceBuilder(a.config, a.logger).Build(); err != nil {
		return err
	}
	if err := ipc.AcquirePID(a.config.PIDPath()); err != nil {
		return err
	}
	a.pidWritten = true

	// 3. Event bus
	a.eventBus = bus.New(a.config.Scheduler.EventBufferSize, a.logger)
	if err := a.eventBus.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	// 4. Callables
	reg, docker, err := builders.NewInvokerBuilder(a.config, a.logger).Build(a.ctx)
	if err != nil {
		return fmt.Errorf("failed to register callables: %w", err)
	}
	a.registry, a.docker = reg, docker

	// 5. Executor and scheduler
	a.metricsRegistry = newMetricsRegistry(a.config)
	var promReg = a.metricsRegisterer()
	sched, pool, err := builders.NewSchedulerBuilder(a.config, a.logger, promReg).Build(a.eventBus)
	if err != nil {
		return err
	}
	a.scheduler, a.pool = sched, pool
	a.pool.Start()

	// 6. Persisted and declared jobs
	persistBuilder := builders.NewPersistBuilder(a.config, a.logger)
	if a.snapshotter, err = persistBuilder.Restore(a.scheduler, a.registry); err != nil {
		return err
	}
	if a.jobWatcher, err = persistBuilder.JobFile(a.scheduler, a.registry); err != nil {
		return err
	}

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// 7. Snapshotter
	if a.snapshotter != nil {
		if err := a.snapshotter.Start(a.ctx, a.eventBus); err != nil {
			return err
		}
		if err := a.snapshotter.Save(); err != nil {
			a.logger.Error("failed to write initial snapshot", err)
		}
	}

	// 8. Notifier
	notifier, err := builders.NewTelegramBuilder(a.config, a.logger).Build(a.ctx)
	if err != nil {
		return err
	}
	if notifier != nil {
		if err := notifier.Start(a.ctx, a.eventBus); err != nil {
			return err
		}
		a.notifier = notifier
	}

	// 9. IPC
	a.ipcHandler = ipc.NewHandler(a.logger, a.scheduler, a.registry)
	if err := a.ipcHandler.Start(a.ctx, a.config.SocketPath()); err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}

	// 10. Metrics endpoint
	if a.config.Metrics.Enabled {
		a.metricsServer = newMetricsServer(a.config.Metrics.Listen, a.metricsRegistry, a.scheduler)
	}

	return nil
}
