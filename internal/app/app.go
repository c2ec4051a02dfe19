// Package app wires the scheduler daemon together: event bus, callables,
// executor, scheduler, persistence, notifications, IPC and metrics. Run owns
// the whole lifecycle and shuts components down in reverse start order.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/aatumaykin/nexcron/internal/bus"
	"github.com/aatumaykin/nexcron/internal/config"
	"github.com/aatumaykin/nexcron/internal/executor"
	"github.com/aatumaykin/nexcron/internal/invoke"
	"github.com/aatumaykin/nexcron/internal/ipc"
	"github.com/aatumaykin/nexcron/internal/jobfile"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/notify"
	"github.com/aatumaykin/nexcron/internal/persist"
	"github.com/aatumaykin/nexcron/internal/registry"
	"github.com/aatumaykin/nexcron/internal/scheduler"
)

// App represents the daemon.
// It holds references to all major components and manages their lifecycle.
type App struct {
	// Configuration and core services
	config *config.Config
	logger *logger.Logger

	// Communication infrastructure
	eventBus *bus.Bus

	// Callables and their backends
	registry *registry.Registry
	docker   invoke.ContainerAPI

	// Scheduling
	pool      *executor.Pool
	scheduler *scheduler.Scheduler

	// Persistence
	snapshotter *persist.Snapshotter
	jobWatcher  *jobfile.Watcher

	// Outer surfaces
	notifier        *notify.Notifier
	ipcHandler      *ipc.Handler
	metricsRegistry *prometheus.Registry
	metricsServer   *http.Server

	// Context management
	ctx    context.Context
	cancel context.CancelFunc

	// Thread-safety
	mu         sync.RWMutex
	started    bool
	pidWritten bool

	// sdNotify reports state to systemd; replaced in tests.
	sdNotify func(state string)
}

// New creates a new App instance. Components are built by Initialize.
func New(cfg *config.Config, log *logger.Logger) *App {
	a := &App{
		config: cfg,
		logger: log,
	}
	a.sdNotify = a.notifySystemd
	return a
}

// Run initializes every component, reports readiness and blocks until ctx is
// cancelled or a component fails. Components are then shut down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		if shutdownErr := a.Shutdown(); shutdownErr != nil {
			a.logger.Error("cleanup after failed start", shutdownErr)
		}
		return err
	}

	g, gctx := errgroup.WithContext(a.ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-a.scheduler.Failed():
			return a.scheduler.Err()
		}
	})

	if a.jobWatcher != nil && a.config.Scheduler.WatchJobsFile {
		g.Go(func() error { return a.jobWatcher.Run(gctx) })
	}

	if a.metricsServer != nil {
		srv := a.metricsServer
		g.Go(func() error {
			a.logger.Info("metrics server listening", logger.Field{Key: "addr", Value: srv.Addr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return a.stopMetricsServer()
		})
	}

	a.sdNotify(daemon.SdNotifyReady)
	a.logger.Info("Application is running")

	runErr := g.Wait()
	if runErr != nil {
		a.logger.Error("component failed, shutting down", runErr)
	}

	a.sdNotify(daemon.SdNotifyStopping)
	if err := a.Shutdown(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// Scheduler returns the scheduler; nil before Initialize.
func (a *App) Scheduler() *scheduler.Scheduler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.scheduler
}

// Registry returns the callable registry; nil before Initialize.
func (a *App) Registry() *registry.Registry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.registry
}

// GetIPC returns the IPC handler instance.
func (a *App) GetIPC() *ipc.Handler {
	return a.ipcHandler
}

func (a *App) notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.logger.Warn("sd_notify failed",
			logger.Field{Key: "state", Value: state},
			logger.Field{Key: "error", Value: err.Error()})
		return
	}
	if sent {
		a.logger.Debug("sd_notify sent", logger.Field{Key: "state", Value: state})
	}
}
