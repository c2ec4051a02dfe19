package builders

import (
	"fmt"
	"time"

	"github.com/aatumaykin/nexcron/internal/config"
	"github.com/aatumaykin/nexcron/internal/jobfile"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/persist"
	"github.com/aatumaykin/nexcron/internal/registry"
	"github.com/aatumaykin/nexcron/internal/scheduler"
)

type PersistBuilder struct {
	config *config.Config
	logger *logger.Logger
}

func NewPersistBuilder(cfg *config.Config, log *logger.Logger) *PersistBuilder {
	return &PersistBuilder{
		config: cfg,
		logger: log,
	}
}

// Restore replays the snapshot into sched and returns a snapshotter to keep
// it current. It returns nil when persistence is disabled.
func (b *PersistBuilder) Restore(sched *scheduler.Scheduler, reg *registry.Registry) (*persist.Snapshotter, error) {
	if !b.config.Scheduler.Persist {
		b.logger.Info("job persistence disabled")
		return nil, nil
	}

	storage := persist.NewStorage(b.config.SnapshotPath(), b.logger)
	records, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load job snapshot: %w", err)
	}
	persist.Replay(records, sched, reg, time.Now(), b.logger)

	return persist.NewSnapshotter(storage, sched, b.logger), nil
}

// JobFile loads the declarative jobs file and returns a watcher for it, or
// nil when no jobs file is configured.
func (b *PersistBuilder) JobFile(sched *scheduler.Scheduler, reg *registry.Registry) (*jobfile.Watcher, error) {
	path := b.config.JobsFilePath()
	if path == "" {
		return nil, nil
	}

	w := jobfile.NewWatcher(path, sched, reg, b.logger)
	if _, err := w.Reload(); err != nil {
		return nil, fmt.Errorf("failed to load jobs file: %w", err)
	}
	return w, nil
}
