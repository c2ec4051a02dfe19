package jobfile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aatumaykin/nexcron/internal/logger"
)

const (
	debounceDelay      = 250 * time.Millisecond
	restartBackoffBase = 500 * time.Millisecond
	restartBackoffMax  = 30 * time.Second
)

// Watcher re-syncs the scheduler whenever the jobs file changes. It watches
// the parent directory so editors that replace the file are handled.
type Watcher struct {
	path   string
	mgr    Manager
	reg    Resolver
	logger *logger.Logger

	// OnSync, when set, receives every sync result.
	OnSync func(Result, error)

	mu     sync.Mutex
	timer  *time.Timer
	syncMu sync.Mutex
}

// NewWatcher creates a Watcher for path.
func NewWatcher(path string, mgr Manager, reg Resolver, log *logger.Logger) *Watcher {
	return &Watcher{
		path:   filepath.Clean(path),
		mgr:    mgr,
		reg:    reg,
		logger: log.Component("jobfile"),
	}
}

// Reload loads the file and syncs it. A file that fails to parse leaves the
// current jobs untouched.
func (w *Watcher) Reload() (Result, error) {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	defs, err := Load(w.path)
	if err != nil {
		w.logger.Error("failed to load jobs file, keeping current jobs", err,
			logger.Field{Key: "file", Value: w.path})
		if w.OnSync != nil {
			w.OnSync(Result{}, err)
		}
		return Result{}, err
	}

	res := Sync(defs, w.mgr, w.reg, w.logger)
	if w.OnSync != nil {
		w.OnSync(res, nil)
	}
	return res, nil
}

// Run watches until ctx is done. The watcher is recreated with backoff if it
// breaks.
func (w *Watcher) Run(ctx context.Context) error {
	dir, file := filepath.Dir(w.path), filepath.Base(w.path)
	backoff := restartBackoffBase

	defer w.stopTimer()

	for {
		if ctx.Err() != nil {
			return nil
		}

		fw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fw.Add(dir); err != nil {
				_ = fw.Close()
			}
		}
		if err != nil {
			w.logger.Warn("jobs file watch failed",
				logger.Field{Key: "dir", Value: dir},
				logger.Field{Key: "error", Value: err.Error()},
				logger.Field{Key: "retry_in", Value: backoff.String()})
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, restartBackoffMax)
			continue
		}

		backoff = restartBackoffBase
		w.logger.Debug("jobs file watcher started",
			logger.Field{Key: "dir", Value: dir},
			logger.Field{Key: "file", Value: file})

		w.watch(ctx, fw, file)
		_ = fw.Close()

		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn("jobs file watcher stopped, restarting",
			logger.Field{Key: "retry_in", Value: backoff.String()})
		if !sleep(ctx, backoff) {
			return nil
		}
	}
}

// watch returns when ctx is done or the fsnotify watcher breaks.
func (w *Watcher) watch(ctx context.Context, fw *fsnotify.Watcher, file string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.debounce(ctx)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("jobs file watch overflow, forcing reload")
				w.debounce(ctx)
				continue
			}
			w.logger.Warn("jobs file watch error", logger.Field{Key: "error", Value: err.Error()})
		}
	}
}

func (w *Watcher) debounce(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		_, _ = w.Reload()
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
