package jobfile

import (
	"fmt"

	"github.com/aatumaykin/nexcron/internal/jobs"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/registry"
	"github.com/aatumaykin/nexcron/internal/scheduler"
	"github.com/aatumaykin/nexcron/internal/trigger"
)

// Manager is the part of the scheduler Sync drives.
type Manager interface {
	ListJobs() []jobs.Job
	AddJob(name string, ref registry.Ref, trig trigger.Descriptor, opts ...scheduler.JobOption) (jobs.ID, error)
	RemoveJob(id jobs.ID) bool
}

// Resolver looks up callables by name.
type Resolver interface {
	Resolve(name string) (registry.Ref, error)
}

// Result summarizes one Sync.
type Result struct {
	Added   []string
	Updated []string
	Removed []string
	Failed  map[string]error
}

// Changed reports whether Sync touched the scheduler.
func (r Result) Changed() bool {
	return len(r.Added)+len(r.Updated)+len(r.Removed) > 0
}

// Sync makes the set of file-declared jobs match defs. New definitions are
// added, changed ones are replaced, and jobs whose definition disappeared are
// removed. Jobs registered through the API are never touched. A definition
// whose status is terminal (done, failed_terminal) stays as is while its
// definition is unchanged.
func Sync(defs []Definition, mgr Manager, reg Resolver, log *logger.Logger) Result {
	res := Result{Failed: make(map[string]error)}

	current := make(map[string]jobs.Job)
	for _, j := range mgr.ListJobs() {
		if j.Origin != jobs.OriginFile {
			continue
		}
		if _, dup := current[j.Name]; dup {
			mgr.RemoveJob(j.ID)
			continue
		}
		current[j.Name] = j
	}

	declared := make(map[string]bool, len(defs))
	for _, def := range defs {
		declared[def.Name] = true

		trig, err := def.Trigger()
		if err != nil {
			res.Failed[def.Name] = err
			continue
		}
		timeout, err := def.TimeoutDuration()
		if err != nil {
			res.Failed[def.Name] = err
			continue
		}

		existing, found := current[def.Name]
		if found && existing.Ref.Name() == def.Callable && existing.Timeout == timeout && sameTrigger(trig, existing.Trigger) {
			continue
		}

		ref, err := reg.Resolve(def.Callable)
		if err != nil {
			res.Failed[def.Name] = err
			continue
		}

		if found {
			mgr.RemoveJob(existing.ID)
		}

		opts := []scheduler.JobOption{scheduler.WithOrigin(jobs.OriginFile)}
		if timeout > 0 {
			opts = append(opts, scheduler.WithTimeout(timeout))
		}
		if def.Paused {
			opts = append(opts, scheduler.StartPaused())
		}

		if _, err := mgr.AddJob(def.Name, ref, trig, opts...); err != nil {
			res.Failed[def.Name] = err
			if found {
				res.Removed = append(res.Removed, def.Name)
			}
			continue
		}
		if found {
			res.Updated = append(res.Updated, def.Name)
		} else {
			res.Added = append(res.Added, def.Name)
		}
	}

	for name, j := range current {
		if declared[name] {
			continue
		}
		if mgr.RemoveJob(j.ID) {
			res.Removed = append(res.Removed, name)
		}
	}

	for name, err := range res.Failed {
		log.Warn("job definition not applied",
			logger.Field{Key: "job", Value: name},
			logger.Field{Key: "error", Value: err.Error()})
	}
	if res.Changed() {
		log.Info("jobs file synced",
			logger.Field{Key: "added", Value: res.Added},
			logger.Field{Key: "updated", Value: res.Updated},
			logger.Field{Key: "removed", Value: res.Removed})
	}
	return res
}

// sameTrigger compares a declared trigger with a registered one. An interval
// declared without an anchor matches any anchor, since registration supplies
// one.
func sameTrigger(declared, registered trigger.Descriptor) bool {
	if declared.Kind != registered.Kind {
		return false
	}
	switch declared.Kind {
	case trigger.KindCron:
		return declared.Expr == registered.Expr
	case trigger.KindInterval:
		if declared.Every != registered.Every {
			return false
		}
		return declared.Anchor.IsZero() || declared.Anchor.Equal(registered.Anchor)
	case trigger.KindAt:
		return declared.When.Equal(registered.When)
	default:
		return false
	}
}

// Err summarizes the failures of a Result, or returns nil.
func (r Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d job definitions not applied", len(r.Failed))
}
