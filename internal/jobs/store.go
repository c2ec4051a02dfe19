package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrCorrupt marks a store invariant violation, e.g. a scheduled job with no next run.
var ErrCorrupt = errors.New("job store invariant violated")

// Store is an in-memory id → Job table.
type Store struct {
	mu     sync.RWMutex
	jobs   map[ID]*Job
	lastID uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{jobs: make(map[ID]*Job)}
}

// Insert assigns the next ID to job, stores it and returns the stored copy.
func (s *Store) Insert(job Job) Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	job.ID = ID(s.lastID)
	stored := job.Clone()
	s.jobs[job.ID] = &stored
	return stored.Clone()
}

// Get returns a copy of the job.
func (s *Store) Get(id ID) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.Clone(), true
}

// Update applies mutate to the stored job atomically. Missing ids are a no-op
// and return false. mutate must not keep the pointer.
func (s *Store) Update(id ID, mutate func(*Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	mutate(j)
	j.ID = id
	return true
}

// Remove deletes the job and reports whether it existed.
func (s *Store) Remove(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// All returns copies of every job ordered by id.
func (s *Store) All() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Len returns the number of stored jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// DueBefore returns jobs whose next run is at or before t, ordered by next
// run and then id. Status is not filtered.
func (s *Store) DueBefore(t time.Time) []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Job
	for _, j := range s.jobs {
		if j.NextRun != nil && !j.NextRun.After(t) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		ta, tb := *out[a].NextRun, *out[b].NextRun
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// Earliest returns the smallest next run among scheduled jobs.
// ok is false when nothing is scheduled. A scheduled job without a next run
// yields ErrCorrupt.
func (s *Store) Earliest() (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		earliest time.Time
		found    bool
	)
	for id, j := range s.jobs {
		if j.Status != StatusScheduled {
			continue
		}
		if j.NextRun == nil {
			return time.Time{}, false, fmt.Errorf("%w: scheduled job %d has no next run", ErrCorrupt, id)
		}
		if !found || j.NextRun.Before(earliest) {
			earliest = *j.NextRun
			found = true
		}
	}
	return earliest, found, nil
}

// CountByStatus returns how many jobs are in each status.
func (s *Store) CountByStatus() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts
}
