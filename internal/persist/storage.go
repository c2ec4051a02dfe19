// Package persist keeps runtime-registered jobs across daemon restarts.
// Jobs are stored one per line in JSONL format; the whole file is rewritten
// atomically on every save.
package persist

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/aatumaykin/nexcron/internal/jobs"
	"github.com/aatumaykin/nexcron/internal/logger"
)

// Record is one persisted job definition. Runtime state (next run, failure
// counter) is not kept; only what is needed to register the job again.
type Record struct {
	Name     string    `json:"name"`
	Callable string    `json:"callable"`
	Schedule string    `json:"schedule"`
	Timeout  string    `json:"timeout,omitempty"`
	Paused   bool      `json:"paused,omitempty"`
	Created  time.Time `json:"created_at"`
}

// FromJobs converts live jobs to records. Terminal jobs and jobs declared in
// the jobs file are left out.
func FromJobs(list []jobs.Job) []Record {
	records := make([]Record, 0, len(list))
	for _, j := range list {
		if j.Status.Terminal() || j.Origin == jobs.OriginFile {
			continue
		}

		paused := j.Status == jobs.StatusPaused
		if j.Status == jobs.StatusRunning {
			paused = j.PauseRequested || (j.ManualRun && j.StatusBeforeRun == jobs.StatusPaused)
		}

		rec := Record{
			Name:     j.Name,
			Callable: j.Ref.Name(),
			Schedule: j.Trigger.String(),
			Paused:   paused,
			Created:  j.CreatedAt,
		}
		if j.Timeout > 0 {
			rec.Timeout = j.Timeout.String()
		}
		records = append(records, rec)
	}
	return records
}

// Storage reads and writes the snapshot file.
type Storage struct {
	filePath string
	logger   *logger.Logger
}

// NewStorage creates a Storage for filePath.
func NewStorage(filePath string, log *logger.Logger) *Storage {
	return &Storage{
		filePath: filePath,
		logger:   log.Component("persist"),
	}
}

// Path returns the snapshot file path.
func (s *Storage) Path() string {
	return s.filePath
}

// Load reads records from the snapshot. A missing file yields no records.
// Malformed lines are logged and skipped.
func (s *Storage) Load() ([]Record, error) {
	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("failed to open snapshot", err,
			logger.Field{Key: "file", Value: s.filePath})
		return nil, err
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Error("failed to unmarshal snapshot line", err,
				logger.Field{Key: "file", Value: s.filePath},
				logger.Field{Key: "line", Value: lineNum})
			continue
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		s.logger.Error("error scanning snapshot", err,
			logger.Field{Key: "file", Value: s.filePath})
		return nil, err
	}
	return records, nil
}

// Save replaces the snapshot with records using a temp file and rename.
func (s *Storage) Save(records []Record) error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Error("failed to create snapshot directory", err,
			logger.Field{Key: "dir", Value: dir})
		return err
	}

	tmpPath := s.filePath + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		s.logger.Error("failed to create temporary snapshot", err,
			logger.Field{Key: "file", Value: tmpPath})
		return err
	}

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			_ = file.Close()
			s.logger.Error("failed to encode record", err,
				logger.Field{Key: "job", Value: rec.Name})
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		s.logger.Error("failed to sync temporary snapshot", err,
			logger.Field{Key: "file", Value: tmpPath})
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		s.logger.Error("failed to rename temporary snapshot", err,
			logger.Field{Key: "from", Value: tmpPath},
			logger.Field{Key: "to", Value: s.filePath})
		return err
	}

	s.logger.Debug("snapshot saved",
		logger.Field{Key: "count", Value: len(records)},
		logger.Field{Key: "file", Value: s.filePath})
	return nil
}
