// Package jobfile loads declarative job definitions from YAML and keeps the
// scheduler in step with the file.
//
//	jobs:
//	  - name: nightly-backup
//	    callable: backup
//	    cron: "0 3 * * *"
//	  - name: ping
//	    callable: healthcheck
//	    every: 5m
//	    anchor: 2026-01-01T00:00:00Z
//	    timeout: 30s
//	  - name: report
//	    callable: report
//	    at: 2026-12-01T09:00:00+03:00
//	    paused: true
package jobfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aatumaykin/nexcron/internal/jobs"
	"github.com/aatumaykin/nexcron/internal/trigger"
)

// Definition is one declared job.
type Definition struct {
	Name     string `yaml:"name"`
	Callable string `yaml:"callable"`
	Cron     string `yaml:"cron,omitempty"`
	Every    string `yaml:"every,omitempty"`
	Anchor   string `yaml:"anchor,omitempty"`
	At       string `yaml:"at,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
	Paused   bool   `yaml:"paused,omitempty"`
}

type document struct {
	Jobs []Definition `yaml:"jobs"`
}

// Trigger builds the descriptor for the definition.
func (d Definition) Trigger() (trigger.Descriptor, error) {
	set := 0
	for _, v := range []string{d.Cron, d.Every, d.At} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return trigger.Descriptor{}, fmt.Errorf("%w: exactly one of cron, every, at is required", trigger.ErrInvalidTrigger)
	}
	if d.Anchor != "" && d.Every == "" {
		return trigger.Descriptor{}, fmt.Errorf("%w: anchor is only valid with every", trigger.ErrInvalidTrigger)
	}

	switch {
	case d.Cron != "":
		return trigger.Cron(d.Cron), nil
	case d.Every != "":
		raw := "every:" + d.Every
		if d.Anchor != "" {
			raw += "@" + d.Anchor
		}
		return trigger.Parse(raw)
	default:
		return trigger.Parse("at:" + d.At)
	}
}

// TimeoutDuration parses the timeout; empty means none.
func (d Definition) TimeoutDuration() (time.Duration, error) {
	if d.Timeout == "" {
		return 0, nil
	}
	t, err := time.ParseDuration(d.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", d.Timeout, err)
	}
	if t < 0 {
		return 0, fmt.Errorf("timeout must not be negative, got %s", t)
	}
	return t, nil
}

// Load reads and validates path. A missing file declares no jobs.
func Load(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// Parse decodes and validates a jobs document. Unknown keys are rejected.
func Parse(data []byte) ([]Definition, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse jobs file: %w", err)
	}

	seen := make(map[string]bool, len(doc.Jobs))
	var errs []error
	for i := range doc.Jobs {
		d := &doc.Jobs[i]
		d.Name = jobs.NormalizeName(d.Name)

		switch {
		case d.Name == "":
			errs = append(errs, fmt.Errorf("jobs[%d]: name is required", i))
			continue
		case seen[d.Name]:
			errs = append(errs, fmt.Errorf("jobs[%d]: duplicate name %q", i, d.Name))
			continue
		}
		seen[d.Name] = true

		if d.Callable == "" {
			errs = append(errs, fmt.Errorf("job %q: callable is required", d.Name))
		}
		if _, err := d.Trigger(); err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", d.Name, err))
		}
		if _, err := d.TimeoutDuration(); err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", d.Name, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return doc.Jobs, nil
}
