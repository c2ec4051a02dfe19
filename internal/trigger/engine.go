package trigger

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/wasilibs/go-re2"
)

// DefaultTimezone is used when no zone is configured.
const DefaultTimezone = "UTC"

// cronShape accepts exactly five whitespace separated fields made of the
// characters robfig/cron understands. Anything else (TZ= prefixes, @every
// descriptors, a seconds field) is rejected before parsing.
var cronShape = re2.MustCompile(`^[0-9A-Za-z*/,?-]+(\s+[0-9A-Za-z*/,?-]+){4}$`)

// Engine evaluates descriptors in a fixed timezone.
type Engine struct {
	loc    *time.Location
	parser cron.Parser
}

// NewEngine creates an engine resolving cron fields in loc. A nil loc means UTC.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		loc:    loc,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// NewEngineForZone resolves an IANA zone name and creates an engine for it.
func NewEngineForZone(name string) (*Engine, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return NewEngine(loc), nil
}

// Location returns the zone cron expressions are evaluated in.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Validate checks the descriptor shape without computing a fire time.
func (e *Engine) Validate(d Descriptor) error {
	switch d.Kind {
	case KindCron:
		_, err := e.parseCron(d.Expr)
		return err
	case KindInterval:
		if d.Every <= 0 {
			return invalid("interval must be positive, got %s", d.Every)
		}
		return nil
	case KindAt:
		if d.When.IsZero() {
			return invalid("one-shot trigger has no time")
		}
		return nil
	default:
		return invalid("unknown trigger kind %q", d.Kind)
	}
}

// NextFire returns the earliest fire time strictly after the given moment.
// ok is false when the trigger will never fire again.
//
// An interval descriptor with a zero anchor is anchored at after.
func (e *Engine) NextFire(d Descriptor, after time.Time) (time.Time, bool, error) {
	switch d.Kind {
	case KindCron:
		sched, err := e.parseCron(d.Expr)
		if err != nil {
			return time.Time{}, false, err
		}
		next := sched.Next(after.In(e.loc))
		if next.IsZero() {
			// robfig/cron gives up after five years, e.g. "0 0 30 2 *".
			return time.Time{}, false, nil
		}
		return next, true, nil

	case KindInterval:
		if d.Every <= 0 {
			return time.Time{}, false, invalid("interval must be positive, got %s", d.Every)
		}
		anchor := d.Anchor
		if anchor.IsZero() {
			anchor = after
		}
		if anchor.After(after) {
			return anchor, true, nil
		}
		k := after.Sub(anchor)/d.Every + 1
		return anchor.Add(k * d.Every), true, nil

	case KindAt:
		if d.When.IsZero() {
			return time.Time{}, false, invalid("one-shot trigger has no time")
		}
		if d.When.After(after) {
			return d.When, true, nil
		}
		return time.Time{}, false, nil

	default:
		return time.Time{}, false, invalid("unknown trigger kind %q", d.Kind)
	}
}

func (e *Engine) parseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if !cronShape.MatchString(expr) {
		return nil, invalid("cron expression %q must have 5 fields", expr)
	}
	sched, err := e.parser.Parse(expr)
	if err != nil {
		return nil, invalid("cron expression %q: %v", expr, err)
	}
	return sched, nil
}
