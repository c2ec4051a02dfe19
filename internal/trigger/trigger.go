// Package trigger computes fire times for job triggers.
// Three trigger kinds are supported:
//   - cron: standard 5-field expression (minute hour day-of-month month day-of-week)
//   - interval: fixed period counted from an anchor time
//   - at: a single moment, after which the trigger is exhausted
//
// Everything in this package is pure computation; no goroutines, no clocks.
package trigger

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTrigger is returned for malformed or unsatisfiable triggers.
var ErrInvalidTrigger = errors.New("invalid trigger")

// Kind identifies the trigger variant.
type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
	KindAt       Kind = "at"
)

// Descriptor is an immutable trigger definition. Only the fields relevant to
// Kind are meaningful.
type Descriptor struct {
	Kind   Kind          `json:"kind"`
	Expr   string        `json:"expr,omitempty"`
	Every  time.Duration `json:"every,omitempty"`
	Anchor time.Time     `json:"anchor,omitempty"`
	When   time.Time     `json:"when,omitempty"`
}

// Cron builds a cron descriptor.
func Cron(expr string) Descriptor {
	return Descriptor{Kind: KindCron, Expr: expr}
}

// Interval builds an interval descriptor anchored at registration time.
func Interval(every time.Duration) Descriptor {
	return Descriptor{Kind: KindInterval, Every: every}
}

// IntervalFrom builds an interval descriptor with an explicit anchor.
func IntervalFrom(every time.Duration, anchor time.Time) Descriptor {
	return Descriptor{Kind: KindInterval, Every: every, Anchor: anchor}
}

// At builds a one-shot descriptor.
func At(when time.Time) Descriptor {
	return Descriptor{Kind: KindAt, When: when}
}

// OneShot reports whether the trigger fires at most once.
func (d Descriptor) OneShot() bool {
	return d.Kind == KindAt
}

// String renders the descriptor in the form accepted by Parse.
func (d Descriptor) String() string {
	switch d.Kind {
	case KindCron:
		return "cron:" + d.Expr
	case KindInterval:
		if d.Anchor.IsZero() {
			return "every:" + d.Every.String()
		}
		return fmt.Sprintf("every:%s@%s", d.Every, d.Anchor.Format(time.RFC3339))
	case KindAt:
		return "at:" + d.When.Format(time.RFC3339)
	default:
		return string(d.Kind)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTrigger, fmt.Sprintf(format, args...))
}
