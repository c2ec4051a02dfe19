package trigger

import (
	"strings"
	"time"
)

// Parse turns a schedule string into a descriptor.
//
// Accepted forms:
//   - "cron:*/5 * * * *" or any bare string containing whitespace
//   - "every:90s", "every:1h@2026-01-01T00:00:00Z" (anchor after '@'), or a bare Go duration
//   - "at:2026-01-01T09:00:00Z" or a bare RFC3339 timestamp
//
// Parse checks syntax only. Use Engine.Validate for cron field ranges.
func Parse(raw string) (Descriptor, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Descriptor{}, invalid("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Descriptor{}, invalid("cron expression required after 'cron:'")
		}
		return Cron(expr), nil

	case strings.HasPrefix(low, "every:"):
		return parseEvery(strings.TrimSpace(s[len("every:"):]))

	case strings.HasPrefix(low, "at:"):
		return parseAt(strings.TrimSpace(s[len("at:"):]))
	}

	if strings.ContainsAny(s, " \t") {
		return Cron(s), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return Descriptor{}, invalid("interval must be positive, got %s", d)
		}
		return Interval(d), nil
	}
	if when, err := time.Parse(time.RFC3339, s); err == nil {
		return At(when), nil
	}

	return Descriptor{}, invalid("unrecognized schedule %q (use '*/5 * * * *', '55m' or an RFC3339 time)", raw)
}

func parseEvery(v string) (Descriptor, error) {
	if v == "" {
		return Descriptor{}, invalid("interval required after 'every:'")
	}

	var anchor time.Time
	if i := strings.Index(v, "@"); i >= 0 {
		a, err := time.Parse(time.RFC3339, strings.TrimSpace(v[i+1:]))
		if err != nil {
			return Descriptor{}, invalid("bad interval anchor %q", v[i+1:])
		}
		anchor = a
		v = strings.TrimSpace(v[:i])
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return Descriptor{}, invalid("bad interval %q", v)
	}
	if d <= 0 {
		return Descriptor{}, invalid("interval must be positive, got %s", d)
	}
	return IntervalFrom(d, anchor), nil
}

func parseAt(v string) (Descriptor, error) {
	when, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return Descriptor{}, invalid("bad time %q (expected RFC3339)", v)
	}
	return At(when), nil
}
