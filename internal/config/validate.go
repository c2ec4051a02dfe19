package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

var pullPolicies = []string{"always", "if-not-present", "never"}

// Validate checks the docker invoker section. Disabled sections always pass.
// All problems are reported at once.
func (c *DockerInvokerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("invokers.docker."+format, args...))
		}
	}

	check(slices.Contains(pullPolicies, c.PullPolicy),
		"pull_policy must be one of: %s (got %q)", strings.Join(pullPolicies, ", "), c.PullPolicy)
	check(c.MemoryLimit == "" || isValidMemoryLimit(c.MemoryLimit),
		"memory_limit format invalid (e.g., 128m, 1g), got %q", c.MemoryLimit)
	check(c.CPULimit > 0 && c.CPULimit <= 4,
		"cpu_limit must be between 0 and 4 (got %g)", c.CPULimit)
	check(c.PidsLimit >= 0, "pids_limit must not be negative (got %d)", c.PidsLimit)
	check(c.PollInterval >= 10,
		"poll_interval_ms must be >= 10 (got %d)", c.PollInterval)
	check(c.CircuitBreakerThreshold >= 1,
		"circuit_breaker_threshold must be >= 1 (got %d)", c.CircuitBreakerThreshold)
	check(c.CircuitBreakerTimeout >= 5 && c.CircuitBreakerTimeout <= 300,
		"circuit_breaker_timeout_seconds must be between 5 and 300 (got %d)", c.CircuitBreakerTimeout)

	return errors.Join(errs...)
}

// isValidMemoryLimit accepts a positive integer with a k, m or g suffix.
func isValidMemoryLimit(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 2 || !strings.ContainsRune("kmg", rune(s[len(s)-1])) {
		return false
	}
	n, err := strconv.ParseUint(s[:len(s)-1], 10, 64)
	return err == nil && n > 0
}
