// Package invoke provides the built-in callable backends: shell commands,
// HTTP requests and one-off docker containers. Each backend is a
// registry.Invoker built from a [[callables]] config entry.
package invoke

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aatumaykin/nexcron/internal/config"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/registry"
)

// MaxOutput caps the output an invoker returns.
const MaxOutput = 4096

// Deps carries shared backend resources. Docker may be nil when the docker
// invoker is disabled.
type Deps struct {
	Docker  ContainerAPI
	Breaker *CircuitBreaker
}

// Build turns one callable definition into an Invoker.
func Build(def config.CallableConfig, cfg config.InvokersConfig, deps Deps) (registry.Invoker, error) {
	switch def.Kind {
	case config.CallableShell:
		if !cfg.Shell.Enabled {
			return nil, fmt.Errorf("callable %q: shell invoker is disabled", def.Name)
		}
		dir := def.Dir
		if dir == "" {
			dir = cfg.Shell.WorkingDir
		}
		return NewShell(def.Command, def.Args, dir, def.Env, cfg.Shell.AllowedCommands)

	case config.CallableHTTP:
		if !cfg.HTTP.Enabled {
			return nil, fmt.Errorf("callable %q: http invoker is disabled", def.Name)
		}
		timeout := time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second
		return NewHTTP(def.URL, def.Method, def.Headers, def.Body, def.Render, timeout, cfg.HTTP.MaxBodyBytes, cfg.HTTP.UserAgent)

	case config.CallableDocker:
		if !cfg.Docker.Enabled {
			return nil, fmt.Errorf("callable %q: docker invoker is disabled", def.Name)
		}
		if deps.Docker == nil {
			return nil, fmt.Errorf("callable %q: docker client is not available", def.Name)
		}
		if def.Image == "" {
			return nil, fmt.Errorf("callable %q: image is required", def.Name)
		}
		d := cfg.Docker
		return &Docker{
			API: deps.Docker,
			Spec: ContainerSpec{
				Image:       def.Image,
				Cmd:         def.Cmd,
				Env:         envList(def.Env),
				Memory:      ParseMemory(d.MemoryLimit),
				NanoCPUs:    int64(d.CPULimit * 1e9),
				PidsLimit:   d.PidsLimit,
				Network:     d.Network,
				SecurityOpt: d.SecurityOpt,
			},
			PullPolicy:   d.PullPolicy,
			PollInterval: time.Duration(d.PollInterval) * time.Millisecond,
			Breaker:      deps.Breaker,
		}, nil

	default:
		return nil, fmt.Errorf("callable %q: unknown kind %q", def.Name, def.Kind)
	}
}

// RegisterAll builds every configured callable and registers it. It stops at
// the first failure.
func RegisterAll(reg *registry.Registry, cfg *config.Config, deps Deps, log *logger.Logger) error {
	for _, def := range cfg.Callables {
		inv, err := Build(def, cfg.Invokers, deps)
		if err != nil {
			return err
		}
		if err := reg.Register(def.Name, inv); err != nil {
			return fmt.Errorf("callable %q: %w", def.Name, err)
		}
		log.Debug("callable registered",
			logger.Field{Key: "callable", Value: def.Name},
			logger.Field{Key: "kind", Value: def.Kind})
	}
	return nil
}

// NeedsDocker reports whether any callable uses the docker backend.
func NeedsDocker(cfg *config.Config) bool {
	for _, def := range cfg.Callables {
		if def.Kind == config.CallableDocker {
			return true
		}
	}
	return false
}

// Builtins registers the callables every daemon has, unless a configured
// callable already took the name.
func Builtins(reg *registry.Registry) error {
	names := map[string]registry.Func{
		"noop": func(context.Context) (string, error) { return "", nil },
		"sleep": func(ctx context.Context) (string, error) {
			select {
			case <-time.After(time.Second):
				return "slept 1s", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}

	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := reg.Resolve(k); err == nil {
			continue
		}
		if err := reg.Register(k, names[k]); err != nil {
			return err
		}
	}
	return nil
}

// tail keeps the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
