package builders

import (
	"context"
	"fmt"
	"time"

	"github.com/aatumaykin/nexcron/internal/config"
	"github.com/aatumaykin/nexcron/internal/invoke"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/registry"
)

// DockerConnector opens a docker daemon connection.
type DockerConnector func(ctx context.Context) (invoke.ContainerAPI, error)

func connectDocker(ctx context.Context) (invoke.ContainerAPI, error) {
	return invoke.NewDockerClient(ctx)
}

type InvokerBuilder struct {
	config  *config.Config
	logger  *logger.Logger
	connect DockerConnector
}

func NewInvokerBuilder(cfg *config.Config, log *logger.Logger) *InvokerBuilder {
	return &InvokerBuilder{
		config:  cfg,
		logger:  log,
		connect: connectDocker,
	}
}

// WithDockerConnector replaces the docker connection factory.
func (b *InvokerBuilder) WithDockerConnector(c DockerConnector) *InvokerBuilder {
	b.connect = c
	return b
}

// Build registers every configured callable plus the built-ins. The returned
// ContainerAPI is nil unless a docker callable is configured; the caller
// closes it.
func (b *InvokerBuilder) Build(ctx context.Context) (*registry.Registry, invoke.ContainerAPI, error) {
	reg := registry.New()
	var deps invoke.Deps

	if invoke.NeedsDocker(b.config) && b.config.Invokers.Docker.Enabled {
		d := b.config.Invokers.Docker
		b.logger.Info("connecting to docker daemon")

		api, err := b.connect(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to docker: %w", err)
		}
		deps.Docker = api
		deps.Breaker = invoke.NewCircuitBreaker(d.CircuitBreakerThreshold, time.Duration(d.CircuitBreakerTimeout)*time.Second)
	}

	if err := invoke.RegisterAll(reg, b.config, deps, b.logger); err != nil {
		if deps.Docker != nil {
			_ = deps.Docker.Close()
		}
		return nil, nil, err
	}
	if err := invoke.Builtins(reg); err != nil {
		if deps.Docker != nil {
			_ = deps.Docker.Close()
		}
		return nil, nil, err
	}

	b.logger.Info("callables registered", logger.Field{Key: "callables", Value: reg.Names()})
	return reg, deps.Docker, nil
}
