package builders

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aatumaykin/nexcron/internal/config"
	"github.com/aatumaykin/nexcron/internal/executor"
	"github.com/aatumaykin/nexcron/internal/jobs"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/scheduler"
	"github.com/aatumaykin/nexcron/internal/trigger"
)

type SchedulerBuilder struct {
	config   *config.Config
	logger   *logger.Logger
	registry prometheus.Registerer
}

// NewSchedulerBuilder creates a builder. A nil registerer disables metrics.
func NewSchedulerBuilder(cfg *config.Config, log *logger.Logger, reg prometheus.Registerer) *SchedulerBuilder {
	return &SchedulerBuilder{
		config:   cfg,
		logger:   log,
		registry: reg,
	}
}

// Build creates the executor pool and the scheduler. Neither is started.
func (b *SchedulerBuilder) Build(pub scheduler.Publisher) (*scheduler.Scheduler, *executor.Pool, error) {
	sc := b.config.Scheduler

	engine, err := trigger.NewEngineForZone(sc.DefaultTimezone)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trigger engine: %w", err)
	}

	var (
		execMetrics  *executor.Metrics
		schedMetrics *scheduler.Metrics
	)
	if b.registry != nil {
		execMetrics = executor.NewMetrics(b.config.Metrics.Namespace, b.registry)
		schedMetrics = scheduler.NewMetrics(b.config.Metrics.Namespace, b.registry)
	}

	pool := executor.New(executor.Config{MaxConcurrent: sc.MaxConcurrentJobs}, b.logger, execMetrics)

	opts := []scheduler.Option{scheduler.WithMetrics(schedMetrics)}
	if pub != nil {
		opts = append(opts, scheduler.WithPublisher(pub))
	}

	sched := scheduler.New(jobs.NewStore(), engine, pool, b.logger, scheduler.Config{
		MaxConsecutiveFailures: sc.MaxConsecutiveFailures,
		DefaultTimeout:         sc.JobTimeout(),
	}, opts...)

	b.logger.Info("scheduler built",
		logger.Field{Key: "max_concurrent_jobs", Value: sc.MaxConcurrentJobs},
		logger.Field{Key: "timezone", Value: engine.Location().String()},
		logger.Field{Key: "max_consecutive_failures", Value: sc.MaxConsecutiveFailures})
	return sched, pool, nil
}
