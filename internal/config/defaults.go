package config

const (
	DefaultWorkspace       = "~/.nexcron"
	DefaultMetricsListen   = "127.0.0.1:9464"
	DefaultNamespace       = "nexcron"
	DefaultMaxConcurrent   = 3
	DefaultEventBufferSize = 256
)

// DefaultNotifyEvents are the events forwarded to Telegram when none are configured.
var DefaultNotifyEvents = []string{"job.failed", "job.failed_terminal"}

func DefaultDockerInvokerConfig() DockerInvokerConfig {
	return DockerInvokerConfig{
		Enabled:      false,
		PullPolicy:   "if-not-present",
		MemoryLimit:  "128m",
		CPULimit:     0.5,
		PidsLimit:    50,
		Network:      "none",
		SecurityOpt:  []string{"no-new-privileges"},
		PollInterval: 200,

		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30,
	}
}

// applyDefaults применяет значения по умолчанию
func applyDefaults(c *Config) {
	if c.Workspace.Path == "" {
		c.Workspace.Path = DefaultWorkspace
	}

	if c.Scheduler.MaxConcurrentJobs == 0 {
		c.Scheduler.MaxConcurrentJobs = DefaultMaxConcurrent
	}
	if c.Scheduler.DefaultTimezone == "" {
		c.Scheduler.DefaultTimezone = "UTC"
	}
	if c.Scheduler.EventBufferSize == 0 {
		c.Scheduler.EventBufferSize = DefaultEventBufferSize
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = DefaultMetricsListen
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultNamespace
	}

	tg := &c.Notify.Telegram
	if len(tg.Events) == 0 {
		tg.Events = append([]string(nil), DefaultNotifyEvents...)
	}
	if tg.MaxPerMinute == 0 {
		tg.MaxPerMinute = 20
	}
	if tg.SendTimeoutSeconds == 0 {
		tg.SendTimeoutSeconds = 10
	}

	if c.Invokers.HTTP.TimeoutSeconds == 0 {
		c.Invokers.HTTP.TimeoutSeconds = 30
	}
	if c.Invokers.HTTP.MaxBodyBytes == 0 {
		c.Invokers.HTTP.MaxBodyBytes = 1 << 20
	}
	if c.Invokers.HTTP.UserAgent == "" {
		c.Invokers.HTTP.UserAgent = "nexcron"
	}

	d := &c.Invokers.Docker
	def := DefaultDockerInvokerConfig()
	if d.PullPolicy == "" {
		d.PullPolicy = def.PullPolicy
	}
	if d.MemoryLimit == "" {
		d.MemoryLimit = def.MemoryLimit
	}
	if d.CPULimit == 0 {
		d.CPULimit = def.CPULimit
	}
	if d.PidsLimit == 0 {
		d.PidsLimit = def.PidsLimit
	}
	if d.Network == "" {
		d.Network = def.Network
	}
	if d.SecurityOpt == nil {
		d.SecurityOpt = def.SecurityOpt
	}
	if d.PollInterval == 0 {
		d.PollInterval = def.PollInterval
	}
	if d.CircuitBreakerThreshold == 0 {
		d.CircuitBreakerThreshold = def.CircuitBreakerThreshold
	}
	if d.CircuitBreakerTimeout == 0 {
		d.CircuitBreakerTimeout = def.CircuitBreakerTimeout
	}

	for i := range c.Callables {
		if c.Callables[i].Kind == CallableHTTP && c.Callables[i].Method == "" {
			c.Callables[i].Method = "GET"
		}
	}
}
