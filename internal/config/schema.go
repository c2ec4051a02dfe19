// Package config provides configuration loading and validation for nexcron.
// It supports TOML configuration files with environment variable expansion,
// default values, and validation.
//
// Configuration structure:
//   - [workspace]: directory holding the pid file, IPC socket and job snapshots
//   - [scheduler]: concurrency ceiling, timezone, failure threshold, job file
//   - [logging]: logging level, format, and output
//   - [metrics]: Prometheus endpoint
//   - [notify.telegram]: failure notifications
//   - [invokers]: shell, http and docker callable backends
//   - [[callables]]: named callables jobs can refer to
//
// Environment variables:
// Environment variables can be referenced using ${VAR} or ${VAR:default} syntax.
// For example: token = "${TELEGRAM_BOT_TOKEN:}"
package config

import (
	"path/filepath"
	"time"
)

const (
	// SnapshotFile хранит runtime jobs, добавленные через IPC
	SnapshotFile = "jobs.jsonl"
	// SocketFile is the IPC socket name inside the workspace
	SocketFile = ".nexcron.sock"
	// PIDFile is the pid file name inside the workspace
	PIDFile = ".nexcron.pid"
)

// Config represents the main application configuration.
type Config struct {
	Workspace WorkspaceConfig  `toml:"workspace"`
	Scheduler SchedulerConfig  `toml:"scheduler"`
	Logging   LoggingConfig    `toml:"logging"`
	Metrics   MetricsConfig    `toml:"metrics"`
	Notify    NotifyConfig     `toml:"notify"`
	Invokers  InvokersConfig   `toml:"invokers"`
	Callables []CallableConfig `toml:"callables"`
}

// WorkspaceConfig представляет конфигурацию workspace
type WorkspaceConfig struct {
	Path string `toml:"path"`
}

// SchedulerConfig представляет конфигурацию планировщика
type SchedulerConfig struct {
	MaxConcurrentJobs      int    `toml:"max_concurrent_jobs"`
	DefaultTimezone        string `toml:"default_timezone"`
	MaxConsecutiveFailures int    `toml:"max_consecutive_failures"`
	JobTimeoutSeconds      int    `toml:"job_timeout_seconds"`
	JobsFile               string `toml:"jobs_file"`
	WatchJobsFile          bool   `toml:"watch_jobs_file"`
	Persist                bool   `toml:"persist"`
	EventBufferSize        int    `toml:"event_buffer_size"`
}

// JobTimeout returns the default per-job deadline (0 means none).
func (c *SchedulerConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// LoggingConfig представляет конфигурацию логирования
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// MetricsConfig представляет конфигурацию Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Listen    string `toml:"listen"`
	Namespace string `toml:"namespace"`
}

// NotifyConfig представляет конфигурацию уведомлений
type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

// TelegramConfig представляет конфигурацию Telegram уведомлений
type TelegramConfig struct {
	Enabled            bool     `toml:"enabled"`
	Token              string   `toml:"token"`
	ChatID             int64    `toml:"chat_id"`
	Events             []string `toml:"events"`
	MaxPerMinute       int      `toml:"max_per_minute"`
	SendTimeoutSeconds int      `toml:"send_timeout_seconds"`
}

// InvokersConfig представляет конфигурацию backends для callables
type InvokersConfig struct {
	Shell  ShellInvokerConfig  `toml:"shell"`
	HTTP   HTTPInvokerConfig   `toml:"http"`
	Docker DockerInvokerConfig `toml:"docker"`
}

// ShellInvokerConfig представляет конфигурацию shell callables
type ShellInvokerConfig struct {
	Enabled         bool     `toml:"enabled"`
	AllowedCommands []string `toml:"allowed_commands"`
	WorkingDir      string   `toml:"working_dir"`
}

// HTTPInvokerConfig представляет конфигурацию http callables
type HTTPInvokerConfig struct {
	Enabled        bool   `toml:"enabled"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxBodyBytes   int64  `toml:"max_body_bytes"`
	UserAgent      string `toml:"user_agent"`
}

// DockerInvokerConfig представляет конфигурацию docker callables
type DockerInvokerConfig struct {
	Enabled      bool     `toml:"enabled"`
	PullPolicy   string   `toml:"pull_policy"`
	MemoryLimit  string   `toml:"memory_limit"`
	CPULimit     float64  `toml:"cpu_limit"`
	PidsLimit    int64    `toml:"pids_limit"`
	Network      string   `toml:"network"`
	SecurityOpt  []string `toml:"security_opt"`
	PollInterval int      `toml:"poll_interval_ms"`

	CircuitBreakerThreshold int `toml:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   int `toml:"circuit_breaker_timeout_seconds"`
}

// CallableConfig describes one named callable. Which fields apply depends on Kind.
type CallableConfig struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`

	// shell
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Dir     string            `toml:"dir"`
	Env     map[string]string `toml:"env"`

	// http
	URL     string            `toml:"url"`
	Method  string            `toml:"method"`
	Headers map[string]string `toml:"headers"`
	Body    string            `toml:"body"`
	Render  string            `toml:"render"`

	// docker
	Image string   `toml:"image"`
	Cmd   []string `toml:"cmd"`
}

const (
	CallableShell  = "shell"
	CallableHTTP   = "http"
	CallableDocker = "docker"
)

// SocketPath возвращает путь к IPC сокету
func (c *Config) SocketPath() string {
	return filepath.Join(c.Workspace.Path, SocketFile)
}

// PIDPath возвращает путь к pid файлу
func (c *Config) PIDPath() string {
	return filepath.Join(c.Workspace.Path, PIDFile)
}

// SnapshotPath возвращает путь к JSONL снапшоту jobs
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.Workspace.Path, SnapshotFile)
}

// JobsFilePath resolves scheduler.jobs_file against the workspace.
// Empty means no declarative job file.
func (c *Config) JobsFilePath() string {
	p := c.Scheduler.JobsFile
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Workspace.Path, p)
}
