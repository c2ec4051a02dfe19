package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{
		Workspace: WorkspaceConfig{Path: "/var/lib/nexcron"},
		Invokers: InvokersConfig{
			Shell: ShellInvokerConfig{Enabled: true, AllowedCommands: []string{"echo"}},
			HTTP:  HTTPInvokerConfig{Enabled: true},
		},
	}
	applyDefaults(cfg)
	return cfg
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	tests := []struct {
		name string
		want any
		got  any
	}{
		{"workspace path", DefaultWorkspace, cfg.Workspace.Path},
		{"max concurrent", 3, cfg.Scheduler.MaxConcurrentJobs},
		{"timezone", "UTC", cfg.Scheduler.DefaultTimezone},
		{"logging level", "info", cfg.Logging.Level},
		{"logging format", "json", cfg.Logging.Format},
		{"logging output", "stdout", cfg.Logging.Output},
		{"metrics listen", DefaultMetricsListen, cfg.Metrics.Listen},
		{"metrics namespace", "nexcron", cfg.Metrics.Namespace},
		{"telegram rate", 20, cfg.Notify.Telegram.MaxPerMinute},
		{"http timeout", 30, cfg.Invokers.HTTP.TimeoutSeconds},
		{"docker pull policy", "if-not-present", cfg.Invokers.Docker.PullPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
	assert.Equal(t, DefaultNotifyEvents, cfg.Notify.Telegram.Events)
}

func TestParse(t *testing.T) {
	t.Setenv("NEXCRON_TEST_TOKEN", "123456789:ABCdefGHIjklMNOpqr")

	data := []byte(`
[workspace]
path = "/tmp/nexcron-test"

[scheduler]
max_concurrent_jobs = 5
default_timezone = "Europe/Moscow"
max_consecutive_failures = 3
job_timeout_seconds = 60
jobs_file = "jobs.yaml"
watch_jobs_file = false

[logging]
level = "debug"
format = "text"

[notify.telegram]
enabled = true
token = "${NEXCRON_TEST_TOKEN}"
chat_id = 42

[invokers.shell]
allowed_commands = ["echo"]

[[callables]]
name = "hello"
kind = "shell"
command = "echo"
args = ["hi"]

[[callables]]
name = "status"
kind = "http"
url = "https://example.com/health"
render = "text"
`)

	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Scheduler.MaxConcurrentJobs)
	assert.Equal(t, 3, cfg.Scheduler.MaxConsecutiveFailures)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.JobTimeout())
	assert.False(t, cfg.Scheduler.WatchJobsFile)
	assert.True(t, cfg.Scheduler.Persist, "persist defaults to true when omitted")
	assert.True(t, cfg.Invokers.Shell.Enabled)
	assert.Equal(t, "123456789:ABCdefGHIjklMNOpqr", cfg.Notify.Telegram.Token)
	assert.Equal(t, filepath.Join("/tmp/nexcron-test", "jobs.yaml"), cfg.JobsFilePath())
	assert.Equal(t, filepath.Join("/tmp/nexcron-test", ".nexcron.sock"), cfg.SocketPath())
	require.Len(t, cfg.Callables, 2)
	assert.Equal(t, "GET", cfg.Callables[1].Method)

	assert.Empty(t, cfg.Validate())
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("[scheduler\nbroken"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[workspace]\npath = \"~/nexcron\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "nexcron"), cfg.Workspace.Path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Scheduler.MaxConcurrentJobs = 0 },
			wantErr: "max_concurrent_jobs",
		},
		{
			name:    "unknown timezone",
			mutate:  func(c *Config) { c.Scheduler.DefaultTimezone = "Mars/Olympus" },
			wantErr: "default_timezone",
		},
		{
			name:    "negative failure threshold",
			mutate:  func(c *Config) { c.Scheduler.MaxConsecutiveFailures = -1 },
			wantErr: "max_consecutive_failures",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "path traversal",
			mutate:  func(c *Config) { c.Workspace.Path = "/srv/../etc" },
			wantErr: "path traversal",
		},
		{
			name: "telegram without chat",
			mutate: func(c *Config) {
				c.Notify.Telegram.Enabled = true
				c.Notify.Telegram.Token = "123456789:ABCdefGHIjklMNOpqr"
			},
			wantErr: "chat_id",
		},
		{
			name: "telegram malformed token",
			mutate: func(c *Config) {
				c.Notify.Telegram.Enabled = true
				c.Notify.Telegram.Token = "nocolon"
				c.Notify.Telegram.ChatID = 1
			},
			wantErr: "invalid format",
		},
		{
			name: "shell command not allowed",
			mutate: func(c *Config) {
				c.Callables = []CallableConfig{{Name: "rm", Kind: CallableShell, Command: "rm"}}
			},
			wantErr: "not in invokers.shell.allowed_commands",
		},
		{
			name: "duplicate callable",
			mutate: func(c *Config) {
				c.Callables = []CallableConfig{
					{Name: "a", Kind: CallableShell, Command: "echo"},
					{Name: "a", Kind: CallableShell, Command: "echo"},
				}
			},
			wantErr: "duplicate",
		},
		{
			name: "http without url",
			mutate: func(c *Config) {
				c.Callables = []CallableConfig{{Name: "h", Kind: CallableHTTP, URL: "ftp://x"}}
			},
			wantErr: "url must be http",
		},
		{
			name: "docker disabled",
			mutate: func(c *Config) {
				c.Callables = []CallableConfig{{Name: "d", Kind: CallableDocker, Image: "alpine"}}
			},
			wantErr: "docker invoker is disabled",
		},
		{
			name: "unknown kind",
			mutate: func(c *Config) {
				c.Callables = []CallableConfig{{Name: "x", Kind: "lambda"}}
			},
			wantErr: "invalid kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()

			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.NotEmpty(t, errs)
			var msgs []string
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			assert.Contains(t, strings.Join(msgs, "\n"), tt.wantErr)
		})
	}
}

func TestDockerInvokerConfigValidate(t *testing.T) {
	cfg := DefaultDockerInvokerConfig()
	assert.NoError(t, cfg.Validate(), "disabled config is always valid")

	cfg.Enabled = true
	assert.NoError(t, cfg.Validate())

	cfg.MemoryLimit = "lots"
	assert.Error(t, cfg.Validate())

	cfg = DefaultDockerInvokerConfig()
	cfg.Enabled = true
	cfg.PullPolicy = "sometimes"
	assert.Error(t, cfg.Validate())
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.Telegram.Token = "123456789:ABCdefGHIjklMNOpqr"
	cfg.Callables = []CallableConfig{{
		Name:    "api",
		Kind:    CallableHTTP,
		URL:     "https://example.com",
		Headers: map[string]string{"Authorization": "Bearer supersecrettoken"},
	}}

	r := cfg.Redacted()
	assert.True(t, strings.HasPrefix(r.Notify.Telegram.Token, "123456789:"))
	assert.NotContains(t, r.Notify.Telegram.Token, "GHIjkl")
	assert.NotContains(t, r.Callables[0].Headers["Authorization"], "secret")
	assert.Equal(t, "Bearer supersecrettoken", cfg.Callables[0].Headers["Authorization"], "original untouched")
}
