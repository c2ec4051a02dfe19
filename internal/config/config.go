package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
)

// Load загружает конфигурацию из TOML файла
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse разбирает TOML, применяет defaults и раскрывает переменные окружения
func Parse(data []byte) (*Config, error) {
	cfg := Config{
		Scheduler: SchedulerConfig{WatchJobsFile: true, Persist: true},
		Invokers: InvokersConfig{
			Shell: ShellInvokerConfig{Enabled: true},
			HTTP:  HTTPInvokerConfig{Enabled: true},
		},
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := expandEnvVars(&cfg); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	return &cfg, nil
}

// Validate проверяет валидность конфигурации
func (c *Config) Validate() []error {
	var errors []error

	// Проверка workspace
	if c.Workspace.Path == "" {
		errors = append(errors, fmt.Errorf("workspace.path is required"))
	} else if err := validatePath(c.Workspace.Path, "workspace.path"); err != nil {
		errors = append(errors, err)
	}

	// Проверка scheduler
	if c.Scheduler.MaxConcurrentJobs < 1 {
		errors = append(errors, fmt.Errorf("scheduler.max_concurrent_jobs must be >= 1 (got %d)", c.Scheduler.MaxConcurrentJobs))
	}
	if c.Scheduler.MaxConsecutiveFailures < 0 {
		errors = append(errors, fmt.Errorf("scheduler.max_consecutive_failures must be >= 0"))
	}
	if c.Scheduler.JobTimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("scheduler.job_timeout_seconds must be >= 0"))
	}
	if _, err := time.LoadLocation(c.Scheduler.DefaultTimezone); err != nil {
		errors = append(errors, fmt.Errorf("invalid scheduler.default_timezone: %s", c.Scheduler.DefaultTimezone))
	}

	// Проверка logging config
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errors = append(errors, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errors = append(errors, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
	}
	if c.Logging.Output == "" {
		errors = append(errors, fmt.Errorf("logging.output is required"))
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errors = append(errors, fmt.Errorf("metrics.listen is required when metrics are enabled"))
	}

	// Проверка Telegram
	if tg := c.Notify.Telegram; tg.Enabled {
		if tg.Token == "" {
			errors = append(errors, fmt.Errorf("notify.telegram.token is required when telegram is enabled"))
		} else if err := validateTelegramToken(tg.Token); err != nil {
			errors = append(errors, err)
		}
		if tg.ChatID == 0 {
			errors = append(errors, fmt.Errorf("notify.telegram.chat_id is required when telegram is enabled"))
		}
		if tg.MaxPerMinute < 1 {
			errors = append(errors, fmt.Errorf("notify.telegram.max_per_minute must be >= 1"))
		}
		for _, ev := range tg.Events {
			if !strings.HasPrefix(ev, "job.") {
				errors = append(errors, fmt.Errorf("notify.telegram.events: unknown event %q", ev))
			}
		}
	}

	// Проверка shell whitelist
	if c.Invokers.Shell.Enabled {
		for _, cmd := range c.Invokers.Shell.AllowedCommands {
			if cmd == "" {
				errors = append(errors, fmt.Errorf("invokers.shell.allowed_commands contains empty command"))
			}
		}
		if c.Invokers.Shell.WorkingDir != "" {
			if err := validatePath(c.Invokers.Shell.WorkingDir, "invokers.shell.working_dir"); err != nil {
				errors = append(errors, err)
			}
		}
	}

	if err := c.Invokers.Docker.Validate(); err != nil {
		errors = append(errors, err)
	}

	errors = append(errors, c.validateCallables()...)

	return errors
}

func (c *Config) validateCallables() []error {
	var errors []error
	seen := make(map[string]bool, len(c.Callables))

	for i, cl := range c.Callables {
		field := fmt.Sprintf("callables[%d]", i)
		if cl.Name == "" {
			errors = append(errors, fmt.Errorf("%s.name is required", field))
			continue
		}
		if seen[cl.Name] {
			errors = append(errors, fmt.Errorf("%s: duplicate callable name %q", field, cl.Name))
		}
		seen[cl.Name] = true

		switch cl.Kind {
		case CallableShell:
			if !c.Invokers.Shell.Enabled {
				errors = append(errors, fmt.Errorf("%s (%s): shell invoker is disabled", field, cl.Name))
			}
			if cl.Command == "" {
				errors = append(errors, fmt.Errorf("%s (%s): command is required", field, cl.Name))
			} else if !c.commandAllowed(cl.Command) {
				errors = append(errors, fmt.Errorf("%s (%s): command %q is not in invokers.shell.allowed_commands", field, cl.Name, cl.Command))
			}
		case CallableHTTP:
			if !c.Invokers.HTTP.Enabled {
				errors = append(errors, fmt.Errorf("%s (%s): http invoker is disabled", field, cl.Name))
			}
			if !strings.HasPrefix(cl.URL, "http://") && !strings.HasPrefix(cl.URL, "https://") {
				errors = append(errors, fmt.Errorf("%s (%s): url must be http(s), got %q", field, cl.Name, cl.URL))
			}
			switch cl.Render {
			case "", "raw", "text", "markdown":
			default:
				errors = append(errors, fmt.Errorf("%s (%s): invalid render %q (expected: raw, text, markdown)", field, cl.Name, cl.Render))
			}
		case CallableDocker:
			if !c.Invokers.Docker.Enabled {
				errors = append(errors, fmt.Errorf("%s (%s): docker invoker is disabled", field, cl.Name))
			}
			if cl.Image == "" {
				errors = append(errors, fmt.Errorf("%s (%s): image is required", field, cl.Name))
			}
		default:
			errors = append(errors, fmt.Errorf("%s (%s): invalid kind %q (expected: shell, http, docker)", field, cl.Name, cl.Kind))
		}
	}
	return errors
}

func (c *Config) commandAllowed(cmd string) bool {
	for _, allowed := range c.Invokers.Shell.AllowedCommands {
		if allowed == cmd {
			return true
		}
	}
	return false
}

func validateTelegramToken(token string) error {
	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return fmt.Errorf("telegram token has invalid format (expected format: <bot_id>:<token>, got: %s)", maskSecret(token))
	}

	botID, botToken := parts[0], parts[1]

	if len(botID) < 3 || len(botID) > 15 {
		return fmt.Errorf("telegram token has invalid bot ID length (expected 3-15 digits, got %d digits)", len(botID))
	}
	for _, r := range botID {
		if r < '0' || r > '9' {
			return fmt.Errorf("telegram token has invalid bot ID (expected digits only, got: %s)", botID)
		}
	}

	if len(botToken) < 10 || len(botToken) > 50 {
		return fmt.Errorf("telegram token has invalid token length (expected 10-50 characters, got %d)", len(botToken))
	}

	return nil
}

func validatePath(path, fieldName string) error {
	if strings.HasPrefix(path, "~") {
		return nil
	}

	if strings.Contains(path, "..") {
		return fmt.Errorf("%s contains potentially dangerous path traversal sequence", fieldName)
	}

	return nil
}

// expandEnvVars расширяет переменные окружения в конфигурации
func expandEnvVars(c *Config) error {
	c.Workspace.Path = expandHome(expandEnv(c.Workspace.Path))
	c.Scheduler.JobsFile = expandHome(expandEnv(c.Scheduler.JobsFile))
	c.Logging.Output = expandHome(expandEnv(c.Logging.Output))

	// Telegram
	c.Notify.Telegram.Token = expandEnv(c.Notify.Telegram.Token)

	c.Invokers.Shell.WorkingDir = expandHome(expandEnv(c.Invokers.Shell.WorkingDir))

	for i := range c.Callables {
		cl := &c.Callables[i]
		cl.URL = expandEnv(cl.URL)
		cl.Body = expandEnv(cl.Body)
		cl.Dir = expandHome(expandEnv(cl.Dir))
		for k, v := range cl.Headers {
			cl.Headers[k] = expandEnv(v)
		}
		for k, v := range cl.Env {
			cl.Env[k] = expandEnv(v)
		}
	}

	return nil
}

// expandEnv расширяет переменную окружения формата ${VAR:default}
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}

	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	if parts := strings.SplitN(content, ":", 2); len(parts) == 2 {
		if val := os.Getenv(parts[0]); val != "" {
			return val + s[end+1:]
		}
		return parts[1] + s[end+1:]
	}

	// Без значения по умолчанию
	return os.Getenv(content) + s[end+1:]
}

// expandHome расширяет ~ в пути
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
