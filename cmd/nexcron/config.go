package main

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/aatumaykin/nexcron/internal/config"
	"github.com/aatumaykin/nexcron/internal/constants"
	"github.com/aatumaykin/nexcron/internal/invoke"
	"github.com/aatumaykin/nexcron/internal/jobfile"
	"github.com/aatumaykin/nexcron/internal/logger"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Validate and inspect nexcron configuration.`,
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long: `Validate the configuration file and the jobs file it references.
Callables are registered exactly as the daemon would register them, without
connecting to docker.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.New(logger.Config{
			Level:  constants.DefaultLogLevel,
			Format: "text",
			Output: "stderr",
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		path := constants.DefaultConfigPath
		if configPath != "" {
			path = configPath
		}
		if len(args) > 0 {
			path = args[0]
		}

		log.Info("Validating configuration", logger.Field{Key: "path", Value: path})
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		return validate(cmd, cfg, log)
	},
}

// configShowCmd prints the effective configuration with secrets masked.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg.Redacted())
	},
}

func validate(cmd *cobra.Command, cfg *config.Config, log *logger.Logger) error {
	var errs []error
	for _, e := range cfg.Validate() {
		log.Error("Validation error", e)
		errs = append(errs, e)
	}

	// docker callables need a daemon connection; config.Validate covers them
	if len(errs) == 0 {
		for _, def := range cfg.Callables {
			if def.Kind == config.CallableDocker {
				continue
			}
			if _, err := invoke.Build(def, cfg.Invokers, invoke.Deps{}); err != nil {
				log.Error("Callable error", err)
				errs = append(errs, err)
			}
		}
	}

	if path := cfg.JobsFilePath(); path != "" {
		defs, err := jobfile.Load(path)
		if err != nil {
			log.Error("Jobs file error", err)
			errs = append(errs, err)
		} else {
			log.Info("Jobs file is valid",
				logger.Field{Key: "path", Value: path},
				logger.Field{Key: "jobs", Value: len(defs)})
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
	return nil
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
