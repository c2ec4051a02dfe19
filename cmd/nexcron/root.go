package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/nexcron/internal/config"
	"github.com/aatumaykin/nexcron/internal/constants"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nexcron",
	Short: "nexcron - in-process job scheduler daemon",
	Long: `nexcron runs named callables on cron, interval and one-shot schedules
with a bounded worker pool. The daemon is started with "serve"; the other
commands talk to it over a unix socket in the workspace.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: ./config.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schedulerCmd)
}

// loadConfig reads the config named by --config. Without the flag a missing
// ./config.toml falls back to defaults so CLI commands can still find the
// default workspace.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvOptional(constants.DefaultEnvPath); err != nil {
		return nil, err
	}

	if configPath != "" {
		return config.Load(configPath)
	}

	cfg, err := config.Load(constants.DefaultConfigPath)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(constants.DefaultConfigPath); errors.Is(statErr, fs.ErrNotExist) {
		return config.Parse(nil)
	}
	return nil, err
}
