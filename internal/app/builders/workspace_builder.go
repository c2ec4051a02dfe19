// Package builders assembles daemon components from configuration.
package builders

import (
	"fmt"
	"os"

	"github.com/aatumaykin/nexcron/internal/config"
	"github.com/aatumaykin/nexcron/internal/logger"
)

type WorkspaceBuilder struct {
	config *config.Config
	logger *logger.Logger
}

func NewWorkspaceBuilder(cfg *config.Config, log *logger.Logger) *WorkspaceBuilder {
	return &WorkspaceBuilder{
		config: cfg,
		logger: log,
	}
}

// Build ensures the workspace directory exists and returns its path.
func (b *WorkspaceBuilder) Build() (string, error) {
	path := b.config.Workspace.Path
	if path == "" {
		return "", fmt.Errorf("workspace path is empty")
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return "", fmt.Errorf("failed to create workspace directory: %w", err)
	}
	b.logger.Debug("workspace ready", logger.Field{Key: "path", Value: path})
	return path, nil
}
