package builders

import (
	"context"
	"fmt"

	"github.com/aatumaykin/nexcron/internal/config"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/notify"
)

type TelegramBuilder struct {
	config *config.Config
	logger *logger.Logger
}

func NewTelegramBuilder(cfg *config.Config, log *logger.Logger) *TelegramBuilder {
	return &TelegramBuilder{
		config: cfg,
		logger: log,
	}
}

// Build connects the Telegram notifier, or returns nil when disabled.
func (b *TelegramBuilder) Build(ctx context.Context) (*notify.Notifier, error) {
	tg := b.config.Notify.Telegram
	if !tg.Enabled {
		b.logger.Info("telegram notifications disabled")
		return nil, nil
	}

	n, err := notify.NewTelegram(ctx, tg, b.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start telegram notifier: %w", err)
	}
	return n, nil
}
