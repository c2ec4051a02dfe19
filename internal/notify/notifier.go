// Package notify forwards selected job lifecycle events to a Telegram chat.
//
// The notifier is a plain bus subscriber. Sends are rate limited; events over
// the limit are dropped and counted, and the count is appended to the next
// message that gets through.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	"golang.org/x/time/rate"

	"github.com/aatumaykin/nexcron/internal/bus"
	"github.com/aatumaykin/nexcron/internal/config"
	"github.com/aatumaykin/nexcron/internal/logger"
	"github.com/aatumaykin/nexcron/internal/retry"
)

// maxMessageLen stays under Telegram's 4096 character limit.
const maxMessageLen = 4000

// Subscriber is the part of the event bus the notifier needs.
type Subscriber interface {
	Subscribe(buffer int, types ...bus.EventType) (<-chan bus.Event, func())
}

// Notifier sends one Telegram message per matching event.
type Notifier struct {
	cfg     config.TelegramConfig
	bot     BotInterface
	logger  *logger.Logger
	limiter *rate.Limiter
	retry   retry.Config
	types   []bus.EventType

	mu          sync.Mutex
	unsubscribe func()
	done        chan struct{}
	suppressed  int
}

// New creates a notifier around an existing bot.
func New(cfg config.TelegramConfig, bot BotInterface, log *logger.Logger) *Notifier {
	perMinute := cfg.MaxPerMinute
	if perMinute < 1 {
		perMinute = 1
	}

	types := make([]bus.EventType, 0, len(cfg.Events))
	for _, name := range cfg.Events {
		types = append(types, bus.EventType(name))
	}

	return &Notifier{
		cfg:     cfg,
		bot:     bot,
		logger:  log.Component("notify"),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		retry:   retry.Config{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: 5 * time.Second},
		types:   types,
	}
}

// NewTelegram connects to the Bot API and checks the token with getMe.
func NewTelegram(ctx context.Context, cfg config.TelegramConfig, log *logger.Logger) (*Notifier, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}
	adapter := NewBotAdapter(bot)

	me, err := adapter.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}

	n := New(cfg, adapter, log)
	n.logger.Info("telegram bot initialized",
		logger.Field{Key: "bot_id", Value: me.ID},
		logger.Field{Key: "username", Value: me.Username},
		logger.Field{Key: "chat_id", Value: cfg.ChatID})
	return n, nil
}

// Start subscribes to the configured event types and begins sending.
func (n *Notifier) Start(ctx context.Context, src Subscriber) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.done != nil {
		return errors.New("notifier already started")
	}
	if len(n.types) == 0 {
		n.logger.Warn("no notification events configured")
	}

	events, unsubscribe := src.Subscribe(64, n.types...)
	n.unsubscribe = unsubscribe
	n.done = make(chan struct{})

	go n.run(ctx, events, n.done)

	n.logger.Info("notifier started",
		logger.Field{Key: "events", Value: n.cfg.Events},
		logger.Field{Key: "max_per_minute", Value: n.cfg.MaxPerMinute})
	return nil
}

// Stop unsubscribes and waits for the in-flight send to finish.
func (n *Notifier) Stop() {
	n.mu.Lock()
	unsubscribe, done := n.unsubscribe, n.done
	n.unsubscribe, n.done = nil, nil
	n.mu.Unlock()

	if done == nil {
		return
	}
	unsubscribe()
	<-done
	n.logger.Info("notifier stopped")
}

func (n *Notifier) run(ctx context.Context, events <-chan bus.Event, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.handle(ctx, ev)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, ev bus.Event) {
	if !n.limiter.Allow() {
		n.mu.Lock()
		n.suppressed++
		n.mu.Unlock()
		n.logger.Warn("notification rate limit reached, dropping event",
			logger.Field{Key: "type", Value: ev.Type},
			logger.Field{Key: "job_id", Value: ev.JobID})
		return
	}

	n.mu.Lock()
	suppressed := n.suppressed
	n.suppressed = 0
	n.mu.Unlock()

	text := Format(ev)
	if suppressed > 0 {
		text += fmt.Sprintf("\n(%d earlier notifications suppressed)", suppressed)
	}

	params := &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: n.cfg.ChatID},
		Text:   text,
	}
	err := retry.Do(ctx, n.retry, n.logger, func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, time.Duration(n.cfg.SendTimeoutSeconds)*time.Second)
		defer cancel()
		_, err := n.bot.SendMessage(sendCtx, params)
		return err
	})
	if err != nil {
		n.logger.Error("failed to send notification", err,
			logger.Field{Key: "type", Value: ev.Type},
			logger.Field{Key: "job_id", Value: ev.JobID})
		return
	}

	n.logger.Debug("notification sent",
		logger.Field{Key: "type", Value: ev.Type},
		logger.Field{Key: "job_id", Value: ev.JobID})
}

// Format renders an event as a plain-text message.
func Format(ev bus.Event) string {
	var sb strings.Builder

	name := ev.JobName
	if name == "" {
		name = ev.Callable
	}
	fmt.Fprintf(&sb, "[%s] job %q (#%d)", ev.Type, name, ev.JobID)

	switch ev.Type {
	case bus.EventJobFailed:
		sb.WriteString(" failed")
	case bus.EventJobFailedTerminal:
		sb.WriteString(" halted after repeated failures")
	case bus.EventJobSucceeded:
		sb.WriteString(" succeeded")
	case bus.EventJobDone:
		sb.WriteString(" finished its schedule")
	}

	if ev.Reason != "" {
		fmt.Fprintf(&sb, "\nreason: %s", ev.Reason)
	}
	if ev.Failures > 0 {
		fmt.Fprintf(&sb, "\nconsecutive failures: %d", ev.Failures)
	}
	if ev.RunID != "" {
		fmt.Fprintf(&sb, "\nrun: %s", ev.RunID)
	}
	if ev.NextRun != nil {
		fmt.Fprintf(&sb, "\nnext run: %s", ev.NextRun.Format(time.RFC3339))
	}
	if !ev.Timestamp.IsZero() {
		fmt.Fprintf(&sb, "\nat: %s", ev.Timestamp.Format(time.RFC3339))
	}

	text := sb.String()
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen-3] + "..."
	}
	return text
}
