package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/aatumaykin/nexcron/internal/logger"
)

var (
	ErrQueueFull      = errors.New("event queue is full")
	ErrAlreadyStarted = errors.New("event bus is already started")
	ErrNotStarted     = errors.New("event bus is not started")
)

const defaultSubscriberBuffer = 32

type subscriber struct {
	ch    chan Event
	types map[EventType]bool
}

func (s *subscriber) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Bus fans events out to subscribers.
type Bus struct {
	mu      sync.RWMutex
	logger  *logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	done    chan struct{}

	eventCh      chan Event
	subscribers  map[int64]*subscriber
	subscriberID int64
}

// New creates a bus whose central queue holds capacity events.
func New(capacity int, log *logger.Logger) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{
		logger:      log.Component("bus"),
		eventCh:     make(chan Event, capacity),
		subscribers: make(map[int64]*subscriber),
	}
}

// Start launches the distribution goroutine.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrAlreadyStarted
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	b.started = true

	go b.distribute(b.ctx, b.eventCh, b.done)

	b.logger.Info("event bus started", logger.Field{Key: "capacity", Value: cap(b.eventCh)})
	return nil
}

// Stop stops distribution and closes every subscriber channel. Events still
// queued are delivered first.
func (b *Bus) Stop() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return ErrNotStarted
	}
	b.started = false
	close(b.eventCh)
	done := b.done
	b.mu.Unlock()

	<-done
	b.cancel()

	b.mu.Lock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.eventCh = make(chan Event, cap(b.eventCh))
	b.mu.Unlock()

	b.logger.Info("event bus stopped")
	return nil
}

// Publish queues an event without blocking.
func (b *Bus) Publish(ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.started {
		return ErrNotStarted
	}

	select {
	case b.eventCh <- ev:
		return nil
	default:
		b.logger.Warn("event queue full, dropping event",
			logger.Field{Key: "type", Value: ev.Type},
			logger.Field{Key: "job_id", Value: ev.JobID})
		return ErrQueueFull
	}
}

// Subscribe registers a subscriber for the given event types (all when none
// are given). The returned cancel func unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int, types ...EventType) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	sub := &subscriber{ch: make(chan Event, buffer), types: make(map[EventType]bool)}
	for _, t := range types {
		sub.types[t] = true
	}

	b.mu.Lock()
	b.subscriberID++
	id := b.subscriberID
	b.subscribers[id] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", logger.Field{Key: "subscriber_id", Value: id})

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subscribers[id]; ok {
				close(s.ch)
				delete(b.subscribers, id)
			}
		})
	}
}

// IsStarted reports whether the bus accepts events.
func (b *Bus) IsStarted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.started
}

func (b *Bus) distribute(ctx context.Context, events <-chan Event, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.fanOut(ev)
		}
	}
}

func (b *Bus) fanOut(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subscribers {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("subscriber buffer full, dropping event",
				logger.Field{Key: "subscriber_id", Value: id},
				logger.Field{Key: "type", Value: ev.Type})
		}
	}
}
