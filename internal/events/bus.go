// File: internal/events/bus.go
// Package events provides the in-process progress event bus. Producers
// (agent loop, replay interpreter, batch orchestrator) publish without
// blocking; slow subscribers lose events rather than stalling execution.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// Bus is a fan-out publisher of schemas.Event. Delivery is best-effort: a
// subscriber whose buffer is full is skipped, never waited on.
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]chan schemas.Event
	bufferSize  int
	isShutdown  bool

	dropped atomic.Uint64
}

// NewBus initializes the bus. bufferSize bounds each subscriber's queue.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		logger:      logger.Named("events"),
		subscribers: make(map[string]chan schemas.Event),
		bufferSize:  bufferSize,
	}
}

// Publish fans the event out to every subscriber. It never blocks: a full
// buffer means the subscriber misses this event. Publishing after Shutdown
// is a silent no-op.
func (b *Bus) Publish(ev schemas.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.isShutdown {
		return
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Debug("Dropping event for slow subscriber.",
				zap.String("subscriber_id", id),
				zap.String("event_type", string(ev.Type)))
		}
	}
}

// Subscribe registers a new subscriber and returns its id, its receive
// channel, and an unsubscribe function. Unsubscribing closes the channel.
func (b *Bus) Subscribe() (string, <-chan schemas.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan schemas.Event, b.bufferSize)
	if b.isShutdown {
		close(ch)
		return id, ch, func() {}
	}
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[id]; !ok {
			return
		}
		delete(b.subscribers, id)
		close(ch)
	}
	return id, ch, unsubscribe
}

// SubscriberCount reports the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped reports how many events were discarded for slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Shutdown closes every subscriber channel and rejects further publishes.
// Safe to call more than once.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isShutdown {
		return
	}
	b.isShutdown = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
