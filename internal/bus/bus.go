// Package bus decouples the gateway read loop from event consumers with a
// bounded queue drained by a single goroutine, preserving arrival order.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/qqrelay/internal/qqbot"
)

const (
	DefaultQueueSize = 256
	dedupeTTL        = 10 * time.Minute
	dedupeMax        = 5000
)

// Consumer handles one event. Consumers run sequentially on the bus goroutine.
type Consumer func(ctx context.Context, ev qqbot.Event)

// EventBus implements qqbot.Handler.
type EventBus struct {
	queue  chan qqbot.Event
	dedupe *DedupeCache

	mu        sync.RWMutex
	consumers []namedConsumer

	dropped uint64
}

type namedConsumer struct {
	name string
	fn   Consumer
}

var _ qqbot.Handler = (*EventBus)(nil)

// New creates a bus with the given queue capacity (<=0 uses DefaultQueueSize).
func New(size int) *EventBus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &EventBus{
		queue:  make(chan qqbot.Event, size),
		dedupe: NewDedupeCache(dedupeTTL, dedupeMax),
	}
}

// Subscribe adds a consumer. Consumers see events in registration order.
func (b *EventBus) Subscribe(name string, fn Consumer) {
	b.mu.Lock()
	b.consumers = append(b.consumers, namedConsumer{name: name, fn: fn})
	b.mu.Unlock()
}

// HandleEvent enqueues ev, blocking while the queue is full. Duplicate
// message/interaction ids are dropped.
func (b *EventBus) HandleEvent(ctx context.Context, ev qqbot.Event) {
	if id := eventID(ev); id != "" && b.dedupe.IsDuplicate(id) {
		slog.Debug("bus: duplicate event dropped", "type", ev.EventType(), "id", id)
		return
	}
	select {
	case b.queue <- ev:
	case <-ctx.Done():
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

// Run drains the queue until ctx ends.
func (b *EventBus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.queue:
			b.deliver(ctx, ev)
		}
	}
}

// Depth returns the number of queued events.
func (b *EventBus) Depth() int { return len(b.queue) }

func (b *EventBus) deliver(ctx context.Context, ev qqbot.Event) {
	b.mu.RLock()
	consumers := append([]namedConsumer(nil), b.consumers...)
	b.mu.RUnlock()

	for _, c := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("bus: consumer panicked", "consumer", c.name, "type", ev.EventType(), "panic", r)
				}
			}()
			c.fn(ctx, ev)
		}()
	}
}

func eventID(ev qqbot.Event) string {
	switch e := ev.(type) {
	case *qqbot.MessageEvent:
		return "msg:" + e.ID
	case *qqbot.InteractionEvent:
		return "interaction:" + e.ID
	}
	return ""
}
