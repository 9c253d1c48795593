// Package event provides the in-process publish/subscribe bus shared by
// PrintFleet modules.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/printfleet/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ plugin.EventBus = (*Bus)(nil)

type subscription struct {
	id      uint64
	handler plugin.EventHandler
}

// Bus is a synchronous, goroutine-safe event bus. Handlers run on the
// publisher's goroutine for Publish and on a fresh goroutine for
// PublishAsync. A panicking handler is logged and does not affect others.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string][]subscription
	all    []subscription
	logger *zap.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		topics: make(map[string][]subscription),
		logger: logger,
	}
}

// Publish delivers event to every matching handler before returning.
func (b *Bus) Publish(ctx context.Context, event plugin.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	for _, h := range b.handlers(event.Topic) {
		b.invoke(ctx, h, event)
	}
	return nil
}

// PublishAsync delivers event in the background.
func (b *Bus) PublishAsync(ctx context.Context, event plugin.Event) {
	go func() {
		_ = b.Publish(context.WithoutCancel(ctx), event)
	}()
}

// Subscribe registers handler for a single topic.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.topics[topic] = remove(b.topics[topic], id)
	}
}

// SubscribeAll registers handler for every topic.
func (b *Bus) SubscribeAll(handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, id)
	}
}

func (b *Bus) handlers(topic string) []plugin.EventHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]plugin.EventHandler, 0, len(b.topics[topic])+len(b.all))
	for _, s := range b.topics[topic] {
		out = append(out, s.handler)
	}
	for _, s := range b.all {
		out = append(out, s.handler)
	}
	return out
}

func (b *Bus) invoke(ctx context.Context, h plugin.EventHandler, event plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, event)
}

func remove(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
