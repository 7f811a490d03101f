package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tracklane/tracklane-core/internal/core/domain"
)

// Handler processes a single domain event. Handlers doing long work should
// hand off to a background task rather than block Publish.
type Handler func(ctx context.Context, event domain.Event) error

// subscription wraps a handler so unsubscribe can remove it by identity.
type subscription struct {
	handler Handler
}

// Bus is an in-process typed publish/subscribe primitive. It decouples
// repository writes from the sync machinery: every component talks to the
// bus, never to each other directly.
//
// Handlers for one kind run concurrently; a handler failure (or panic) is
// contained and reported to the publisher only as an aggregate count.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventKind][]*subscription
	logger   *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[domain.EventKind][]*subscription),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event kind and returns its
// unsubscribe function. Safe to call during an in-flight Publish; the
// current delivery works from a snapshot and is unaffected.
func (b *Bus) Subscribe(kind domain.EventKind, handler Handler) func() {
	sub := &subscription{handler: handler}

	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[kind]
		for i, s := range subs {
			if s == sub {
				b.handlers[kind] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Unsubscribe removes all handlers for an event kind.
func (b *Bus) Unsubscribe(kind domain.EventKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, kind)
}

// Publish delivers the event to every handler currently subscribed to its
// kind, runs them concurrently, and waits for all of them. Each failure is
// logged; the returned error only reports how many handlers failed, so a
// broken subscriber can never crash the publisher.
func (b *Bus) Publish(ctx context.Context, event domain.Event) error {
	b.mu.RLock()
	subs := make([]*subscription, len(b.handlers[event.Kind()]))
	copy(subs, b.handlers[event.Kind()])
	b.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(subs))

	for _, sub := range subs {
		wg.Add(1)
		go func(sub *subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						"kind", string(event.Kind()),
						"panic", r,
					)
					errCh <- fmt.Errorf("handler panic: %v", r)
				}
			}()
			if err := sub.handler(ctx, event); err != nil {
				b.logger.Warn("event handler failed",
					"kind", string(event.Kind()),
					"error", err,
				)
				errCh <- err
			}
		}(sub)
	}

	wg.Wait()
	close(errCh)

	failed := 0
	for range errCh {
		failed++
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d handlers failed for %s", failed, len(subs), event.Kind())
	}
	return nil
}

// SubscriberCount returns the number of handlers registered for a kind.
func (b *Bus) SubscriberCount(kind domain.EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}
