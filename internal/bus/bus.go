// Package bus implements the synchronous epistemic event bus. Events from a
// closed vocabulary fan out to registered observers; observer failures are
// isolated so one slow or broken subscriber never breaks emission.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/empirica-ai/empirica/internal/model"
	"github.com/empirica-ai/empirica/internal/telemetry"
)

// Observer receives every published event. OnEvent runs on the publisher's
// goroutine; implementations that do slow work should buffer internally.
type Observer interface {
	Name() string
	OnEvent(ctx context.Context, e model.EpistemicEvent) error
}

// Bus is the in-process event bus.
type Bus struct {
	logger *slog.Logger

	mu        sync.RWMutex
	observers []Observer

	eventCount atomic.Int64

	published metric.Int64Counter
	dropped   metric.Int64Counter
}

// New creates a bus with no observers.
func New(logger *slog.Logger) *Bus {
	meter := telemetry.Meter("empirica/bus")
	published, _ := meter.Int64Counter("empirica.bus.events_published")
	dropped, _ := meter.Int64Counter("empirica.bus.observer_failures")
	return &Bus{
		logger:    logger,
		published: published,
		dropped:   dropped,
	}
}

// Subscribe registers an observer for all subsequent events.
func (b *Bus) Subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Publish validates the event against the closed vocabulary, stamps a missing
// timestamp, and delivers it to every observer in subscription order. An
// observer error or panic is logged and counted, never propagated; Publish
// only fails on invalid input.
func (b *Bus) Publish(ctx context.Context, e model.EpistemicEvent) error {
	if !validEventType(e.EventType) {
		return fmt.Errorf("bus: event type %q not in vocabulary: %w", e.EventType, model.ErrBadInput)
	}
	if e.SessionID == "" {
		return fmt.Errorf("bus: event missing session id: %w", model.ErrBadInput)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	observers := b.observers
	b.mu.RUnlock()

	for _, o := range observers {
		b.deliver(ctx, o, e)
	}

	b.eventCount.Add(1)
	if b.published != nil {
		b.published.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event_type", string(e.EventType)),
		))
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, o Observer, e model.EpistemicEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("observer panicked",
				"observer", o.Name(), "event_type", e.EventType, "panic", r)
			if b.dropped != nil {
				b.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("observer", o.Name())))
			}
		}
	}()
	if err := o.OnEvent(ctx, e); err != nil {
		b.logger.Warn("observer failed",
			"observer", o.Name(), "event_type", e.EventType, "error", err)
		if b.dropped != nil {
			b.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("observer", o.Name())))
		}
	}
}

// GetObserverCount returns the number of registered observers.
func (b *Bus) GetObserverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// GetEventCount returns the number of events published since startup.
func (b *Bus) GetEventCount() int64 {
	return b.eventCount.Load()
}

func validEventType(t model.EventType) bool {
	for _, v := range model.EventTypes {
		if v == t {
			return true
		}
	}
	return false
}
