// Package ingress is the in-memory event bus between producers (HTTP handlers,
// tests) and consumers (the dispatcher, the debug tap).
//
// Every subscription receives every event published after it subscribed.
// Events from one producer are delivered in the order that producer published
// them; there is no ordering across producers. Nothing is persisted.
package ingress

import (
	"context"
	"sync"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/metrics"
	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
)

// ErrClosed is returned once the bus or a subscription has been closed and drained.
var ErrClosed = xerrors.New("ingress closed")

type Bus struct {
	logger  slog.Logger
	clock   quartz.Clock
	metrics *metrics.Metrics

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

func New(logger slog.Logger, clk quartz.Clock, m *metrics.Metrics) *Bus {
	return &Bus{
		logger:  logger,
		clock:   clk,
		metrics: m,
		subs:    make(map[*Subscription]struct{}),
	}
}

// Submit stamps event with a fresh id and the current time and publishes it.
func (b *Bus) Submit(event models.Event, sensorID string) (models.Envelope, error) {
	env := models.Envelope{
		ID:         uuid.NewString(),
		Event:      event,
		SensorID:   sensorID,
		ReceivedAt: b.clock.Now(),
	}
	return env, b.Publish(env)
}

// Publish delivers env to every subscription as is.
func (b *Bus) Publish(env models.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs {
		if !sub.push(env) {
			b.metrics.EventsDropped.WithLabelValues(sub.name).Inc()
			b.logger.Warn(context.Background(), "subscription full, event dropped",
				slog.F("subscription", sub.name),
				slog.F("event_id", env.ID),
				slog.F("event", env.Event.String()),
			)
		}
	}
	b.metrics.EventsPublished.WithLabelValues(string(env.Event.Type)).Inc()
	return nil
}

// Subscribe attaches a new consumer group. With limit <= 0 the subscription
// buffers without bound; otherwise events beyond limit are dropped.
func (b *Bus) Subscribe(name string, limit int) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	sub := &Subscription{
		name:  name,
		limit: limit,
		bus:   b,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	b.subs[sub] = struct{}{}
	b.logger.Debug(context.Background(), "subscription attached", slog.F("subscription", name), slog.F("limit", limit))
	return sub, nil
}

// Close stops accepting events. Subscribers still receive what was already
// queued before they see ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.close()
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}
