package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/leefowlercu/mailroom/internal/metrics"
)

// Bus is the interface for the event bus.
type Bus interface {
	// Publish sends an event to all matching subscribers without blocking on
	// slow ones. Returns ErrBusClosed once the bus is closed.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for one event type.
	Subscribe(eventType EventType, handler EventHandler) (unsubscribe func())

	// SubscribeTopic registers a handler for every event type of a topic.
	SubscribeTopic(topic string, handler EventHandler) (unsubscribe func())

	// SubscribeAll registers a handler for all event types.
	SubscribeAll(handler EventHandler) (unsubscribe func())

	// Close shuts down the bus and drains pending events.
	Close() error
}

type matcher func(EventType) bool

type subscription struct {
	id           uint64
	match        matcher
	handler      EventHandler
	events       chan Event
	done         chan struct{}
	unsubscribed atomic.Bool
}

// EventBus is the default Bus: every subscriber owns a buffered channel and
// a goroutine, and a full buffer drops the event for that subscriber only.
type EventBus struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
	closed        atomic.Bool
	published     atomic.Uint64
	dropped       atomic.Uint64
	logger        *slog.Logger
	bufferSize    int
	validate      bool
}

// BusOption configures the event bus.
type BusOption func(*EventBus)

// WithBufferSize sets the buffer size for subscriber event channels.
func WithBufferSize(size int) BusOption {
	return func(b *EventBus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithLogger sets the logger for the event bus.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *EventBus) {
		b.logger = logger
	}
}

// WithValidation rejects events whose payload type does not match the
// registered type for the event.
func WithValidation() BusOption {
	return func(b *EventBus) {
		b.validate = true
	}
}

// NewBus creates a new event bus with the given options.
func NewBus(opts ...BusOption) *EventBus {
	b := &EventBus{
		subscriptions: make(map[uint64]*subscription),
		bufferSize:    256,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "event-bus")
	return b
}

// Publish sends an event to all matching subscribers.
func (b *EventBus) Publish(ctx context.Context, event Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if b.validate {
		if err := ValidatePayload(event); err != nil {
			return err
		}
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscriptions {
		if !sub.match(event.Type) {
			continue
		}
		select {
		case sub.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			b.dropped.Add(1)
			metrics.EventBusDroppedEvents.WithLabelValues(string(event.Type)).Inc()
			b.logger.Warn("subscriber buffer full; dropping event",
				"event_type", event.Type,
				"subscriber_id", sub.id,
			)
		}
	}
	return nil
}

// Subscribe registers a handler for a specific event type.
func (b *EventBus) Subscribe(eventType EventType, handler EventHandler) func() {
	return b.subscribe(func(t EventType) bool { return t == eventType }, handler)
}

// SubscribeTopic registers a handler for all event types of a topic.
func (b *EventBus) SubscribeTopic(topic string, handler EventHandler) func() {
	return b.subscribe(func(t EventType) bool { return t.Topic() == topic }, handler)
}

// SubscribeAll registers a handler for all event types.
func (b *EventBus) SubscribeAll(handler EventHandler) func() {
	return b.subscribe(func(EventType) bool { return true }, handler)
}

func (b *EventBus) subscribe(match matcher, handler EventHandler) func() {
	if b.closed.Load() {
		return func() {}
	}

	sub := &subscription{
		id:      b.nextID.Add(1),
		match:   match,
		handler: handler,
		events:  make(chan Event, b.bufferSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	go b.deliver(sub)

	return func() {
		b.unsubscribe(sub.id)
	}
}

func (b *EventBus) deliver(sub *subscription) {
	for {
		select {
		case event, ok := <-sub.events:
			if !ok {
				return
			}
			b.safeCall(sub, event)
		case <-sub.done:
			for {
				select {
				case event, ok := <-sub.events:
					if !ok {
						return
					}
					b.safeCall(sub, event)
				default:
					return
				}
			}
		}
	}
}

func (b *EventBus) safeCall(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"subscriber_id", sub.id,
				"event_type", event.Type,
				"panic", r,
			)
		}
	}()
	sub.handler(event)
}

func (b *EventBus) unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subscriptions[id]
	if ok {
		delete(b.subscriptions, id)
	}
	b.mu.Unlock()

	if ok {
		b.release(sub)
	}
}

func (b *EventBus) release(sub *subscription) {
	if sub.unsubscribed.CompareAndSwap(false, true) {
		close(sub.done)
		close(sub.events)
	}
}

// Close shuts down the event bus and drains pending events.
func (b *EventBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.subscriptions = make(map[uint64]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		b.release(sub)
	}
	return nil
}

// Stats returns current bus statistics.
func (b *EventBus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BusStats{
		SubscriberCount: len(b.subscriptions),
		Published:       b.published.Load(),
		Dropped:         b.dropped.Load(),
		IsClosed:        b.closed.Load(),
	}
}

// BusStats contains event bus statistics.
type BusStats struct {
	SubscriberCount int    `json:"subscriber_count"`
	Published       uint64 `json:"published"`
	Dropped         uint64 `json:"dropped"`
	IsClosed        bool   `json:"is_closed"`
}
