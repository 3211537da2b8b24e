package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives a published event. Handlers run synchronously on the
// publishing goroutine, in subscription order. A handler that needs to do
// slow work or hop to another goroutine is responsible for doing that itself.
type Handler func(Event)

// subscription pairs a handler with the name it was registered under.
// Go function values are not comparable, so dedup and removal key on the name.
type subscription struct {
	name    string
	handler Handler
}

// Bus is a thread-safe publish/subscribe hub.
//
// The internal lock is held only while mutating or snapshotting the
// subscriber registry, never while handlers execute. That makes it legal for
// a handler to call Subscribe, Unsubscribe or Publish re-entrantly.
type Bus struct {
	subscribers map[EventType][]subscription
	mu          sync.Mutex
	log         zerolog.Logger
}

// NewBus creates a new notification bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[EventType][]subscription),
		log:         log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler under the given name for an event type.
// Re-subscribing the same name for the same type replaces the handler in
// place without changing its position in the dispatch order.
func (b *Bus) Subscribe(eventType EventType, name string, handler Handler) {
	if handler == nil {
		b.log.Warn().Str("event_type", string(eventType)).Str("subscriber", name).Msg("Ignoring nil handler")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, sub := range subs {
		if sub.name == name {
			subs[i].handler = handler
			return
		}
	}

	b.subscribers[eventType] = append(subs, subscription{name: name, handler: handler})
	b.log.Debug().
		Str("event_type", string(eventType)).
		Str("subscriber", name).
		Msg("Subscriber registered")
}

// Unsubscribe removes the named handler for an event type.
// Removing a name that was never subscribed is a no-op.
func (b *Bus) Unsubscribe(eventType EventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, sub := range subs {
		if sub.name == name {
			b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			b.log.Debug().
				Str("event_type", string(eventType)).
				Str("subscriber", name).
				Msg("Subscriber removed")
			return
		}
	}
}

// Publish constructs an event and delivers it to every subscriber of the
// event type, in subscription order, on the calling goroutine.
//
// A panicking handler is recovered and logged; it never prevents delivery to
// the remaining handlers and never propagates to the publisher. Ordering is
// guaranteed only within a single Publish call, not across concurrent ones.
func (b *Bus) Publish(eventType EventType, source string, data map[string]interface{}) {
	event := newEvent(eventType, source, data)

	b.mu.Lock()
	subs := b.subscribers[eventType]
	snapshot := make([]subscription, len(subs))
	copy(snapshot, subs)
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.dispatch(sub, event)
	}
}

// dispatch invokes a single handler, isolating the bus from handler panics.
func (b *Bus) dispatch(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event_type", string(event.Type)).
				Str("subscriber", sub.name).
				Interface("panic", r).
				Msg("Subscriber panicked during dispatch")
		}
	}()

	sub.handler(event)
}

// Clear removes all subscribers for the given event types, or every
// subscriber when called with no arguments.
func (b *Bus) Clear(eventTypes ...EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(eventTypes) == 0 {
		b.subscribers = make(map[EventType][]subscription)
		b.log.Debug().Msg("All subscribers cleared")
		return
	}

	for _, eventType := range eventTypes {
		delete(b.subscribers, eventType)
	}
}

// SubscriberCount returns the number of subscribers for an event type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[eventType])
}
