// Package bus provides a synchronous publish/subscribe event bus.
//
// Handlers run in the publisher's call frame. Dispatch iterates over a
// snapshot of the subscriber set, so handlers registered or removed during a
// publish only affect future publishes. A panicking handler is recovered and
// logged without disturbing the remaining handlers or the publisher.
package bus

import (
	"log/slog"
	"reflect"
	"sync"
)

// Handler receives an event payload.
type Handler func(payload any)

// Validator checks a payload at the publish boundary. A non-nil error drops
// the publish.
type Validator func(event string, payload any) error

// Bus is a many-to-many synchronous event bus.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string][]*Subscription
	counts   map[string]uint64
	validate Validator
}

// Subscription is a handle to a single registration. Cancelling it removes
// the handler from the bus.
type Subscription struct {
	bus   *Bus
	event string
	key   uintptr
	fn    Handler
	once  bool
	fired sync.Once
}

// New creates a bus. validate may be nil to accept any payload.
func New(validate Validator) *Bus {
	return &Bus{
		subs:     make(map[string][]*Subscription),
		counts:   make(map[string]uint64),
		validate: validate,
	}
}

// Subscribe registers fn for the named event and returns its handle.
// Registering the same function twice for one event is idempotent: the
// existing handle is returned and fn runs once per publish.
func (b *Bus) Subscribe(event string, fn Handler) *Subscription {
	return b.subscribe(event, fn, false)
}

// SubscribeOnce registers fn for a single invocation. The subscription is
// removed before fn runs, so a publish from inside fn will not recurse into
// it.
func (b *Bus) SubscribeOnce(event string, fn Handler) *Subscription {
	return b.subscribe(event, fn, true)
}

func (b *Bus) subscribe(event string, fn Handler, once bool) *Subscription {
	if fn == nil {
		return nil
	}
	key := reflect.ValueOf(fn).Pointer()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs[event] {
		if s.key == key {
			return s
		}
	}

	s := &Subscription{bus: b, event: event, key: key, fn: fn, once: once}
	b.subs[event] = append(b.subs[event], s)
	return s
}

// Unsubscribe removes fn's registration for the named event. Removing a
// function that was never registered is a no-op.
func (b *Bus) Unsubscribe(event string, fn Handler) {
	if fn == nil {
		return
	}
	b.remove(event, reflect.ValueOf(fn).Pointer())
}

// Unsubscribe cancels the subscription. Safe to call more than once and safe
// to call from inside the handler during dispatch.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.bus.remove(s.event, s.key)
}

func (b *Bus) remove(event string, key uintptr) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[event]
	for i, s := range list {
		if s.key == key {
			b.subs[event] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[event]) == 0 {
		delete(b.subs, event)
	}
}

// Publish dispatches payload to every current subscriber of the named event,
// synchronously, in registration order. Publishing with no subscribers is a
// safe no-op. Returns false if the payload failed validation.
func (b *Bus) Publish(event string, payload any) bool {
	if b.validate != nil {
		if err := b.validate(event, payload); err != nil {
			slog.Error("event rejected", "event", event, "error", err)
			return false
		}
	}

	b.mu.Lock()
	b.counts[event]++
	list := b.subs[event]
	snapshot := make([]*Subscription, len(list))
	copy(snapshot, list)
	b.mu.Unlock()

	for _, s := range snapshot {
		if s.once {
			fire := false
			s.fired.Do(func() { fire = true })
			if !fire {
				continue
			}
			s.Unsubscribe()
		}
		invoke(event, s.fn, payload)
	}
	return true
}

func invoke(event string, fn Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	fn(payload)
}

// EventNames returns the names that currently have subscribers.
func (b *Bus) EventNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.subs))
	for name := range b.subs {
		names = append(names, name)
	}
	return names
}

// SubscriberCount returns the number of handlers registered for event.
func (b *Bus) SubscriberCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}

// PublishCount returns how many times event has been published, including
// publishes that found no subscribers.
func (b *Bus) PublishCount(event string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counts[event]
}

// Reset removes all subscriptions and counters. Intended for shutdown and
// test teardown.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]*Subscription)
	b.counts = make(map[string]uint64)
}
