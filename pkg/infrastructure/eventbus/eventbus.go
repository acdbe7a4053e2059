// Package eventbus provides the in-process implementation of events.Bus.
// Dispatch is synchronous: Emit returns after every listener has run.
package eventbus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sipeed/agentc/pkg/events"
	"github.com/sipeed/agentc/pkg/logger"
)

// Observer is notified of bus activity. The metrics collector implements it.
type Observer interface {
	EventEmitted(name events.Name, listeners int)
	ListenerFailed(name events.Name)
}

type entry struct {
	id   events.ListenerID
	fn   events.Listener
	once bool
}

// InProcessEventBus is a synchronous publish/subscribe registry keyed by
// event name. Listeners run in registration order. A panicking listener is
// recovered and logged; the remaining listeners of the same emission still
// run and Emit never panics.
type InProcessEventBus struct {
	mu        sync.Mutex
	listeners map[events.Name][]entry
	nextID    events.ListenerID
	observer  Observer
	closed    bool
}

// New creates a new in-process event bus.
func New() *InProcessEventBus {
	return &InProcessEventBus{
		listeners: make(map[events.Name][]entry),
	}
}

// SetObserver installs an observer. Pass nil to remove it.
func (b *InProcessEventBus) SetObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = o
}

// On registers a persistent listener.
func (b *InProcessEventBus) On(name events.Name, fn events.Listener) events.ListenerID {
	return b.add(name, fn, false)
}

// Once registers a listener that is removed before its first invocation.
func (b *InProcessEventBus) Once(name events.Name, fn events.Listener) events.ListenerID {
	return b.add(name, fn, true)
}

func (b *InProcessEventBus) add(name events.Name, fn events.Listener, once bool) events.ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners[name] = append(b.listeners[name], entry{id: id, fn: fn, once: once})
	return id
}

// Off removes the listener registered under id. Removing the last listener
// of an event deletes the event from the registry.
func (b *InProcessEventBus) Off(name events.Name, id events.ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.listeners[name]
	for i, e := range list {
		if e.id != id {
			continue
		}
		rest := make([]entry, 0, len(list)-1)
		rest = append(rest, list[:i]...)
		rest = append(rest, list[i+1:]...)
		b.store(name, rest)
		return true
	}
	return false
}

// store replaces the listener list of name; caller holds b.mu.
func (b *InProcessEventBus) store(name events.Name, list []entry) {
	if len(list) == 0 {
		delete(b.listeners, name)
		return
	}
	b.listeners[name] = list
}

// Emit dispatches payload to every listener registered under its event name
// and reports whether any listener existed. The listener list is
// snapshotted first, so registrations made by a listener take effect from
// the next emission. One-shot entries are removed before any callback runs.
func (b *InProcessEventBus) Emit(payload events.Payload) bool {
	if payload == nil {
		return false
	}
	name := payload.EventName()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	list := b.listeners[name]
	observer := b.observer
	if len(list) == 0 {
		b.mu.Unlock()
		if observer != nil {
			observer.EventEmitted(name, 0)
		}
		return false
	}

	snapshot := make([]entry, len(list))
	copy(snapshot, list)

	kept := make([]entry, 0, len(list))
	for _, e := range list {
		if !e.once {
			kept = append(kept, e)
		}
	}
	b.store(name, kept)
	b.mu.Unlock()

	if observer != nil {
		observer.EventEmitted(name, len(snapshot))
	}
	for _, e := range snapshot {
		b.invoke(name, e, payload, observer)
	}
	return true
}

func (b *InProcessEventBus) invoke(name events.Name, e entry, payload events.Payload, observer Observer) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("bus", "Listener panicked", map[string]interface{}{
				"event":       name.String(),
				"listener_id": uint64(e.id),
				"panic":       fmt.Sprint(r),
			})
			if observer != nil {
				observer.ListenerFailed(name)
			}
		}
	}()
	e.fn(payload)
}

// RemoveAllListeners clears the given events, or every event when called
// without arguments.
func (b *InProcessEventBus) RemoveAllListeners(names ...events.Name) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(names) == 0 {
		b.listeners = make(map[events.Name][]entry)
		return
	}
	for _, name := range names {
		delete(b.listeners, name)
	}
}

// ListenerCount returns the number of listeners registered for name.
func (b *InProcessEventBus) ListenerCount(name events.Name) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[name])
}

// EventNames returns the events that currently have listeners, sorted.
func (b *InProcessEventBus) EventNames() []events.Name {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]events.Name, 0, len(b.listeners))
	for name := range b.listeners {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// HandlerCount returns the total number of registered listeners (for diagnostics).
func (b *InProcessEventBus) HandlerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, list := range b.listeners {
		count += len(list)
	}
	return count
}

// Close marks the bus as closed. No more events will be dispatched.
func (b *InProcessEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
}

// Listen registers a typed listener for the event that T is published under.
func Listen[T events.Payload](b events.Bus, fn func(T)) events.ListenerID {
	var zero T
	return b.On(zero.EventName(), typed(fn))
}

// ListenOnce is the one-shot form of Listen.
func ListenOnce[T events.Payload](b events.Bus, fn func(T)) events.ListenerID {
	var zero T
	return b.Once(zero.EventName(), typed(fn))
}

func typed[T events.Payload](fn func(T)) events.Listener {
	return func(p events.Payload) {
		if v, ok := p.(T); ok {
			fn(v)
		}
	}
}

// Verify interface compliance at compile time.
var _ events.Bus = (*InProcessEventBus)(nil)
