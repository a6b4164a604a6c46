// Package bus provides the process-wide typed publish/subscribe dispatcher
// the sync coordination layer is built on. Dispatch is synchronous: Emit
// invokes every listener registered for the event name, in registration
// order, before returning. A panicking listener is recovered and logged and
// does not prevent the remaining listeners from running.
package bus

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// Handler receives every event emitted under the name it was registered for.
type Handler func(types.Event)

// Listener is the ownership handle for one registered handler. Unsubscribe
// is idempotent and removes exactly this registration.
type Listener struct {
	bus  *Bus
	name types.EventName
	fn   Handler
	once sync.Once
}

// Unsubscribe removes this listener from the bus. Safe to call more than
// once and safe to call from inside a handler.
func (l *Listener) Unsubscribe() {
	l.once.Do(func() {
		l.bus.remove(l)
	})
}

// EventName returns the event name this listener is registered for.
func (l *Listener) EventName() types.EventName {
	return l.name
}

// Bus dispatches events to listeners. The zero value is not usable; call New.
type Bus struct {
	mu        sync.RWMutex
	listeners map[types.EventName][]*Listener
	emitted   uint64
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{
		listeners: make(map[types.EventName][]*Listener),
	}
}

// On registers fn for name and returns its handle. Listeners for one name
// are invoked in registration order.
func (b *Bus) On(name types.EventName, fn Handler) *Listener {
	l := &Listener{bus: b, name: name, fn: fn}
	b.mu.Lock()
	b.listeners[name] = append(b.listeners[name], l)
	b.mu.Unlock()
	return l
}

// Once registers fn for name and removes it after the first delivery.
func (b *Bus) Once(name types.EventName, fn Handler) *Listener {
	l := &Listener{bus: b, name: name}
	l.fn = func(ev types.Event) {
		l.Unsubscribe()
		fn(ev)
	}
	b.mu.Lock()
	b.listeners[name] = append(b.listeners[name], l)
	b.mu.Unlock()
	return l
}

// Off removes the given listener. Equivalent to l.Unsubscribe.
func (b *Bus) Off(l *Listener) {
	if l != nil {
		l.Unsubscribe()
	}
}

// Emit delivers payload under name to every currently-registered listener.
// Emitting with zero listeners is a no-op. Emit never panics: a listener
// panic is recovered, logged, and dispatch continues with the next listener.
func (b *Bus) Emit(name types.EventName, payload any) {
	b.EmitFrom(name, payload, "")
}

// EmitFrom is Emit with an originating component recorded on the event.
func (b *Bus) EmitFrom(name types.EventName, payload any, source string) {
	ev := types.Event{Name: name, Payload: payload, At: time.Now(), Source: source}

	b.mu.RLock()
	registered := b.listeners[name]
	snapshot := make([]*Listener, len(registered))
	copy(snapshot, registered)
	b.emitted++
	b.mu.RUnlock()

	for _, l := range snapshot {
		dispatch(l, ev)
	}
}

// dispatch runs one listener with panic isolation.
func dispatch(l *Listener, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event listener panicked",
				"event", string(ev.Name),
				"source", ev.Source,
				"panic", r)
		}
	}()
	l.fn(ev)
}

// remove deletes l from its name's slice, preserving registration order of
// the remaining listeners. Removing an already-removed listener is a no-op.
func (b *Bus) remove(l *Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	registered := b.listeners[l.name]
	for i, candidate := range registered {
		if candidate == l {
			b.listeners[l.name] = append(registered[:i], registered[i+1:]...)
			break
		}
	}
	if len(b.listeners[l.name]) == 0 {
		delete(b.listeners, l.name)
	}
}

// ListenerCount returns the number of listeners registered for name.
func (b *Bus) ListenerCount(name types.EventName) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}

// EventNames returns the sorted set of names with at least one listener.
func (b *Bus) EventNames() []types.EventName {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]types.EventName, 0, len(b.listeners))
	for name := range b.listeners {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// TotalListeners returns the listener count across all event names.
func (b *Bus) TotalListeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, registered := range b.listeners {
		total += len(registered)
	}
	return total
}

// Emitted returns the total number of emissions since construction.
func (b *Bus) Emitted() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.emitted
}

// RemoveAll drops every listener. Used for full teardown and test isolation.
func (b *Bus) RemoveAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[types.EventName][]*Listener)
}
