// Package bus is the process-wide publish/subscribe hub for application
// events such as quiz completions and XP changes.
//
// Dispatch is synchronous and in registration order. A Bus is constructed at
// server start and passed to every component that needs it.
package bus

import (
	"sync"

	"github.com/rs/zerolog"
)

// Listener receives events published under the name it subscribed to.
type Listener func(name string, ev Event)

type entry struct {
	id       uint64
	listener Listener
}

// Bus fans published events out to registered listeners.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]entry
	nextID uint64
	log    *zerolog.Logger
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	bus  *Bus
	name string
	id   uint64
}

// New creates an empty Bus. logger may be nil.
func New(logger *zerolog.Logger) *Bus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Bus{
		subs: make(map[string][]entry),
		log:  logger,
	}
}

// Subscribe registers listener for events published under name.
func (b *Bus) Subscribe(name string, listener Listener) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], entry{id: id, listener: listener})
	return &Subscription{bus: b, name: name, id: id}
}

// Unsubscribe removes the subscription. Unknown or already removed
// subscriptions are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil || sub.bus != b {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.subs[sub.name]
	for i, e := range entries {
		if e.id != sub.id {
			continue
		}
		next := make([]entry, 0, len(entries)-1)
		next = append(next, entries[:i]...)
		next = append(next, entries[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, sub.name)
		} else {
			b.subs[sub.name] = next
		}
		return
	}
}

// Publish delivers ev to every listener currently subscribed to name.
// A panicking listener is recovered so the rest still run.
func (b *Bus) Publish(name string, ev Event) {
	b.mu.RLock()
	entries := b.subs[name]
	b.mu.RUnlock()

	// entries is never mutated in place, so iterating the snapshot is safe.
	for _, e := range entries {
		b.dispatch(name, ev, e)
	}
}

func (b *Bus) dispatch(name string, ev Event, e entry) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event", name).
				Uint64("subscription", e.id).
				Interface("panic", r).
				Msg("event listener panicked")
		}
	}()
	e.listener(name, ev)
}

// ListenerCount returns how many listeners are registered for name.
func (b *Bus) ListenerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

// TotalListeners returns the number of listeners across all names.
func (b *Bus) TotalListeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, entries := range b.subs {
		total += len(entries)
	}
	return total
}

// Name returns the event name the subscription listens on.
func (s *Subscription) Name() string {
	return s.name
}

// Unsubscribe is shorthand for s.bus.Unsubscribe(s).
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.Unsubscribe(s)
}
