package stream

import (
	"sync"

	"github.com/rickgao/cogdash/internal/events"
)

// Handler receives one event. A returned error is logged and does not stop
// the remaining handlers.
type Handler func(events.Event) error

// HandlerID identifies a registration. The zero value is never issued.
type HandlerID uint64

type handlerEntry struct {
	id      HandlerID
	handler Handler
}

// registry maps event kinds to listeners in registration order.
// The same function registered twice is invoked twice.
type registry struct {
	mu       sync.RWMutex
	handlers map[events.Kind][]handlerEntry
	any      []handlerEntry
	nextID   HandlerID
}

func newRegistry() *registry {
	return &registry{
		handlers: make(map[events.Kind][]handlerEntry),
	}
}

func (r *registry) add(kind events.Kind, h Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.handlers[kind] = append(r.handlers[kind], handlerEntry{id: r.nextID, handler: h})
	return r.nextID
}

func (r *registry) addAny(h Handler) HandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.any = append(r.any, handlerEntry{id: r.nextID, handler: h})
	return r.nextID
}

func (r *registry) remove(kind events.Kind, id HandlerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, ok := r.handlers[kind]
	if !ok {
		return false
	}
	for i, e := range entries {
		if e.id == id {
			r.handlers[kind] = append(entries[:i:i], entries[i+1:]...)
			if len(r.handlers[kind]) == 0 {
				delete(r.handlers, kind)
			}
			return true
		}
	}
	return false
}

func (r *registry) removeAny(id HandlerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.any {
		if e.id == id {
			r.any = append(r.any[:i:i], r.any[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot copies the listeners so dispatch runs without the lock held.
func (r *registry) snapshot(kind events.Kind) (typed, wildcard []handlerEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entries := r.handlers[kind]; len(entries) > 0 {
		typed = make([]handlerEntry, len(entries))
		copy(typed, entries)
	}
	if len(r.any) > 0 {
		wildcard = make([]handlerEntry, len(r.any))
		copy(wildcard, r.any)
	}
	return typed, wildcard
}
