package lobby

import (
	"context"
	"fmt"
	"sync"
)

// Store-level lifecycle event names. A store's registry is constructed
// with exactly this vocabulary.
const (
	EventCreateGame      = "createGame"
	EventLeaveGame       = "leaveGame"
	EventStartGame       = "startGame"
	EventCreatePlayer    = "createPlayer"
	EventCreateSpectator = "createSpectator"
	EventCreateTurn      = "createTurn"
	EventEndCurrentTurn  = "endCurrentTurn"
)

// StoreEvents returns the closed event vocabulary shared by all Store
// backends.
func StoreEvents() []string {
	return []string{
		EventCreateGame,
		EventLeaveGame,
		EventStartGame,
		EventCreatePlayer,
		EventCreateSpectator,
		EventCreateTurn,
		EventEndCurrentTurn,
	}
}

// Hook is a callback attached to a named lifecycle event. It receives
// the event's mutable payload (a pointer to the freshly mutated entity,
// or the coordinator's event payload) and the store, so it may perform
// further store operations before the firing completes.
type Hook func(ctx context.Context, payload any, store Store) error

// Subscription identifies a registered hook so it can be removed.
// Functions are not comparable in Go, so removal is by handle.
type Subscription struct {
	event string
	id    uint64
}

type listener struct {
	id   uint64
	hook Hook
}

// Registry maps event names to ordered hook lists. The vocabulary is
// closed at construction; names outside it are rejected when a listener
// is registered, not silently ignored at dispatch time. Define extends
// the vocabulary explicitly.
type Registry struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]listener
}

// NewRegistry builds a registry whose vocabulary is exactly names.
func NewRegistry(names ...string) *Registry {
	r := &Registry{listeners: make(map[string][]listener, len(names))}
	for _, name := range names {
		r.listeners[name] = nil
	}
	return r
}

// Define adds an event name to the vocabulary. Defining an existing
// name is a no-op.
func (r *Registry) Define(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[name]; !ok {
		r.listeners[name] = nil
	}
}

// Known reports whether name is in the vocabulary.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.listeners[name]
	return ok
}

// AddListener appends hook to the event's list. It fails with
// ErrUnknownEvent if the name is not in the vocabulary.
func (r *Registry) AddListener(name string, hook Hook) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listeners[name]; !ok {
		return Subscription{}, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}

	r.nextID++
	r.listeners[name] = append(r.listeners[name], listener{id: r.nextID, hook: hook})
	return Subscription{event: name, id: r.nextID}, nil
}

// RemoveListener detaches a previously registered hook. Unknown
// subscriptions are ignored.
func (r *Registry) RemoveListener(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.listeners[sub.event]
	if !ok {
		return
	}
	for i, l := range list {
		if l.id == sub.id {
			r.listeners[sub.event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// RemoveAllListeners clears every hook list, keeping the vocabulary.
func (r *Registry) RemoveAllListeners() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.listeners {
		r.listeners[name] = nil
	}
}

// Run invokes the hooks registered for name strictly in registration
// order, each completing before the next starts. The first hook error
// stops the firing and is returned to the caller.
func (r *Registry) Run(ctx context.Context, name string, payload any, store Store) error {
	r.mu.RLock()
	list := make([]listener, len(r.listeners[name]))
	copy(list, r.listeners[name])
	r.mu.RUnlock()

	for _, l := range list {
		if err := l.hook(ctx, payload, store); err != nil {
			return fmt.Errorf("%s hook: %w", name, err)
		}
	}
	return nil
}
