package handlers

import (
	"fmt"
	"slices"
	"sync"

	"github.com/leefowlercu/mailroom/internal/jobs"
)

// Registry maps job kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[jobs.Kind]Handler
}

// NewRegistry creates a registry with the given handlers.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{
		handlers: make(map[jobs.Kind]Handler, len(handlers)),
	}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds or replaces the handler for h.Kind().
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Kind()] = h
}

// Get returns the handler for kind. A missing handler is a permanent error
// wrapping jobs.ErrUnknownKind.
func (r *Registry) Get(kind jobs.Kind) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	if !ok {
		return nil, jobs.Permanent(fmt.Errorf("%w %q; no handler registered", jobs.ErrUnknownKind, kind))
	}
	return h, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []jobs.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]jobs.Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
