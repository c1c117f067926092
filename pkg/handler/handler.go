package handler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"squadbot/pkg/envelope"
	"squadbot/pkg/message"
	"squadbot/pkg/routing"
)

// ErrUnavailable marks a handler that could not be reached or is overloaded.
var ErrUnavailable = errors.New("handler unavailable")

// Request is what a specialist handler receives for one routed message.
type Request struct {
	Context  *message.ExecutionContext
	Decision routing.Decision
}

// Handler is a specialist that serves routed requests. Implementations
// validate their own input and may ignore cancellation.
type Handler interface {
	Invoke(ctx context.Context, req Request) (envelope.Envelope, error)
}

type HandlerFunc func(ctx context.Context, req Request) (envelope.Envelope, error)

func (f HandlerFunc) Invoke(ctx context.Context, req Request) (envelope.Envelope, error) {
	return f(ctx, req)
}

// Registry maps handler ids to handlers. It is filled at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(id string, h Handler) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("handler id is required")
	}
	if h == nil {
		return fmt.Errorf("handler %q is nil", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[id]; exists {
		return fmt.Errorf("handler %q already registered", id)
	}
	r.handlers[id] = h
	return nil
}

func (r *Registry) Lookup(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[id]
	return h, ok
}

func (r *Registry) Has(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

// IDs returns the registered handler ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Unavailable wraps err so dispatch reports handler_unavailable.
func Unavailable(err error) error {
	return envelope.Wrap(envelope.CodeHandlerUnavailable, errors.Join(ErrUnavailable, err), "")
}
