package tool

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/randalmurphal/docflow/pkg/docflow/run"
)

// Registry is a thread-safe capability table of tools indexed by id.
// It uses sync.RWMutex because lookups vastly outnumber registrations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Registering an empty or duplicate id is an error.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return errors.New("tool is required")
	}
	id := t.Capability().ID
	if id == "" {
		return errors.New("tool id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[id]; exists {
		return fmt.Errorf("tool %q already registered", id)
	}
	r.tools[id] = t
	return nil
}

// MustRegister registers tools, panicking on error.
func (r *Registry) MustRegister(tools ...Tool) *Registry {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Lookup returns the tool for id or a *NotFoundError.
func (r *Registry) Lookup(id string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return t, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok
}

// IDs returns the registered tool ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.tools))
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Capabilities returns the metadata of every tool, sorted by id.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make([]Capability, 0, len(r.tools))
	for _, id := range slices.Sorted(maps.Keys(r.tools)) {
		caps = append(caps, r.tools[id].Capability())
	}
	return caps
}

// Invoke looks up id and runs it on doc. A panic inside the tool is
// recovered and returned as a *PanicError.
func (r *Registry) Invoke(ctx context.Context, id string, doc run.DocumentRef, params map[string]any) (result any, err error) {
	t, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &PanicError{ID: id, Value: rec}
		}
	}()

	return t.Invoke(ctx, doc, params)
}
