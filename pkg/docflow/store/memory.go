package store

import (
	"context"
	"sort"
	"sync"

	"github.com/randalmurphal/docflow/pkg/docflow/run"
)

// MemoryStore is an in-memory run store for testing and the CLI's one-shot
// mode. Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*run.Run
	closed bool
}

// NewMemoryStore creates a new in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*run.Run),
	}
}

// Create implements Store.
func (m *MemoryStore) Create(ctx context.Context, r *run.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.runs[r.ID]; ok {
		return ErrAlreadyExists
	}

	r.Version = 1
	m.runs[r.ID] = r.Clone()
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, id string) (*run.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	stored, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return stored.Clone(), nil
}

// CompareAndUpdate implements Store.
func (m *MemoryStore) CompareAndUpdate(ctx context.Context, r *run.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	stored, ok := m.runs[r.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != r.Version {
		return ErrVersionConflict
	}

	next := r.Clone()
	next.Version = r.Version + 1
	m.runs[r.ID] = next
	r.Version = next.Version
	return nil
}

// List implements Store.
func (m *MemoryStore) List(ctx context.Context, filter Filter) ([]*run.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]*run.Run, 0)
	for _, r := range m.runs {
		if filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.runs, id)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.runs = nil
	return nil
}

// Len returns the number of stored runs.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}
