package store

import (
	"context"
	"sync"
	"time"

	"github.com/Giorgiomufen/display-sync/pkg/state"
)

// MemoryStore keeps items and layout in process memory.
// Nothing survives a restart; use it for tests and throwaway sessions.
type MemoryStore struct {
	mu     sync.RWMutex
	items  []Item
	layout state.Layout
	closed bool
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		layout: state.Layout{},
		now:    time.Now,
	}
}

// Save appends a new item.
func (m *MemoryStore) Save(ctx context.Context, name, htmlContent string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	item := Item{
		ID:          NewID(),
		Name:        name,
		HTMLContent: htmlContent,
		CreatedAt:   m.now().UTC(),
		Size:        len(htmlContent),
	}
	m.items = append(m.items, item)
	out := item
	return &out, nil
}

// Get returns a copy of the item with the given ID.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	for _, it := range m.items {
		if it.ID == id {
			out := it
			return &out, nil
		}
	}
	return nil, nil
}

// Delete removes the item if present.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for i, it := range m.items {
		if it.ID == id {
			m.items = append(m.items[:i:i], m.items[i+1:]...)
			break
		}
	}
	return nil
}

// List returns all items in creation order, without content.
func (m *MemoryStore) List(ctx context.Context) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	out := make([]Item, len(m.items))
	for i, it := range m.items {
		it.HTMLContent = ""
		out[i] = it
	}
	return out, nil
}

// LoadLayout returns a copy of the saved layout.
func (m *MemoryStore) LoadLayout(ctx context.Context) (state.Layout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	return m.layout.Clone(), nil
}

// SaveLayout replaces the saved layout.
func (m *MemoryStore) SaveLayout(ctx context.Context, l state.Layout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.layout = l.Clone()
	if m.layout == nil {
		m.layout = state.Layout{}
	}
	return nil
}

// Close marks the store closed. Further calls return ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.items = nil
	return nil
}

// Count returns the number of items. For monitoring and tests.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
