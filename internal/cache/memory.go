package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a process-scoped store. It does not survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok
}

func (m *MemoryStore) Put(_ context.Context, key string, e *Entry) {
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
}

func (m *MemoryStore) Clear(_ context.Context) {
	m.mu.Lock()
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()
}

func (m *MemoryStore) Stats(_ context.Context) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s Stats
	for k, e := range m.entries {
		accumulate(&s, k, e, approxSize(e))
	}
	sort.Strings(s.Keys)
	return s
}
