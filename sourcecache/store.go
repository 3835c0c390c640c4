package sourcecache

import (
	"context"
	"strings"
	"sync"
)

// DefaultMaxEntries bounds the in-memory store.
const DefaultMaxEntries = 1024

// MemoryStore keeps entries in process memory, evicting the oldest fetch
// when full.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	maxEntries int
}

// NewMemoryStore creates a MemoryStore holding at most maxEntries entries.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{entries: make(map[string]*Entry), maxEntries: maxEntries}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evictOldest()
	}
	cp := *e
	m.entries[key] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) DeleteMatching(_ context.Context, prefix, suffix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) evictOldest() {
	var oldestKey string
	var oldest *Entry
	for k, e := range m.entries {
		if oldest == nil || e.FetchedAt.Before(oldest.FetchedAt) {
			oldestKey, oldest = k, e
		}
	}
	if oldest != nil {
		delete(m.entries, oldestKey)
	}
}
