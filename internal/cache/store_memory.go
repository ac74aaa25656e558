package cache

import (
	"context"
	"sync"
	"time"

	"lunchfinder/discovery/internal/domain"
)

// MemoryStore keeps entries in process memory. Used when no durable backend
// is configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	entry.Places = domain.ClonePlaces(entry.Places)
	return entry, true, nil
}

func (m *MemoryStore) Put(_ context.Context, entry Entry) error {
	entry.Places = domain.ClonePlaces(entry.Places)
	m.mu.Lock()
	m.entries[entry.Key] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Touch(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[key]; ok {
		entry.LastAccessedAt = at
		m.entries[key] = entry
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]EntryInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]EntryInfo, 0, len(m.entries))
	for _, entry := range m.entries {
		infos = append(infos, entry.Info())
	}
	return infos, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]Entry)
	m.mu.Unlock()
	return nil
}
