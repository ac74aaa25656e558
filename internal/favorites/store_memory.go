package favorites

import (
	"context"
	"sync"
)

// MemoryStore keeps the persisted set in process memory only.
type MemoryStore struct {
	mu  sync.Mutex
	ids []string
}

func NewMemoryStore(ids ...string) *MemoryStore {
	return &MemoryStore{ids: append([]string(nil), ids...)}
}

func (m *MemoryStore) LoadAll(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...), nil
}

func (m *MemoryStore) Persist(_ context.Context, ids []string) error {
	m.mu.Lock()
	m.ids = append([]string(nil), ids...)
	m.mu.Unlock()
	return nil
}
