package photo

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// memoryTier bounds entries by count (through the LRU) and by total bytes
// (by dropping the oldest entries until the budget fits).
type memoryTier struct {
	mu       sync.Mutex
	entries  *lru.Cache[Key, Image]
	bytes    int64
	maxBytes int64
}

func newMemoryTier(maxEntries int, maxBytes int64) *memoryTier {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMemoryBytes
	}
	m := &memoryTier{maxBytes: maxBytes}
	// Only fails for a non-positive size.
	m.entries, _ = lru.NewWithEvict[Key, Image](maxEntries, func(_ Key, img Image) {
		m.bytes -= int64(len(img.Data))
	})
	return m
}

func (m *memoryTier) get(key Key) (Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Get(key)
}

func (m *memoryTier) add(key Key, img Image) {
	size := int64(len(img.Data))
	if size == 0 || size > m.maxBytes {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.entries.Peek(key); ok {
		m.bytes -= int64(len(old.Data))
	}
	m.entries.Add(key, img)
	m.bytes += size
	for m.bytes > m.maxBytes {
		if _, _, ok := m.entries.RemoveOldest(); !ok {
			break
		}
	}
}

func (m *memoryTier) purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Purge()
	m.bytes = 0
}

func (m *memoryTier) stats() (int, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Len(), m.bytes
}
