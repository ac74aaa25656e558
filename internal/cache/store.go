package cache

import (
	"context"
	"time"

	"lunchfinder/discovery/internal/domain"
)

type Entry struct {
	Key            string         `json:"key"`
	Label          string         `json:"label,omitempty"`
	Places         []domain.Place `json:"places"`
	CreatedAt      time.Time      `json:"createdAt"`
	ExpiresAt      time.Time      `json:"expiresAt"`
	LastAccessedAt time.Time      `json:"lastAccessedAt"`
}

// Expired reports whether the entry is past its lifetime at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

func (e Entry) Info() EntryInfo {
	return EntryInfo{
		Key:            e.Key,
		CreatedAt:      e.CreatedAt,
		ExpiresAt:      e.ExpiresAt,
		LastAccessedAt: e.LastAccessedAt,
	}
}

type EntryInfo struct {
	Key            string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
}

// Store is the persistence port behind ResultCache. Implementations do not
// apply any eviction policy of their own beyond optional native TTLs.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	Touch(ctx context.Context, key string, at time.Time) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]EntryInfo, error)
	Clear(ctx context.Context) error
}
