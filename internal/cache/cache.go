package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"lunchfinder/discovery/internal/domain"
	"lunchfinder/discovery/internal/metrics"
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultMaxEntries = 50
)

// ResultCache is the TTL + LRU policy layer over a Store. TTL counts from
// creation; eviction ranks by last access. Only first-page results belong
// here; callers derive keys with KeyForIntent, which refuses continuations.
type ResultCache struct {
	store      Store
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	logger     *slog.Logger

	mu sync.Mutex
}

type Option func(*ResultCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *ResultCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithMaxEntries(maxEntries int) Option {
	return func(c *ResultCache) {
		if maxEntries > 0 {
			c.maxEntries = maxEntries
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *ResultCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(store Store, opts ...Option) *ResultCache {
	c := &ResultCache{
		store:      store,
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the cached places for key. A miss or an expired entry is
// (nil, false, nil); expired entries are deleted on the way out. The error is
// non-nil only when the store itself faults.
func (c *ResultCache) Lookup(ctx context.Context, key Key) ([]domain.Place, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok, err := c.store.Get(ctx, key.Digest)
	if err != nil {
		metrics.CacheFaultsTotal.WithLabelValues("get").Inc()
		return nil, false, err
	}
	if !ok {
		metrics.CacheMissesTotal.Inc()
		return nil, false, nil
	}

	now := c.now()
	if entry.Expired(now) {
		if err := c.store.Delete(ctx, key.Digest); err != nil {
			metrics.CacheFaultsTotal.WithLabelValues("delete").Inc()
			c.logger.Warn("cache expired entry delete failed", slog.String("key", key.Label), slog.String("error", err.Error()))
		} else {
			metrics.CacheEvictionsTotal.WithLabelValues("expired").Inc()
		}
		metrics.CacheMissesTotal.Inc()
		return nil, false, nil
	}

	if err := c.store.Touch(ctx, key.Digest, now); err != nil {
		// The hit is still valid; only its LRU rank is stale.
		metrics.CacheFaultsTotal.WithLabelValues("touch").Inc()
		c.logger.Warn("cache touch failed", slog.String("key", key.Label), slog.String("error", err.Error()))
	}
	metrics.CacheHitsTotal.Inc()
	return domain.ClonePlaces(entry.Places), true, nil
}

// Store overwrites the entry for key and then enforces the capacity bound.
// Favorite overlays are stripped before writing.
func (c *ResultCache) Store(ctx context.Context, key Key, places []domain.Place) error {
	now := c.now()
	stripped := make([]domain.Place, len(places))
	for i, place := range places {
		stripped[i] = place.WithoutOverlay()
	}
	entry := Entry{
		Key:            key.Digest,
		Label:          key.Label,
		Places:         stripped,
		CreatedAt:      now,
		ExpiresAt:      now.Add(c.ttl),
		LastAccessedAt: now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Put(ctx, entry); err != nil {
		metrics.CacheFaultsTotal.WithLabelValues("put").Inc()
		return err
	}
	return c.evictLocked(ctx, now)
}

// Get is the miss-tolerant nearby lookup: store faults read as a miss.
func (c *ResultCache) Get(ctx context.Context, location domain.Coordinate, radiusMeters int) ([]domain.Place, bool) {
	places, ok, err := c.Lookup(ctx, NearbyKey(location, radiusMeters, domain.SearchFilters{}.Normalized()))
	if err != nil {
		c.logger.Warn("cache read failed", slog.String("error", err.Error()))
		return nil, false
	}
	return places, ok
}

// Put is the fire-and-forget nearby write: store faults are logged only.
func (c *ResultCache) Put(ctx context.Context, places []domain.Place, location domain.Coordinate, radiusMeters int) {
	if err := c.Store(ctx, NearbyKey(location, radiusMeters, domain.SearchFilters{}.Normalized()), places); err != nil {
		c.logger.Warn("cache write failed", slog.String("error", err.Error()))
	}
}

func (c *ResultCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Clear(ctx); err != nil {
		metrics.CacheFaultsTotal.WithLabelValues("clear").Inc()
		return err
	}
	return nil
}

// Purge removes every expired entry and returns how many were dropped.
func (c *ResultCache) Purge(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos, err := c.store.List(ctx)
	if err != nil {
		metrics.CacheFaultsTotal.WithLabelValues("list").Inc()
		return 0, err
	}
	now := c.now()
	removed := 0
	for _, info := range infos {
		if now.Before(info.ExpiresAt) {
			continue
		}
		if err := c.store.Delete(ctx, info.Key); err != nil {
			metrics.CacheFaultsTotal.WithLabelValues("delete").Inc()
			return removed, err
		}
		removed++
		metrics.CacheEvictionsTotal.WithLabelValues("expired").Inc()
	}
	return removed, nil
}

// Len counts live (unexpired) entries.
func (c *ResultCache) Len(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos, err := c.store.List(ctx)
	if err != nil {
		return 0, err
	}
	now := c.now()
	count := 0
	for _, info := range infos {
		if now.Before(info.ExpiresAt) {
			count++
		}
	}
	return count, nil
}

func (c *ResultCache) evictLocked(ctx context.Context, now time.Time) error {
	infos, err := c.store.List(ctx)
	if err != nil {
		metrics.CacheFaultsTotal.WithLabelValues("list").Inc()
		return err
	}

	live := infos[:0]
	for _, info := range infos {
		if now.Before(info.ExpiresAt) {
			live = append(live, info)
			continue
		}
		if err := c.store.Delete(ctx, info.Key); err != nil {
			metrics.CacheFaultsTotal.WithLabelValues("delete").Inc()
			return err
		}
		metrics.CacheEvictionsTotal.WithLabelValues("expired").Inc()
	}
	if len(live) <= c.maxEntries {
		return nil
	}

	sort.Slice(live, func(i, j int) bool {
		if !live[i].LastAccessedAt.Equal(live[j].LastAccessedAt) {
			return live[i].LastAccessedAt.Before(live[j].LastAccessedAt)
		}
		if !live[i].CreatedAt.Equal(live[j].CreatedAt) {
			return live[i].CreatedAt.Before(live[j].CreatedAt)
		}
		return live[i].Key < live[j].Key
	})
	for i := 0; i < len(live)-c.maxEntries; i++ {
		if err := c.store.Delete(ctx, live[i].Key); err != nil {
			metrics.CacheFaultsTotal.WithLabelValues("delete").Inc()
			return err
		}
		metrics.CacheEvictionsTotal.WithLabelValues("capacity").Inc()
		c.logger.Debug("cache entry evicted", slog.String("key", live[i].Key))
	}
	return nil
}
