// Package photo serves place photos through a memory tier and an optional
// disk tier in front of the remote photo endpoint. Concurrent loads of the
// same key share one remote fetch.
package photo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"lunchfinder/discovery/internal/metrics"
)

const (
	DefaultMemoryEntries = 100
	DefaultMemoryBytes   = int64(50 * 1024 * 1024)
	DefaultDiskBytes     = int64(200 * 1024 * 1024)
	MaxDimension         = 1600

	defaultMaxConcurrentFetches = 4
)

var ErrInvalidKey = errors.New("invalid photo key")

// Fetcher is the remote photo endpoint.
type Fetcher interface {
	Photo(ctx context.Context, reference string, maxWidth, maxHeight int) ([]byte, string, error)
}

type Key struct {
	Reference string
	MaxWidth  int
	MaxHeight int
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%d|%d", k.Reference, k.MaxWidth, k.MaxHeight)
}

func (k Key) fileName() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

func (k Key) Validate() error {
	if strings.TrimSpace(k.Reference) == "" {
		return fmt.Errorf("%w: missing reference", ErrInvalidKey)
	}
	if k.MaxWidth <= 0 && k.MaxHeight <= 0 {
		return fmt.Errorf("%w: maxWidth or maxHeight is required", ErrInvalidKey)
	}
	if k.MaxWidth < 0 || k.MaxHeight < 0 || k.MaxWidth > MaxDimension || k.MaxHeight > MaxDimension {
		return fmt.Errorf("%w: dimensions must be within 1..%d", ErrInvalidKey, MaxDimension)
	}
	return nil
}

type Image struct {
	Data        []byte
	ContentType string
}

type Stats struct {
	MemoryEntries int   `json:"memoryEntries"`
	MemoryBytes   int64 `json:"memoryBytes"`
	DiskEntries   int   `json:"diskEntries"`
	DiskBytes     int64 `json:"diskBytes"`
}

type Loader struct {
	fetcher Fetcher
	memory  *memoryTier
	disk    *diskTier
	group   singleflight.Group
	fetches *semaphore.Weighted
	logger  *slog.Logger
	now     func() time.Time

	memoryEntries int
	memoryBytes   int64
	diskFS        afero.Fs
	diskDir       string
	diskBytes     int64
	maxFetches    int64
}

type Option func(*Loader)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMemoryLimits(maxEntries int, maxBytes int64) Option {
	return func(l *Loader) {
		l.memoryEntries = maxEntries
		l.memoryBytes = maxBytes
	}
}

// WithDisk enables the disk tier under dir on fsys.
func WithDisk(fsys afero.Fs, dir string, maxBytes int64) Option {
	return func(l *Loader) {
		l.diskFS = fsys
		l.diskDir = dir
		l.diskBytes = maxBytes
	}
}

func WithMaxConcurrentFetches(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxFetches = int64(n)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Loader) {
		if now != nil {
			l.now = now
		}
	}
}

func NewLoader(fetcher Fetcher, opts ...Option) *Loader {
	l := &Loader{
		fetcher:    fetcher,
		logger:     slog.Default(),
		now:        time.Now,
		maxFetches: defaultMaxConcurrentFetches,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.memory = newMemoryTier(l.memoryEntries, l.memoryBytes)
	if l.diskFS != nil && l.diskDir != "" {
		l.disk = newDiskTier(l.diskFS, l.diskDir, l.diskBytes, l.now)
	}
	l.fetches = semaphore.NewWeighted(l.maxFetches)
	return l
}

// Load returns the photo for key from the fastest tier that has it. On a
// full miss the remote fetch is shared with every concurrent caller of the
// same key; it keeps running if this caller's ctx ends while others wait.
func (l *Loader) Load(ctx context.Context, key Key) (Image, error) {
	if err := key.Validate(); err != nil {
		return Image{}, err
	}

	if img, ok := l.memory.get(key); ok {
		metrics.PhotoRequestsTotal.WithLabelValues("memory").Inc()
		return img, nil
	}
	if l.disk != nil {
		img, ok, err := l.disk.get(key)
		if err != nil {
			l.logger.Warn("photo disk read failed", slog.String("error", err.Error()))
		}
		if ok {
			l.memory.add(key, img)
			metrics.PhotoRequestsTotal.WithLabelValues("disk").Inc()
			return img, nil
		}
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key.String(), func() (any, error) {
		return l.fetch(fetchCtx, key)
	})
	select {
	case <-ctx.Done():
		return Image{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			metrics.PhotoRequestsTotal.WithLabelValues("error").Inc()
			return Image{}, res.Err
		}
		tier := "remote"
		if res.Shared {
			tier = "coalesced"
		}
		metrics.PhotoRequestsTotal.WithLabelValues(tier).Inc()
		return res.Val.(Image), nil
	}
}

func (l *Loader) fetch(ctx context.Context, key Key) (Image, error) {
	if l.fetcher == nil {
		return Image{}, errors.New("photo fetcher not configured")
	}
	if err := l.fetches.Acquire(ctx, 1); err != nil {
		return Image{}, err
	}
	defer l.fetches.Release(1)

	start := time.Now()
	data, contentType, err := l.fetcher.Photo(ctx, key.Reference, key.MaxWidth, key.MaxHeight)
	if err != nil {
		l.logger.Warn("photo fetch failed",
			slog.String("key", key.fileName()),
			slog.String("error", err.Error()),
		)
		return Image{}, err
	}
	if len(data) == 0 {
		return Image{}, errors.New("photo fetch returned an empty body")
	}
	img := Image{Data: data, ContentType: contentType}

	l.memory.add(key, img)
	if l.disk != nil {
		if err := l.disk.put(key, img); err != nil {
			l.logger.Warn("photo disk write failed", slog.String("error", err.Error()))
		}
	}
	l.logger.Debug("photo fetched",
		slog.String("key", key.fileName()),
		slog.Int("bytes", len(data)),
		slog.Int64("latencyMs", time.Since(start).Milliseconds()),
	)
	return img, nil
}

// Trim brings the disk tier back under its byte budget.
func (l *Loader) Trim(context.Context) (removed int, freed int64, err error) {
	if l.disk == nil {
		return 0, 0, nil
	}
	return l.disk.trim()
}

// Clear empties both tiers.
func (l *Loader) Clear(context.Context) error {
	l.memory.purge()
	if l.disk == nil {
		return nil
	}
	return l.disk.clear()
}

func (l *Loader) Stats() (Stats, error) {
	var stats Stats
	stats.MemoryEntries, stats.MemoryBytes = l.memory.stats()
	if l.disk == nil {
		return stats, nil
	}
	entries, bytes, err := l.disk.stats()
	stats.DiskEntries = entries
	stats.DiskBytes = bytes
	return stats, err
}
