package maintenance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lunchfinder/discovery/internal/cache"
	"lunchfinder/discovery/internal/domain"
)

type stubTrimmer struct {
	calls atomic.Int32
	err   error
}

func (s *stubTrimmer) Trim(context.Context) (int, int64, error) {
	s.calls.Add(1)
	return 2, 2048, s.err
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunNowPurgesExpiredCacheEntries(t *testing.T) {
	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	results := cache.New(cache.NewMemoryStore(),
		cache.WithTTL(time.Hour),
		cache.WithClock(func() time.Time { return now }),
		cache.WithLogger(quiet()),
	)
	ctx := context.Background()
	require.NoError(t, results.Store(ctx, cache.NearbyKey(domain.Coordinate{Latitude: 1, Longitude: 1}, 500, domain.SearchFilters{}), []domain.Place{{ID: "a"}}))
	require.NoError(t, results.Store(ctx, cache.NearbyKey(domain.Coordinate{Latitude: 2, Longitude: 2}, 500, domain.SearchFilters{}), []domain.Place{{ID: "b"}}))
	now = now.Add(2 * time.Hour)

	trimmer := &stubTrimmer{}
	report, err := NewScheduler(results, trimmer, quiet()).RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.CacheEntriesPurged)
	assert.Equal(t, 2, report.PhotosRemoved)
	assert.EqualValues(t, 2048, report.PhotoBytesFreed)

	n, err := results.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunNowJoinsErrors(t *testing.T) {
	trimmer := &stubTrimmer{err: errors.New("disk gone")}
	_, err := NewScheduler(nil, trimmer, quiet()).RunNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(nil, &stubTrimmer{}, quiet())
	assert.Error(t, s.Start("not a schedule"))
}

func TestStartRunsOnSchedule(t *testing.T) {
	trimmer := &stubTrimmer{}
	s := NewScheduler(nil, trimmer, quiet())
	require.NoError(t, s.Start("@every 1s"))
	defer s.Stop()

	assert.Eventually(t, func() bool { return trimmer.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
