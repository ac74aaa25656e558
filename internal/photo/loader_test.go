package photo

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

type fakeFetcher struct {
	calls   atomic.Int32
	gate    chan struct{}
	payload func(ref string) []byte
	err     error
}

func (f *fakeFetcher) Photo(ctx context.Context, ref string, _, _ int) ([]byte, string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	if f.err != nil {
		return nil, "", f.err
	}
	data := append([]byte{}, pngHeader...)
	if f.payload != nil {
		data = f.payload(ref)
	}
	return data, "image/png", nil
}

func sized(n int) func(string) []byte {
	return func(string) []byte {
		return append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{1}, n-len(pngHeader))...)
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKeyValidate(t *testing.T) {
	assert.NoError(t, Key{Reference: "ref", MaxWidth: 400}.Validate())
	assert.NoError(t, Key{Reference: "ref", MaxHeight: 400}.Validate())
	assert.ErrorIs(t, Key{MaxWidth: 400}.Validate(), ErrInvalidKey)
	assert.ErrorIs(t, Key{Reference: "ref"}.Validate(), ErrInvalidKey)
	assert.ErrorIs(t, Key{Reference: "ref", MaxWidth: 4000}.Validate(), ErrInvalidKey)
	assert.NotEqual(t, Key{Reference: "ref", MaxWidth: 400}.fileName(), Key{Reference: "ref", MaxWidth: 800}.fileName())
}

func TestLoadServesFromMemoryAfterFetch(t *testing.T) {
	fetcher := &fakeFetcher{}
	loader := NewLoader(fetcher, WithLogger(quietLogger()))
	key := Key{Reference: "abc", MaxWidth: 400}

	first, err := loader.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "image/png", first.ContentType)

	second, err := loader.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
	assert.EqualValues(t, 1, fetcher.calls.Load())
}

func TestLoadCoalescesConcurrentRequests(t *testing.T) {
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	loader := NewLoader(fetcher, WithLogger(quietLogger()))
	key := Key{Reference: "shared", MaxWidth: 400}

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := loader.Load(context.Background(), key)
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(fetcher.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, fetcher.calls.Load())
}

func TestLoadCallerCancelDoesNotAbortSharedFetch(t *testing.T) {
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	loader := NewLoader(fetcher, WithLogger(quietLogger()))
	key := Key{Reference: "slow", MaxWidth: 200}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := loader.Load(ctx, key)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(fetcher.gate)
	img, err := loader.Load(context.Background(), key)
	require.NoError(t, err)
	assert.NotEmpty(t, img.Data)
	assert.EqualValues(t, 1, fetcher.calls.Load())
}

func TestLoadPropagatesFetchErrors(t *testing.T) {
	loader := NewLoader(&fakeFetcher{err: errors.New("upstream down")}, WithLogger(quietLogger()))
	_, err := loader.Load(context.Background(), Key{Reference: "x", MaxWidth: 100})
	require.Error(t, err)

	stats, err := loader.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.MemoryEntries)
}

func TestMemoryTierByteBudget(t *testing.T) {
	fetcher := &fakeFetcher{payload: sized(400)}
	loader := NewLoader(fetcher, WithLogger(quietLogger()), WithMemoryLimits(10, 1000))

	for _, ref := range []string{"a", "b", "c"} {
		_, err := loader.Load(context.Background(), Key{Reference: ref, MaxWidth: 100})
		require.NoError(t, err)
	}
	stats, err := loader.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MemoryEntries)
	assert.EqualValues(t, 800, stats.MemoryBytes)

	// "a" was evicted first, so loading it again goes remote.
	_, err = loader.Load(context.Background(), Key{Reference: "a", MaxWidth: 100})
	require.NoError(t, err)
	assert.EqualValues(t, 4, fetcher.calls.Load())
}

func TestMemoryTierCountLimit(t *testing.T) {
	loader := NewLoader(&fakeFetcher{}, WithLogger(quietLogger()), WithMemoryLimits(2, 1<<20))
	for _, ref := range []string{"a", "b", "c"} {
		_, err := loader.Load(context.Background(), Key{Reference: ref, MaxWidth: 100})
		require.NoError(t, err)
	}
	stats, err := loader.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MemoryEntries)
}

func TestDiskTierSurvivesMemoryPurge(t *testing.T) {
	fs := afero.NewMemMapFs()
	fetcher := &fakeFetcher{}
	loader := NewLoader(fetcher, WithLogger(quietLogger()), WithDisk(fs, "/photos", 1<<20))
	key := Key{Reference: "disk", MaxWidth: 300}

	_, err := loader.Load(context.Background(), key)
	require.NoError(t, err)
	loader.memory.purge()

	img, err := loader.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.EqualValues(t, 1, fetcher.calls.Load())

	exists, err := afero.Exists(fs, "/photos/"+key.fileName()+diskFileSuffix)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDiskTierEvictsLeastRecentlyAccessed(t *testing.T) {
	fs := afero.NewMemMapFs()
	clk := &clock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{payload: sized(100)}
	loader := NewLoader(fetcher,
		WithLogger(quietLogger()),
		WithMemoryLimits(1, 1<<20),
		WithDisk(fs, "/photos", 250),
		WithClock(clk.Now),
	)
	a := Key{Reference: "a", MaxWidth: 100}
	b := Key{Reference: "b", MaxWidth: 100}
	c := Key{Reference: "c", MaxWidth: 100}

	_, err := loader.Load(context.Background(), a)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = loader.Load(context.Background(), b)
	require.NoError(t, err)
	clk.Advance(time.Minute)

	// Reading a from disk refreshes its access time past b.
	_, err = loader.Load(context.Background(), a)
	require.NoError(t, err)
	clk.Advance(time.Minute)

	_, err = loader.Load(context.Background(), c)
	require.NoError(t, err)

	stats, err := loader.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DiskEntries)
	assert.EqualValues(t, 200, stats.DiskBytes)

	bExists, _ := afero.Exists(fs, "/photos/"+b.fileName()+diskFileSuffix)
	aExists, _ := afero.Exists(fs, "/photos/"+a.fileName()+diskFileSuffix)
	assert.False(t, bExists)
	assert.True(t, aExists)
}

func TestClearEmptiesBothTiers(t *testing.T) {
	fs := afero.NewMemMapFs()
	loader := NewLoader(&fakeFetcher{}, WithLogger(quietLogger()), WithDisk(fs, "/photos", 1<<20))
	_, err := loader.Load(context.Background(), Key{Reference: "a", MaxWidth: 100})
	require.NoError(t, err)

	require.NoError(t, loader.Clear(context.Background()))
	stats, err := loader.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}
