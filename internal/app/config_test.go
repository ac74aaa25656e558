package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LUNCH_CONFIG_FILE", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8095", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.PlacesTimeout)
	assert.Equal(t, 3, cfg.PlacesMaxRetries)
	assert.Equal(t, time.Second, cfg.PlacesRetryBaseDelay)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 50, cfg.CacheMaxEntries)
	assert.Equal(t, BackendBadger, cfg.CacheBackend)
	assert.Equal(t, 1500, cfg.DefaultRadiusMeters)
	assert.Equal(t, 500*time.Millisecond, cfg.DebounceInterval)
	assert.Equal(t, 2*time.Second, cfg.ThrottleInterval)
	assert.False(t, cfg.HasDefaultLocation())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("LUNCH_CONFIG_FILE", "")
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("PLACES_TIMEOUT_SECONDS", "5")
	t.Setenv("PLACES_MAX_RETRIES", "0")
	t.Setenv("PLACES_RETRY_BASE_DELAY", "250ms")
	t.Setenv("CACHE_TTL", "1h")
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("DEFAULT_LATITUDE", "37.7749")
	t.Setenv("DEFAULT_LONGITUDE", "-122.4194")
	t.Setenv("THROTTLE_INTERVAL", "3")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.PlacesTimeout)
	assert.Equal(t, 0, cfg.PlacesMaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.PlacesRetryBaseDelay)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, BackendMemory, cfg.CacheBackend)
	assert.Equal(t, 3*time.Second, cfg.ThrottleInterval)
	require.True(t, cfg.HasDefaultLocation())
	assert.InDelta(t, 37.7749, *cfg.DefaultLatitude, 1e-9)
	assert.InDelta(t, -122.4194, *cfg.DefaultLongitude, 1e-9)
}

func TestLoadConfigIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("LUNCH_CONFIG_FILE", "")
	t.Setenv("CACHE_MAX_ENTRIES", "lots")
	t.Setenv("PLACES_TIMEOUT_SECONDS", "-4")
	t.Setenv("DEBOUNCE_INTERVAL", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.CacheMaxEntries)
	assert.Equal(t, 30*time.Second, cfg.PlacesTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.DebounceInterval)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lunch.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
addr = ":7000"
log_format = "json"

[places]
api_key = "from-file"
timeout_seconds = 12

[cache]
ttl = "6h"
backend = "memory"

[location]
latitude = 51.5
longitude = -0.12
radius_meters = 800
debounce_interval = "300ms"
`), 0o600))
	t.Setenv("LUNCH_CONFIG_FILE", path)
	t.Setenv("PLACES_API_KEY", "from-env")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTPAddr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "from-env", cfg.PlacesAPIKey)
	assert.Equal(t, 12*time.Second, cfg.PlacesTimeout)
	assert.Equal(t, 6*time.Hour, cfg.CacheTTL)
	assert.Equal(t, BackendMemory, cfg.CacheBackend)
	assert.Equal(t, 800, cfg.DefaultRadiusMeters)
	assert.Equal(t, 300*time.Millisecond, cfg.DebounceInterval)
	assert.True(t, cfg.HasDefaultLocation())
}

func TestLoadConfigFileErrors(t *testing.T) {
	t.Setenv("LUNCH_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	_, err := LoadConfig()
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[cache]\nttl = \"forever\"\n"), 0o600))
	t.Setenv("LUNCH_CONFIG_FILE", path)
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "cache.ttl")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.CacheBackend = BackendRedis
	assert.Error(t, bad.Validate(), "redis without url")

	bad = cfg
	bad.FavoritesBackend = "sqlite"
	assert.Error(t, bad.Validate())

	bad = cfg
	lat := 12.0
	bad.DefaultLatitude = &lat
	assert.Error(t, bad.Validate(), "latitude without longitude")

	bad = cfg
	far := 95.0
	bad.DefaultLatitude = &far
	bad.DefaultLongitude = &far
	assert.Error(t, bad.Validate())
}
