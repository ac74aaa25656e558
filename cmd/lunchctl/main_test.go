package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const textSearchFixture = `{
  "status": "OK",
  "results": [
    {
      "place_id": "p1",
      "name": "Ramen Ya",
      "rating": 4.6,
      "formatted_address": "1 Main St",
      "geometry": {"location": {"lat": 37.7749, "lng": -122.4194}}
    }
  ]
}`

func setupEnv(t *testing.T, placesURL string) {
	t.Helper()
	t.Setenv("LUNCH_CONFIG_FILE", "")
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("FAVORITES_BACKEND", "badger")
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("PHOTO_DISK_MAX_BYTES", "0")
	t.Setenv("PLACES_API_KEY", "test-key")
	t.Setenv("PLACES_MAX_RETRIES", "0")
	if placesURL != "" {
		t.Setenv("PLACES_BASE_URL", placesURL)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFavoritesPersistAcrossInvocations(t *testing.T) {
	setupEnv(t, "")

	_, err := runCLI(t, "favorites", "add", "p2", "p1")
	require.NoError(t, err)

	out, err := runCLI(t, "favorites", "list")
	require.NoError(t, err)
	var ids []string
	require.NoError(t, json.Unmarshal([]byte(out), &ids))
	assert.Equal(t, []string{"p1", "p2"}, ids)

	out, err = runCLI(t, "favorites", "toggle", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, `"isFavorite": false`)
}

func TestSearchTextPrintsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/textsearch/json", r.URL.Path)
		assert.Equal(t, "ramen", r.URL.Query().Get("query"))
		_, _ = w.Write([]byte(textSearchFixture))
	}))
	t.Cleanup(srv.Close)
	setupEnv(t, srv.URL)

	out, err := runCLI(t, "search", "text", "ramen", "--lat", "37.77", "--lon", "-122.41")
	require.NoError(t, err)

	var res searchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "success", res.State)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Ramen Ya", res.Items[0].Name)
}

func TestSavedSearchCreateAndList(t *testing.T) {
	setupEnv(t, "")

	out, err := runCLI(t, "saved", "create", "taco tuesday", "--query", "tacos")
	require.NoError(t, err)
	assert.Contains(t, out, `"kind": "text"`)

	out, err = runCLI(t, "saved", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "taco tuesday")
}

func TestDetailsRequiresOneArgument(t *testing.T) {
	setupEnv(t, "")
	_, err := runCLI(t, "details")
	assert.Error(t, err)
}
