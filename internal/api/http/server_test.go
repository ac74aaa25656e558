package apihttp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"lunchfinder/discovery/internal/domain"
	"lunchfinder/discovery/internal/favorites"
	"lunchfinder/discovery/internal/location"
	"lunchfinder/discovery/internal/photo"
	"lunchfinder/discovery/internal/pipeline"
	badgerrepo "lunchfinder/discovery/internal/repository/badger"
	"lunchfinder/discovery/internal/savedsearch"
)

type fakeSearch struct {
	mu      sync.Mutex
	intents []domain.SearchIntent
}

func (f *fakeSearch) Search(_ context.Context, intent domain.SearchIntent) (domain.PlacePage, error) {
	f.mu.Lock()
	f.intents = append(f.intents, intent)
	f.mu.Unlock()
	if intent.IsContinuation() {
		return domain.PlacePage{Places: []domain.Place{{ID: "p3", Name: "Third"}}}, nil
	}
	name := "Nearby"
	if intent.Query != "" {
		name = intent.Query
	}
	return domain.PlacePage{
		Places:        []domain.Place{{ID: "p1", Name: name}, {ID: "p2", Name: name + " 2"}},
		NextPageToken: "page-2",
	}, nil
}

func (f *fakeSearch) last() domain.SearchIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intents[len(f.intents)-1]
}

type fakePlaces struct {
	err error
}

func (f *fakePlaces) GetDetails(_ context.Context, id string) (domain.PlaceDetail, error) {
	if f.err != nil {
		return domain.PlaceDetail{}, f.err
	}
	return domain.PlaceDetail{Place: domain.Place{ID: id, Name: "Detail"}, Phone: "555-0100"}, nil
}

func (f *fakePlaces) Diagnostics() []domain.EndpointDiagnostics {
	return []domain.EndpointDiagnostics{{Endpoint: "nearbysearch", TotalRequests: 2}}
}

type fakeFetcher struct{}

func (fakeFetcher) Photo(_ context.Context, ref string, _, _ int) ([]byte, string, error) {
	if ref == "broken" {
		return nil, "", &domain.PlacesError{Kind: domain.PlacesErrTimeout}
	}
	return []byte("\x89PNG\r\n\x1a\nfake"), "image/png", nil
}

type testEnv struct {
	server    *Server
	http      *httptest.Server
	search    *fakeSearch
	places    *fakePlaces
	favorites *favorites.State
	location  *location.Source
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, provider location.Provider, opts ...ServerOption) *testEnv {
	t.Helper()
	logger := discardLogger()
	env := &testEnv{search: &fakeSearch{}, places: &fakePlaces{}}

	env.favorites = favorites.New(favorites.NewMemoryStore(), favorites.WithLogger(logger))
	env.location = location.NewSource(provider, location.WithLogger(logger))
	coordinator := pipeline.NewCoordinator(env.search, env.location,
		pipeline.WithFavorites(env.favorites),
		pipeline.WithDebounceInterval(20*time.Millisecond),
		pipeline.WithThrottleInterval(20*time.Millisecond),
		pipeline.WithLogger(logger),
	)
	db, err := badgerrepo.Open("")
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	saved := savedsearch.NewService(badgerrepo.NewSavedSearchRepository(db), savedsearch.WithLogger(logger))

	base := []ServerOption{
		WithLogger(logger),
		WithPlaces(env.places),
		WithPhotos(photo.NewLoader(fakeFetcher{}, photo.WithLogger(logger))),
		WithFavorites(env.favorites),
		WithLocation(env.location),
		WithSavedSearches(saved),
		WithDefaultRadius(800),
	}
	env.server = NewServer(coordinator, append(base, opts...)...)
	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(func() {
		env.http.Close()
		env.server.Close()
		coordinator.Close()
		env.favorites.Close()
		env.location.Close()
		_ = db.Close()
	})
	return env
}

func newDefaultEnv(t *testing.T, opts ...ServerOption) *testEnv {
	return newTestEnv(t, location.NewStaticProvider(domain.Coordinate{Latitude: 52.52, Longitude: 13.405}), opts...)
}

func doRequest(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return out
}

type searchPayload struct {
	Items []struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		IsFavorite bool   `json:"isFavorite"`
	} `json:"items"`
	Status struct {
		State string `json:"state"`
		Count int    `json:"count"`
	} `json:"status"`
	Errors        []json.RawMessage `json:"errors"`
	NextPageToken string            `json:"nextPageToken"`
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestHealth(t *testing.T) {
	env := newDefaultEnv(t)
	resp, body := doRequest(t, http.MethodGet, env.http.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	payload := decode[map[string]any](t, body)
	if payload["status"] != "ok" || payload["pipeline"] != "idle" {
		t.Fatalf("unexpected health payload: %v", payload)
	}
}

func TestSearchNearbyUsesDeviceLocationAndFavorites(t *testing.T) {
	env := newDefaultEnv(t)
	env.favorites.Add(context.Background(), "p2")

	resp, body := doRequest(t, http.MethodGet, env.http.URL+"/places/search?openNow=true", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.StatusCode, body)
	}
	payload := decode[searchPayload](t, body)
	if payload.Status.State != "success" || payload.Status.Count != 2 {
		t.Fatalf("status = %+v", payload.Status)
	}
	if len(payload.Items) != 2 || payload.Items[0].IsFavorite || !payload.Items[1].IsFavorite {
		t.Fatalf("items = %+v", payload.Items)
	}
	if payload.NextPageToken != "page-2" {
		t.Fatalf("nextPageToken = %q", payload.NextPageToken)
	}
	if payload.Errors == nil {
		t.Fatal("errors should be an empty list, not null")
	}

	intent := env.search.last()
	if intent.Kind != domain.SearchKindNearby || intent.RadiusMeters != 800 || !intent.Filters.OpenNow {
		t.Fatalf("intent = %+v", intent)
	}
	if intent.Location == nil || intent.Location.Latitude != 52.52 {
		t.Fatalf("intent location = %v", intent.Location)
	}
}

func TestSearchNextPageAppends(t *testing.T) {
	env := newDefaultEnv(t)
	doRequest(t, http.MethodGet, env.http.URL+"/places/search?q=ramen", "")

	resp, body := doRequest(t, http.MethodGet, env.http.URL+"/places/search?more=true", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.StatusCode, body)
	}
	payload := decode[searchPayload](t, body)
	if len(payload.Items) != 3 || payload.Items[2].ID != "p3" {
		t.Fatalf("items = %+v", payload.Items)
	}
	if got := env.search.last().ContinuationToken; got != "page-2" {
		t.Fatalf("continuation token = %q", got)
	}
}

func TestSearchRejectsBadInput(t *testing.T) {
	env := newDefaultEnv(t)
	cases := []string{
		"/places/search?kind=text",
		"/places/search?lat=abc&lng=1",
		"/places/search?lat=10",
		"/places/search?radius=-5",
		"/places/search?minPrice=4&maxPrice=1",
		"/places/search?more=true",
		"/places/search?q=" + strings.Repeat("x", maxQueryLength+1),
	}
	for _, path := range cases {
		resp, body := doRequest(t, http.MethodGet, env.http.URL+path, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d body=%s", path, resp.StatusCode, body)
		}
		if decode[errorPayload](t, body).Error.Code != "invalid_request" {
			t.Fatalf("%s: body=%s", path, body)
		}
	}
}

func TestSearchLocationFailureReportsFailedStatus(t *testing.T) {
	env := newTestEnv(t, location.NewDeniedProvider())
	resp, body := doRequest(t, http.MethodGet, env.http.URL+"/places/search", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	payload := decode[searchPayload](t, body)
	if payload.Status.State != "failed" || len(payload.Items) != 0 || len(payload.Errors) != 1 {
		t.Fatalf("payload = %s", body)
	}
}

func TestSearchStreamSendsStatusUpdateAndDone(t *testing.T) {
	env := newDefaultEnv(t)
	resp, err := http.Get(env.http.URL + "/places/stream?q=sushi")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	if len(events) < 3 || events[0] != "status" {
		t.Fatalf("events = %v", events)
	}
	if events[len(events)-2] != "update" || events[len(events)-1] != "done" {
		t.Fatalf("events = %v", events)
	}
}

func TestCancelResetsPipeline(t *testing.T) {
	env := newDefaultEnv(t)
	resp, body := doRequest(t, http.MethodPost, env.http.URL+"/places/cancel", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	payload := decode[map[string]any](t, body)
	status := payload["status"].(map[string]any)
	if status["state"] != "idle" {
		t.Fatalf("payload = %s", body)
	}

	resp, _ = doRequest(t, http.MethodGet, env.http.URL+"/places/cancel", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET cancel status = %d", resp.StatusCode)
	}
}

func TestDetails(t *testing.T) {
	env := newDefaultEnv(t)
	env.favorites.Add(context.Background(), "abc")

	resp, body := doRequest(t, http.MethodGet, env.http.URL+"/places/details?id=abc", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	detail := decode[map[string]any](t, body)
	if detail["id"] != "abc" || detail["isFavorite"] != true || detail["phone"] != "555-0100" {
		t.Fatalf("detail = %s", body)
	}

	resp, _ = doRequest(t, http.MethodGet, env.http.URL+"/places/details", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing id status = %d", resp.StatusCode)
	}

	env.places.err = &domain.PlacesError{Kind: domain.PlacesErrRateLimited, Status: 429, RetryAfter: 3 * time.Second}
	resp, body = doRequest(t, http.MethodGet, env.http.URL+"/places/details?id=abc", "")
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") != "3" {
		t.Fatalf("rate limited status = %d retry=%q", resp.StatusCode, resp.Header.Get("Retry-After"))
	}
	if decode[errorPayload](t, body).Error.Code != "rate_limited" {
		t.Fatalf("body = %s", body)
	}
}

func TestPhoto(t *testing.T) {
	env := newDefaultEnv(t)
	resp, body := doRequest(t, http.MethodGet, env.http.URL+"/places/photo?ref=abc&maxWidth=200", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Type") != "image/png" || !strings.HasPrefix(string(body), "\x89PNG") {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != photoCacheControl {
		t.Fatalf("cache control = %q", resp.Header.Get("Cache-Control"))
	}

	resp, _ = doRequest(t, http.MethodGet, env.http.URL+"/places/photo?maxWidth=200", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing ref status = %d", resp.StatusCode)
	}
	resp, _ = doRequest(t, http.MethodGet, env.http.URL+"/places/photo?ref=abc&maxWidth=5000", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversize status = %d", resp.StatusCode)
	}
	resp, _ = doRequest(t, http.MethodGet, env.http.URL+"/places/photo?ref=broken", "")
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("upstream timeout status = %d", resp.StatusCode)
	}
}

func TestDiagnostics(t *testing.T) {
	env := newDefaultEnv(t)
	resp, body := doRequest(t, http.MethodGet, env.http.URL+"/places/diagnostics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	payload := decode[map[string]json.RawMessage](t, body)
	for _, key := range []string{"endpoints", "pipeline", "photos"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("missing %q in %s", key, body)
		}
	}
}

func TestFavoritesEndpoints(t *testing.T) {
	env := newDefaultEnv(t)
	base := env.http.URL + "/favorites"

	resp, body := doRequest(t, http.MethodPost, base, `{"id":"b"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add status = %d body=%s", resp.StatusCode, body)
	}
	doRequest(t, http.MethodPost, base+"?id=a", "")

	_, body = doRequest(t, http.MethodGet, base, "")
	items := decode[map[string][]string](t, body)["items"]
	if strings.Join(items, ",") != "a,b" {
		t.Fatalf("items = %v", items)
	}

	_, body = doRequest(t, http.MethodPost, env.http.URL+"/favorites/toggle?id=a", "")
	if decode[map[string]any](t, body)["isFavorite"] != false {
		t.Fatalf("toggle body = %s", body)
	}

	_, body = doRequest(t, http.MethodDelete, base, "")
	if items := decode[map[string][]string](t, body)["items"]; len(items) != 0 {
		t.Fatalf("after clear = %v", items)
	}

	resp, _ = doRequest(t, http.MethodPost, base, `{"id":"x","extra":1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d", resp.StatusCode)
	}
}

func TestLocationEndpoints(t *testing.T) {
	env := newTestEnv(t, location.NewPushProvider())
	url := env.http.URL + "/location"

	_, body := doRequest(t, http.MethodGet, url, "")
	if string(body) != "{\"location\":null}\n" {
		t.Fatalf("initial body = %q", body)
	}

	resp, body := doRequest(t, http.MethodPost, url, `{"latitude":91,"longitude":0}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid coordinate status = %d body=%s", resp.StatusCode, body)
	}

	resp, _ = doRequest(t, http.MethodPost, url, `{"latitude":48.85,"longitude":2.35}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	_, body = doRequest(t, http.MethodGet, url+"?resolve=true", "")
	loc := decode[map[string]domain.Coordinate](t, body)["location"]
	if loc.Latitude != 48.85 || loc.Longitude != 2.35 {
		t.Fatalf("resolved = %+v", loc)
	}
}

func TestLocationResolveDenied(t *testing.T) {
	env := newTestEnv(t, location.NewDeniedProvider())
	resp, body := doRequest(t, http.MethodGet, env.http.URL+"/location?resolve=1", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d body=%s", resp.StatusCode, body)
	}
	if decode[errorPayload](t, body).Error.Code != "location_denied" {
		t.Fatalf("body = %s", body)
	}
}

func TestSavedSearchLifecycle(t *testing.T) {
	env := newDefaultEnv(t)
	base := env.http.URL + "/saved-searches"

	resp, body := doRequest(t, http.MethodPost, base, `{"name":"Pho nearby","query":"pho","filters":{"openNow":true}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", resp.StatusCode, body)
	}
	created := decode[domain.SavedSearch](t, body)
	if created.ID == "" || created.Kind != domain.SearchKindText {
		t.Fatalf("created = %+v", created)
	}

	resp, body = doRequest(t, http.MethodGet, base+"/"+created.ID, "")
	if resp.StatusCode != http.StatusOK || decode[domain.SavedSearch](t, body).Name != "Pho nearby" {
		t.Fatalf("get status = %d body=%s", resp.StatusCode, body)
	}

	resp, body = doRequest(t, http.MethodPost, base+"/"+created.ID+"/run", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run status = %d body=%s", resp.StatusCode, body)
	}
	if payload := decode[searchPayload](t, body); payload.Status.State != "success" || payload.Items[0].Name != "pho" {
		t.Fatalf("run payload = %s", body)
	}
	if intent := env.search.last(); intent.Query != "pho" || !intent.Filters.OpenNow {
		t.Fatalf("run intent = %+v", intent)
	}

	resp, body = doRequest(t, http.MethodPut, base+"/"+created.ID, `{"name":"Pho","query":"pho"}`)
	if resp.StatusCode != http.StatusOK || decode[domain.SavedSearch](t, body).Name != "Pho" {
		t.Fatalf("update status = %d body=%s", resp.StatusCode, body)
	}

	_, body = doRequest(t, http.MethodGet, base, "")
	if items := decode[map[string][]domain.SavedSearch](t, body)["items"]; len(items) != 1 {
		t.Fatalf("list = %s", body)
	}

	resp, _ = doRequest(t, http.MethodDelete, base+"/"+created.ID, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = doRequest(t, http.MethodGet, base+"/"+created.ID, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, http.MethodPost, base, `{"query":"no name"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid create status = %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	env := newDefaultEnv(t, WithRateLimit(0.001, 1))
	resp, _ := doRequest(t, http.MethodGet, env.http.URL+"/favorites", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d", resp.StatusCode)
	}
	resp, _ = doRequest(t, http.MethodGet, env.http.URL+"/favorites", "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", resp.StatusCode)
	}
	resp, _ = doRequest(t, http.MethodGet, env.http.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health must bypass the limiter, status = %d", resp.StatusCode)
	}
}

func TestWritePlacesErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&domain.PlacesError{Kind: domain.PlacesErrTimeout}, http.StatusGatewayTimeout},
		{&domain.PlacesError{Kind: domain.PlacesErrNetworkUnavailable}, http.StatusServiceUnavailable},
		{&domain.PlacesError{Kind: domain.PlacesErrInvalidAPIKey}, http.StatusBadGateway},
		{&domain.PlacesError{Kind: domain.PlacesErrInvalidResponse, Err: domain.ErrNotFound}, http.StatusNotFound},
		{photo.ErrInvalidKey, http.StatusBadRequest},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writePlacesError(rec, tc.err)
		if rec.Code != tc.status {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.status)
		}
	}
}

func TestNormalizeRoute(t *testing.T) {
	cases := map[string]string{
		"/health":                 "/health",
		"/places/search":          "/places/search",
		"/places/unknown":         "/places/other",
		"/favorites/toggle":       "/favorites",
		"/saved-searches/abc/run": "/saved-searches",
		"/nope":                   "/other",
	}
	for path, want := range cases {
		if got := normalizeRoute(path); got != want {
			t.Fatalf("normalizeRoute(%q) = %q, want %q", path, got, want)
		}
	}
}
