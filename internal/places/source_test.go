package places

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"lunchfinder/discovery/internal/domain"
	"lunchfinder/discovery/internal/httpclient"
)

const nearbyFixture = `{
  "html_attributions": [],
  "status": "OK",
  "next_page_token": "page-2",
  "results": [
    {
      "place_id": "p1",
      "name": "Noodle Bar",
      "rating": 4.5,
      "user_ratings_total": 120,
      "price_level": 2,
      "vicinity": "1 Main St",
      "geometry": {"location": {"lat": 37.7749, "lng": -122.4194}},
      "opening_hours": {"open_now": true},
      "photos": [{"photo_reference": "ref-1", "width": 800, "height": 600}]
    },
    {
      "place_id": "p2",
      "name": "Free Soup",
      "price_level": 0,
      "formatted_address": "2 Side St",
      "geometry": {"location": {"lat": 37.7750, "lng": -122.4195}}
    },
    {"place_id": "", "name": "missing id"}
  ]
}`

func newTestSource(t *testing.T, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := httpclient.New(srv.URL, "test-key",
		httpclient.WithHTTPClient(srv.Client()),
		httpclient.WithRetry(httpclient.RetryConfig{MaxRetries: 0}),
		httpclient.WithLogger(logger),
	)
	return NewSource(client, WithLogger(logger))
}

func TestSearchNearbyBuildsParamsAndConverts(t *testing.T) {
	var got url.Values
	source := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/nearbysearch/json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		got = r.URL.Query()
		_, _ = w.Write([]byte(nearbyFixture))
	})

	filters := domain.SearchFilters{Keyword: "ramen", OpenNow: true, MaxPrice: 3}.Normalized()
	page, err := source.SearchNearby(context.Background(), domain.Coordinate{Latitude: 37.7749, Longitude: -122.4194}, 800, filters, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Get("location") != "37.774900,-122.419400" || got.Get("radius") != "800" {
		t.Fatalf("unexpected location params: %v", got)
	}
	if got.Get("type") != "restaurant" || got.Get("keyword") != "ramen" || got.Get("opennow") != "true" || got.Get("maxprice") != "3" {
		t.Fatalf("unexpected filter params: %v", got)
	}
	if got.Get("key") != "test-key" {
		t.Fatalf("expected api key param, got %v", got)
	}

	if page.NextPageToken != "page-2" {
		t.Fatalf("expected next page token, got %q", page.NextPageToken)
	}
	if len(page.Places) != 2 {
		t.Fatalf("expected 2 places (id-less result dropped), got %d", len(page.Places))
	}
	first := page.Places[0]
	if first.ID != "p1" || first.Rating == nil || *first.Rating != 4.5 || first.RatingCount == nil || *first.RatingCount != 120 {
		t.Fatalf("unexpected first place: %+v", first)
	}
	if first.PriceLevel == nil || *first.PriceLevel != 2 || first.Address != "1 Main St" {
		t.Fatalf("unexpected first place details: %+v", first)
	}
	if len(first.PhotoRefs) != 1 || first.PhotoRefs[0] != "ref-1" || first.OpenNow == nil || !*first.OpenNow {
		t.Fatalf("unexpected first place extras: %+v", first)
	}
	second := page.Places[1]
	if second.PriceLevel != nil {
		t.Fatalf("price level 0 should map to nil, got %v", *second.PriceLevel)
	}
	if second.Rating != nil || second.Address != "2 Side St" {
		t.Fatalf("unexpected second place: %+v", second)
	}
}

func TestSearchWithContinuationSendsOnlyToken(t *testing.T) {
	var got url.Values
	source := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		_, _ = w.Write([]byte(`{"status":"OK","results":[]}`))
	})

	intent := domain.NearbyIntent(domain.Coordinate{Latitude: 1, Longitude: 2}, 500).WithContinuation("tok")
	if _, err := source.Search(context.Background(), intent.Normalized()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Get("pagetoken") != "tok" {
		t.Fatalf("expected pagetoken, got %v", got)
	}
	if got.Has("location") || got.Has("radius") || got.Has("type") {
		t.Fatalf("continuation request should not carry search params: %v", got)
	}
}

func TestSearchTextUsesQueryAndOptionalLocation(t *testing.T) {
	var got url.Values
	var path string
	source := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	})

	loc := domain.Coordinate{Latitude: 10, Longitude: 20}
	page, err := source.Search(context.Background(), domain.TextIntent("pizza", &loc).Normalized())
	if err != nil {
		t.Fatalf("ZERO_RESULTS should not be an error, got %v", err)
	}
	if len(page.Places) != 0 {
		t.Fatalf("expected empty page, got %d places", len(page.Places))
	}
	if path != "/textsearch/json" || got.Get("query") != "pizza" || got.Get("location") != "10.000000,20.000000" {
		t.Fatalf("unexpected request %s %v", path, got)
	}
}

func TestSearchRejectsUnexpectedStatus(t *testing.T) {
	source := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"REQUEST_DENIED","error_message":"denied","results":[]}`))
	})

	_, err := source.SearchNearby(context.Background(), domain.Coordinate{}, 100, domain.SearchFilters{}, "")
	pe, ok := domain.AsPlacesError(err)
	if !ok || pe.Kind != domain.PlacesErrInvalidResponse {
		t.Fatalf("expected invalid_response, got %v", err)
	}

	diags := source.Diagnostics()
	if len(diags) != 1 || diags[0].Endpoint != endpointNearby {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	if diags[0].ConsecutiveFailures != 1 || diags[0].LastErrorKind != string(domain.PlacesErrInvalidResponse) {
		t.Fatalf("unexpected failure state: %+v", diags[0])
	}
}

func TestGetDetails(t *testing.T) {
	source := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("place_id") == "missing" {
			_, _ = w.Write([]byte(`{"status":"NOT_FOUND"}`))
			return
		}
		_, _ = w.Write([]byte(`{
		  "status": "OK",
		  "result": {
		    "place_id": "p1",
		    "name": "Noodle Bar",
		    "formatted_phone_number": "(555) 010-0000",
		    "website": "https://noodle.example",
		    "opening_hours": {"open_now": false, "weekday_text": ["Monday: 11 AM - 9 PM"]},
		    "reviews": [{"author_name": "Sam", "rating": 5, "text": "great", "relative_time_description": "a week ago", "time": 1700000000}]
		  }
		}`))
	})

	detail, err := source.GetDetails(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail.ID != "p1" || detail.Phone != "(555) 010-0000" || detail.Website != "https://noodle.example" {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if detail.OpeningHours == nil || detail.OpeningHours.OpenNow == nil || *detail.OpeningHours.OpenNow {
		t.Fatalf("unexpected opening hours: %+v", detail.OpeningHours)
	}
	if len(detail.Reviews) != 1 || detail.Reviews[0].AuthorName != "Sam" || detail.Reviews[0].Time.Unix() != 1700000000 {
		t.Fatalf("unexpected reviews: %+v", detail.Reviews)
	}

	_, err = source.GetDetails(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := source.GetDetails(context.Background(), " "); !errors.Is(err, ErrInvalidPlaceID) {
		t.Fatalf("expected ErrInvalidPlaceID, got %v", err)
	}
}

func TestPhotoReturnsPayload(t *testing.T) {
	source := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/photo" || q.Get("photo_reference") != "ref-1" || q.Get("maxwidth") != "320" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	})

	body, contentType, err := source.Photo(context.Background(), "ref-1", 320, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "jpeg-bytes" || contentType != "image/jpeg" {
		t.Fatalf("unexpected photo payload %q (%s)", body, contentType)
	}
}
