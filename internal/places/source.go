package places

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"lunchfinder/discovery/internal/domain"
	"lunchfinder/discovery/internal/httpclient"
)

const DefaultBaseURL = "https://maps.googleapis.com/maps/api/place"

const (
	endpointNearby  = "nearbysearch"
	endpointText    = "textsearch"
	endpointDetails = "details"
	endpointPhoto   = "photo"

	statusOK          = "OK"
	statusZeroResults = "ZERO_RESULTS"
	statusNotFound    = "NOT_FOUND"

	detailFields = "place_id,name,rating,user_ratings_total,price_level,geometry,vicinity,formatted_address," +
		"photos,formatted_phone_number,international_phone_number,website,opening_hours,reviews"
)

var ErrInvalidPlaceID = errors.New("place id is required")

// Source talks to the remote places endpoints. Retries belong to the
// underlying httpclient.Client; Source never retries on its own.
type Source struct {
	client   *httpclient.Client
	logger   *slog.Logger
	language string
	now      func() time.Time

	healthMu sync.Mutex
	health   map[string]*endpointHealth
}

type Option func(*Source)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLanguage sets the language parameter sent with every request.
func WithLanguage(language string) Option {
	return func(s *Source) {
		s.language = strings.TrimSpace(language)
	}
}

func NewSource(client *httpclient.Client, opts ...Option) *Source {
	s := &Source{
		client: client,
		logger: slog.Default(),
		now:    time.Now,
		health: make(map[string]*endpointHealth),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search dispatches an intent to text or nearby search. The intent must
// carry a location for nearby searches.
func (s *Source) Search(ctx context.Context, intent domain.SearchIntent) (domain.PlacePage, error) {
	if intent.Kind == domain.SearchKindText || strings.TrimSpace(intent.Query) != "" {
		return s.SearchText(ctx, intent.Query, intent.Location, intent.RadiusMeters, intent.Filters, intent.ContinuationToken)
	}
	if intent.Location == nil {
		return domain.PlacePage{}, fmt.Errorf("%w: nearby search requires a location", domain.ErrInvalidIntent)
	}
	return s.SearchNearby(ctx, *intent.Location, intent.RadiusMeters, intent.Filters, intent.ContinuationToken)
}

func (s *Source) SearchNearby(ctx context.Context, location domain.Coordinate, radiusMeters int, filters domain.SearchFilters, token string) (domain.PlacePage, error) {
	params := url.Values{}
	token = strings.TrimSpace(token)
	if token != "" {
		// Upstream ignores every other parameter once a page token is given.
		params.Set("pagetoken", token)
	} else {
		if radiusMeters <= 0 {
			radiusMeters = domain.DefaultRadiusMeters
		}
		params.Set("location", location.String())
		params.Set("radius", strconv.Itoa(radiusMeters))
		if filters.Keyword != "" {
			params.Set("keyword", filters.Keyword)
		}
		applyFilters(params, filters)
	}
	s.applyLanguage(params)
	return s.search(ctx, endpointNearby, params)
}

func (s *Source) SearchText(ctx context.Context, query string, location *domain.Coordinate, radiusMeters int, filters domain.SearchFilters, token string) (domain.PlacePage, error) {
	params := url.Values{}
	token = strings.TrimSpace(token)
	if token != "" {
		params.Set("pagetoken", token)
	} else {
		query = strings.TrimSpace(query)
		if filters.Keyword != "" && !strings.Contains(strings.ToLower(query), strings.ToLower(filters.Keyword)) {
			query = strings.TrimSpace(query + " " + filters.Keyword)
		}
		if query == "" {
			return domain.PlacePage{}, fmt.Errorf("%w: text search requires a query", domain.ErrInvalidIntent)
		}
		params.Set("query", query)
		if location != nil {
			params.Set("location", location.String())
			if radiusMeters <= 0 {
				radiusMeters = domain.DefaultRadiusMeters
			}
			params.Set("radius", strconv.Itoa(radiusMeters))
		}
		applyFilters(params, filters)
	}
	s.applyLanguage(params)
	return s.search(ctx, endpointText, params)
}

func (s *Source) search(ctx context.Context, endpoint string, params url.Values) (domain.PlacePage, error) {
	start := s.now()
	resp, err := httpclient.Do[searchResponse](ctx, s.client, httpclient.Request{
		Endpoint: endpoint,
		Path:     "/" + endpoint + "/json",
		Query:    params,
	})
	if err == nil {
		err = checkStatus(resp.Status, resp.ErrorMessage)
	}
	s.recordResult(endpoint, err, s.now().Sub(start))
	if err != nil {
		return domain.PlacePage{}, err
	}

	page := domain.PlacePage{
		Places:        convertPlaces(resp.Results),
		NextPageToken: strings.TrimSpace(resp.NextPageToken),
	}
	s.logger.Debug("places search completed",
		slog.String("endpoint", endpoint),
		slog.String("status", resp.Status),
		slog.Int("results", len(page.Places)),
		slog.Bool("hasNextPage", page.NextPageToken != ""),
	)
	return page, nil
}

func (s *Source) GetDetails(ctx context.Context, placeID string) (domain.PlaceDetail, error) {
	placeID = strings.TrimSpace(placeID)
	if placeID == "" {
		return domain.PlaceDetail{}, ErrInvalidPlaceID
	}
	params := url.Values{}
	params.Set("place_id", placeID)
	params.Set("fields", detailFields)
	s.applyLanguage(params)

	start := s.now()
	resp, err := httpclient.Do[detailsResponse](ctx, s.client, httpclient.Request{
		Endpoint: endpointDetails,
		Path:     "/" + endpointDetails + "/json",
		Query:    params,
	})
	if err == nil {
		err = checkStatus(resp.Status, resp.ErrorMessage)
	}
	if err == nil && (resp.Result == nil || resp.Status == statusZeroResults) {
		err = &domain.PlacesError{Kind: domain.PlacesErrInvalidResponse, Message: "details response has no result", Err: domain.ErrNotFound}
	}
	s.recordResult(endpointDetails, err, s.now().Sub(start))
	if err != nil {
		return domain.PlaceDetail{}, err
	}
	return convertDetail(*resp.Result), nil
}

// Photo downloads the binary payload for a photo reference, following the
// upstream redirect to the image host.
func (s *Source) Photo(ctx context.Context, ref string, maxWidth, maxHeight int) ([]byte, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, "", &domain.PlacesError{Kind: domain.PlacesErrInvalidURL, Message: "photo reference is required"}
	}
	params := url.Values{}
	params.Set("photo_reference", ref)
	if maxWidth > 0 {
		params.Set("maxwidth", strconv.Itoa(maxWidth))
	}
	if maxHeight > 0 {
		params.Set("maxheight", strconv.Itoa(maxHeight))
	}
	if maxWidth <= 0 && maxHeight <= 0 {
		params.Set("maxwidth", "400")
	}

	start := s.now()
	resp, err := s.client.Fetch(ctx, httpclient.Request{
		Endpoint: endpointPhoto,
		Path:     "/" + endpointPhoto,
		Query:    params,
	})
	if err == nil && len(resp.Body) == 0 {
		err = &domain.PlacesError{Kind: domain.PlacesErrInvalidResponse, Message: "empty photo payload"}
	}
	s.recordResult(endpointPhoto, err, s.now().Sub(start))
	if err != nil {
		return nil, "", err
	}
	return resp.Body, resp.ContentType, nil
}

func (s *Source) applyLanguage(params url.Values) {
	if s.language != "" {
		params.Set("language", s.language)
	}
}

func applyFilters(params url.Values, filters domain.SearchFilters) {
	if filters.Type != "" {
		params.Set("type", filters.Type)
	}
	if filters.OpenNow {
		params.Set("opennow", "true")
	}
	if filters.MinPrice > 0 {
		params.Set("minprice", strconv.Itoa(filters.MinPrice))
	}
	if filters.MaxPrice > 0 {
		params.Set("maxprice", strconv.Itoa(filters.MaxPrice))
	}
}

// checkStatus accepts OK and ZERO_RESULTS; anything else is an invalid response.
func checkStatus(status, message string) error {
	switch status {
	case statusOK, statusZeroResults:
		return nil
	}
	perr := &domain.PlacesError{
		Kind:    domain.PlacesErrInvalidResponse,
		Message: strings.TrimSpace(status + " " + message),
	}
	if status == statusNotFound {
		perr.Err = domain.ErrNotFound
	}
	return perr
}
