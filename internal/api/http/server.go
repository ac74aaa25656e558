package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lunchfinder/discovery/internal/domain"
	"lunchfinder/discovery/internal/photo"
	"lunchfinder/discovery/internal/pipeline"
	"lunchfinder/discovery/internal/places"
)

type Pipeline interface {
	Run(ctx context.Context, intent domain.SearchIntent) pipeline.Result
	Execute(ctx context.Context, intent domain.SearchIntent) <-chan []domain.Place
	DebouncedSearchWith(ctx context.Context, queries <-chan string, base domain.SearchIntent) <-chan []domain.Place
	ThrottledLocation(ctx context.Context) <-chan domain.Coordinate
	CancelAll()
	NextPageIntent() (domain.SearchIntent, bool)
	Status() domain.PipelineStatus
	Errors() []domain.PipelineError
	InFlight() int
	SubscribeStatus(ctx context.Context) <-chan domain.PipelineStatus
}

type PlacesService interface {
	GetDetails(ctx context.Context, placeID string) (domain.PlaceDetail, error)
	Diagnostics() []domain.EndpointDiagnostics
}

type PhotoService interface {
	Load(ctx context.Context, key photo.Key) (photo.Image, error)
	Stats() (photo.Stats, error)
}

type FavoritesService interface {
	IDs() []string
	IsFavorite(id string) bool
	Toggle(ctx context.Context, id string) bool
	Add(ctx context.Context, id string)
	Remove(ctx context.Context, id string)
	Clear(ctx context.Context)
	Subscribe(ctx context.Context) <-chan []string
}

type LocationService interface {
	ResolveCurrent(ctx context.Context) (domain.Coordinate, error)
	Update(coord domain.Coordinate) error
	Latest() (domain.Coordinate, bool)
}

type SavedSearchService interface {
	Create(ctx context.Context, in domain.SavedSearch) (domain.SavedSearch, error)
	Get(ctx context.Context, id string) (domain.SavedSearch, error)
	List(ctx context.Context) ([]domain.SavedSearch, error)
	Update(ctx context.Context, id string, in domain.SavedSearch) (domain.SavedSearch, error)
	Delete(ctx context.Context, id string) error
}

type Server struct {
	pipeline  Pipeline
	places    PlacesService
	photos    PhotoService
	favorites FavoritesService
	location  LocationService
	saved     SavedSearchService
	logger    *slog.Logger

	defaultRadius int
	rateRPS       float64
	rateBurst     int

	hub       *wsHub
	rootCtx   context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
}

const (
	maxQueryLength        = 200
	defaultPhotoMaxWidth  = 400
	locationResolveLimit  = 10 * time.Second
	photoCacheControl     = "public, max-age=86400"
	defaultRateLimitRPS   = 50
	defaultRateLimitBurst = 100
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithPlaces(p PlacesService) ServerOption {
	return func(s *Server) {
		s.places = p
	}
}

func WithPhotos(p PhotoService) ServerOption {
	return func(s *Server) {
		s.photos = p
	}
}

func WithFavorites(f FavoritesService) ServerOption {
	return func(s *Server) {
		s.favorites = f
	}
}

func WithLocation(l LocationService) ServerOption {
	return func(s *Server) {
		s.location = l
	}
}

func WithSavedSearches(svc SavedSearchService) ServerOption {
	return func(s *Server) {
		s.saved = svc
	}
}

// WithDefaultRadius is applied to nearby searches that do not name a radius.
func WithDefaultRadius(meters int) ServerOption {
	return func(s *Server) {
		if meters > 0 {
			s.defaultRadius = meters
		}
	}
}

// WithRateLimit sets the global request budget. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func NewServer(p Pipeline, options ...ServerOption) *Server {
	rootCtx, cancel := context.WithCancel(context.Background())
	server := &Server{
		pipeline:      p,
		logger:        slog.Default(),
		defaultRadius: domain.DefaultRadiusMeters,
		rateRPS:       defaultRateLimitRPS,
		rateBurst:     defaultRateLimitBurst,
		rootCtx:       rootCtx,
		cancel:        cancel,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	server.hub = newWSHub(server.logger)
	return server
}

func (s *Server) Handler() http.Handler {
	s.startOnce.Do(s.startPush)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/places/search", s.handleSearch)
	mux.HandleFunc("/places/stream", s.handleSearchStream)
	mux.HandleFunc("/places/cancel", s.handleCancel)
	mux.HandleFunc("/places/details", s.handleDetails)
	mux.HandleFunc("/places/photo", s.handlePhoto)
	mux.HandleFunc("/places/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/favorites", s.handleFavorites)
	mux.HandleFunc("/favorites/toggle", s.handleFavoriteToggle)
	mux.HandleFunc("/location", s.handleLocation)
	mux.HandleFunc("GET /saved-searches", s.handleSavedSearchList)
	mux.HandleFunc("POST /saved-searches", s.handleSavedSearchCreate)
	mux.HandleFunc("GET /saved-searches/{id}", s.handleSavedSearchGet)
	mux.HandleFunc("PUT /saved-searches/{id}", s.handleSavedSearchUpdate)
	mux.HandleFunc("DELETE /saved-searches/{id}", s.handleSavedSearchDelete)
	mux.HandleFunc("POST /saved-searches/{id}/run", s.handleSavedSearchRun)
	mux.HandleFunc("/ws", s.handleWS)
	traced := otelhttp.NewHandler(mux, "lunchfinder-discovery",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, instrumentMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, traced)))
}

// Close stops push streams and disconnects WebSocket clients.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.hub.Close()
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	if s.pipeline != nil {
		payload["pipeline"] = s.pipeline.Status().State
	}
	writeJSON(w, http.StatusOK, payload)
}

type searchResponse struct {
	Items         []domain.Place         `json:"items"`
	Status        domain.PipelineStatus  `json:"status"`
	Errors        []domain.PipelineError `json:"errors"`
	NextPageToken string                 `json:"nextPageToken,omitempty"`
}

func newSearchResponse(result pipeline.Result) searchResponse {
	resp := searchResponse{
		Items:         result.Places,
		Status:        result.Status,
		Errors:        result.Errors,
		NextPageToken: result.NextPageToken,
	}
	if resp.Items == nil {
		resp.Items = []domain.Place{}
	}
	if resp.Errors == nil {
		resp.Errors = []domain.PipelineError{}
	}
	return resp
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search pipeline is not configured")
		return
	}
	intent, err := s.intentFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result := s.pipeline.Run(r.Context(), intent)
	if result.Cancelled {
		writeError(w, http.StatusConflict, "cancelled", "search was cancelled")
		return
	}
	s.logger.Info("search completed",
		slog.String("kind", string(intent.Kind)),
		slog.String("query", truncate(intent.Query, 80)),
		slog.Bool("continuation", intent.IsContinuation()),
		slog.String("state", string(result.Status.State)),
		slog.Int("items", len(result.Places)),
		slog.Int("errors", len(result.Errors)),
	)
	writeJSON(w, http.StatusOK, newSearchResponse(result))
}

func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search pipeline is not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}
	intent, err := s.intentFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	if err := writeSSEEvent(w, flusher, "status", s.pipeline.Status()); err != nil {
		return
	}
	statuses := s.pipeline.SubscribeStatus(ctx)
	results := s.pipeline.Execute(ctx, intent)
	for {
		select {
		case <-ctx.Done():
			return // Client disconnected
		case status, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			if err := writeSSEEvent(w, flusher, "status", status); err != nil {
				return
			}
		case items, ok := <-results:
			if !ok {
				_ = writeSSEEvent(w, flusher, "done", map[string]any{"final": true, "cancelled": true})
				return
			}
			next, _ := s.pipeline.NextPageIntent()
			update := newSearchResponse(pipeline.Result{
				Places:        items,
				Status:        s.pipeline.Status(),
				Errors:        s.pipeline.Errors(),
				NextPageToken: next.ContinuationToken,
			})
			if err := writeSSEEvent(w, flusher, "update", update); err != nil {
				return
			}
			_ = writeSSEEvent(w, flusher, "done", map[string]any{"final": true})
			return
		}
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search pipeline is not configured")
		return
	}
	cancelled := s.pipeline.InFlight()
	s.pipeline.CancelAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled": cancelled,
		"status":    s.pipeline.Status(),
	})
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.places == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "places source is not configured")
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}
	detail, err := s.places.GetDetails(r.Context(), id)
	if err != nil {
		if errors.Is(err, places.ErrInvalidPlaceID) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.logger.Warn("place details failed", slog.String("id", id), slog.String("error", err.Error()))
		writePlacesError(w, err)
		return
	}
	if s.favorites != nil {
		detail.IsFavorite = s.favorites.IsFavorite(detail.ID)
	}
	if detail.Reviews == nil {
		detail.Reviews = []domain.Review{}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.photos == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "photo loader is not configured")
		return
	}
	maxWidth, err := parseNonNegativeInt(r, "maxWidth", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid maxWidth")
		return
	}
	maxHeight, err := parseNonNegativeInt(r, "maxHeight", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid maxHeight")
		return
	}
	if maxWidth == 0 && maxHeight == 0 {
		maxWidth = defaultPhotoMaxWidth
	}
	key := photo.Key{
		Reference: strings.TrimSpace(r.URL.Query().Get("ref")),
		MaxWidth:  maxWidth,
		MaxHeight: maxHeight,
	}
	if err := key.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	img, err := s.photos.Load(r.Context(), key)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.logger.Warn("photo load failed", slog.String("error", err.Error()))
		writePlacesError(w, err)
		return
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", photoCacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	payload := map[string]any{}
	if s.places != nil {
		endpoints := s.places.Diagnostics()
		if endpoints == nil {
			endpoints = []domain.EndpointDiagnostics{}
		}
		payload["endpoints"] = endpoints
	}
	if s.pipeline != nil {
		errs := s.pipeline.Errors()
		if errs == nil {
			errs = []domain.PipelineError{}
		}
		payload["pipeline"] = map[string]any{
			"status":   s.pipeline.Status(),
			"errors":   errs,
			"inFlight": s.pipeline.InFlight(),
		}
	}
	if s.photos != nil {
		stats, err := s.photos.Stats()
		if err != nil {
			s.logger.Warn("photo stats failed", slog.String("error", err.Error()))
		} else {
			payload["photos"] = stats
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

// intentFromRequest reads a search intent from query parameters:
// q, lat, lng, radius, keyword, type, openNow, minPrice, maxPrice, sortBy,
// pageToken. more=true continues the last search instead.
func (s *Server) intentFromRequest(r *http.Request) (domain.SearchIntent, error) {
	values := r.URL.Query()
	if parseOptionalBool(values.Get("more")) {
		intent, ok := s.pipeline.NextPageIntent()
		if !ok {
			return domain.SearchIntent{}, errors.New("no further page is available")
		}
		return intent, nil
	}

	query := strings.TrimSpace(values.Get("q"))
	if len(query) > maxQueryLength {
		return domain.SearchIntent{}, fmt.Errorf("query too long (max %d characters)", maxQueryLength)
	}
	intent := domain.SearchIntent{
		Kind:              domain.SearchKind(strings.ToLower(strings.TrimSpace(values.Get("kind")))),
		Query:             query,
		ContinuationToken: strings.TrimSpace(values.Get("pageToken")),
		SortBy:            domain.SortBy(strings.ToLower(strings.TrimSpace(values.Get("sortBy")))),
	}

	latRaw, lngRaw := strings.TrimSpace(values.Get("lat")), strings.TrimSpace(values.Get("lng"))
	if latRaw != "" || lngRaw != "" {
		lat, errLat := strconv.ParseFloat(latRaw, 64)
		lng, errLng := strconv.ParseFloat(lngRaw, 64)
		if errLat != nil || errLng != nil {
			return domain.SearchIntent{}, errors.New("lat and lng must both be valid numbers")
		}
		intent = intent.WithLocation(domain.Coordinate{Latitude: lat, Longitude: lng})
	}

	radius, err := parseNonNegativeInt(r, "radius", 0)
	if err != nil {
		return domain.SearchIntent{}, errors.New("invalid radius")
	}
	intent.RadiusMeters = radius

	filters, err := parseSearchFilters(r)
	if err != nil {
		return domain.SearchIntent{}, err
	}
	intent.Filters = filters

	intent = s.withDefaults(intent)
	if err := intent.Validate(); err != nil {
		return domain.SearchIntent{}, err
	}
	return intent, nil
}

func (s *Server) withDefaults(intent domain.SearchIntent) domain.SearchIntent {
	if intent.RadiusMeters <= 0 {
		intent.RadiusMeters = s.defaultRadius
	}
	return intent.Normalized()
}

func parseSearchFilters(r *http.Request) (domain.SearchFilters, error) {
	values := r.URL.Query()
	filters := domain.SearchFilters{
		Keyword: strings.TrimSpace(values.Get("keyword")),
		Type:    strings.TrimSpace(values.Get("type")),
		OpenNow: parseOptionalBool(values.Get("openNow")),
	}
	var err error
	if filters.MinPrice, err = parseNonNegativeInt(r, "minPrice", 0); err != nil {
		return filters, errors.New("invalid minPrice")
	}
	if filters.MaxPrice, err = parseNonNegativeInt(r, "maxPrice", 0); err != nil {
		return filters, errors.New("invalid maxPrice")
	}
	return filters, nil
}

// writePlacesError maps the client error taxonomy onto HTTP statuses.
func writePlacesError(w http.ResponseWriter, err error) {
	pe, ok := domain.AsPlacesError(err)
	if !ok {
		if errors.Is(err, photo.ErrInvalidKey) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "upstream_error", "places request failed")
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", pe.UserMessage())
		return
	}
	status := http.StatusBadGateway
	switch pe.Kind {
	case domain.PlacesErrRateLimited:
		status = http.StatusTooManyRequests
		if pe.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(pe.RetryAfter.Round(time.Second)/time.Second)))
		}
	case domain.PlacesErrTimeout:
		status = http.StatusGatewayTimeout
	case domain.PlacesErrNetworkUnavailable:
		status = http.StatusServiceUnavailable
	case domain.PlacesErrRequestFailed:
		if pe.Status == http.StatusNotFound {
			status = http.StatusNotFound
		}
	}
	writeError(w, status, string(pe.Kind), pe.UserMessage())
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func parseNonNegativeInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func parseOptionalBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err // Client disconnected
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err // Client disconnected
	}
	flusher.Flush()
	return nil
}
