package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"lunchfinder/discovery/internal/cache"
	"lunchfinder/discovery/internal/domain"
	"lunchfinder/discovery/internal/favorites"
	"lunchfinder/discovery/internal/metrics"
	"lunchfinder/discovery/internal/stream"
	"lunchfinder/discovery/internal/telemetry"
)

const (
	DefaultDebounceInterval  = 500 * time.Millisecond
	DefaultThrottleInterval  = 2 * time.Second
	DefaultMinMovementMeters = 10.0
)

var ErrClosed = errors.New("pipeline coordinator closed")

type SearchSource interface {
	Search(ctx context.Context, intent domain.SearchIntent) (domain.PlacePage, error)
}

type ResultCache interface {
	Lookup(ctx context.Context, key cache.Key) ([]domain.Place, bool, error)
	Store(ctx context.Context, key cache.Key, places []domain.Place) error
}

type FavoritesSource interface {
	FavoriteIDs(ctx context.Context) (favorites.Set, error)
}

type LocationSource interface {
	ResolveCurrent(ctx context.Context) (domain.Coordinate, error)
	Latest() (domain.Coordinate, bool)
	Subscribe(ctx context.Context) <-chan domain.Coordinate
}

// Result is what one execution produced. Places holds the accumulated list
// after pagination merging, which is also what gets emitted.
type Result struct {
	Places        []domain.Place         `json:"items"`
	Status        domain.PipelineStatus  `json:"status"`
	Errors        []domain.PipelineError `json:"errors"`
	NextPageToken string                 `json:"nextPageToken,omitempty"`
	Cancelled     bool                   `json:"-"`
}

// Coordinator turns search intents into one deduplicated, favorite-enriched
// result list. It reads the remote source and the result cache concurrently,
// tolerates failure of either, and only aborts a call when the location
// cannot be resolved. It never mutates favorites and only writes the cache
// through its public Store contract.
//
// Status, errors and merged results are last-write-wins across calls. A call
// whose context was cancelled (directly or via CancelAll) never writes them.
type Coordinator struct {
	search    SearchSource
	cache     ResultCache
	favorites FavoritesSource
	location  LocationSource
	logger    *slog.Logger
	tracer    trace.Tracer

	debounceInterval  time.Duration
	throttleInterval  time.Duration
	minMovementMeters float64

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu         sync.Mutex
	status     domain.PipelineStatus
	errs       []domain.PipelineError
	merged     []domain.Place
	nextToken  string
	lastIntent *domain.SearchIntent
	inflight   map[uint64]context.CancelFunc
	nextCallID uint64
	generation uint64
	closed     bool

	statusStream  *stream.Broadcaster[domain.PipelineStatus]
	resultsStream *stream.Broadcaster[[]domain.Place]
}

type Option func(*Coordinator)

func WithCache(c ResultCache) Option {
	return func(co *Coordinator) {
		co.cache = c
	}
}

func WithFavorites(f FavoritesSource) Option {
	return func(co *Coordinator) {
		co.favorites = f
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(co *Coordinator) {
		if logger != nil {
			co.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(co *Coordinator) {
		if tracer != nil {
			co.tracer = tracer
		}
	}
}

func WithDebounceInterval(d time.Duration) Option {
	return func(co *Coordinator) {
		if d > 0 {
			co.debounceInterval = d
		}
	}
}

func WithThrottleInterval(d time.Duration) Option {
	return func(co *Coordinator) {
		if d > 0 {
			co.throttleInterval = d
		}
	}
}

// WithMinMovement sets the distance below which location updates count as noise.
func WithMinMovement(meters float64) Option {
	return func(co *Coordinator) {
		if meters >= 0 {
			co.minMovementMeters = meters
		}
	}
}

func NewCoordinator(search SearchSource, location LocationSource, opts ...Option) *Coordinator {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	c := &Coordinator{
		search:            search,
		location:          location,
		logger:            slog.Default(),
		tracer:            telemetry.Tracer("lunchfinder/discovery/pipeline"),
		debounceInterval:  DefaultDebounceInterval,
		throttleInterval:  DefaultThrottleInterval,
		minMovementMeters: DefaultMinMovementMeters,
		rootCtx:           rootCtx,
		rootCancel:        rootCancel,
		status:            domain.IdleStatus(),
		inflight:          make(map[uint64]context.CancelFunc),
		statusStream:      stream.NewBroadcaster[domain.PipelineStatus](1),
		resultsStream:     stream.NewBroadcaster[[]domain.Place](1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.statusStream.Publish(c.status)
	return c
}

// Execute runs intent in the background and returns a stream that carries
// exactly one list and is then closed. Failures never close the stream
// early: they show up as an empty list plus a Failed status. A cancelled
// call closes the stream without emitting.
func (c *Coordinator) Execute(ctx context.Context, intent domain.SearchIntent) <-chan []domain.Place {
	out := make(chan []domain.Place, 1)
	callCtx, id, ok := c.begin(ctx)
	if !ok {
		out <- []domain.Place{}
		close(out)
		return out
	}
	go func() {
		defer close(out)
		result := c.run(callCtx, id, intent)
		if result.Cancelled {
			return
		}
		if result.Places == nil {
			result.Places = []domain.Place{}
		}
		out <- result.Places
	}()
	return out
}

// Run is the synchronous form of Execute. It returns the per-call outcome,
// which is unaffected by concurrent calls.
func (c *Coordinator) Run(ctx context.Context, intent domain.SearchIntent) Result {
	callCtx, id, ok := c.begin(ctx)
	if !ok {
		return Result{
			Places: []domain.Place{},
			Status: domain.FailedStatus(domain.SourceUnavailableError(ErrClosed)),
		}
	}
	return c.run(callCtx, id, intent)
}

// begin registers a call, moves the status to Loading and clears the error list.
func (c *Coordinator) begin(ctx context.Context) (context.Context, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, 0, false
	}

	callCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.rootCtx, cancel)
	id := c.nextCallID
	c.nextCallID++
	c.inflight[id] = func() {
		stop()
		cancel()
	}

	c.status = domain.LoadingStatus()
	c.errs = nil
	c.statusStream.Publish(c.status)
	return callCtx, id, true
}

// finish unregisters a call. When the last call in flight ends without
// writing a terminal status (its caller went away), the status returns to
// Idle instead of staying Loading.
func (c *Coordinator) finish(id uint64) {
	c.mu.Lock()
	cancel, ok := c.inflight[id]
	delete(c.inflight, id)
	if len(c.inflight) == 0 && c.status.State == domain.PipelineLoading {
		c.status = domain.IdleStatus()
		c.statusStream.Publish(c.status)
	}
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Coordinator) run(ctx context.Context, id uint64, intent domain.SearchIntent) Result {
	defer c.finish(id)
	start := time.Now()

	intent = intent.Normalized()
	ctx, span := c.tracer.Start(ctx, "pipeline.Execute", trace.WithAttributes(
		attribute.String("intent.kind", string(intent.Kind)),
		attribute.Bool("intent.continuation", intent.IsContinuation()),
	))
	defer span.End()

	if err := intent.Validate(); err != nil {
		return c.fail(ctx, span, domain.SourceUnavailableError(err), start)
	}
	if c.search == nil {
		return c.fail(ctx, span, domain.SourceUnavailableError(errors.New("no search source configured")), start)
	}

	location, err := c.resolveLocation(ctx, intent)
	if err != nil {
		if ctx.Err() != nil {
			return c.cancelled(span)
		}
		return c.fail(ctx, span, domain.LocationError(err), start)
	}
	intent = intent.WithLocation(location)

	var (
		page      domain.PlacePage
		remoteErr error
		cached    []domain.Place
		cacheHit  bool
		cacheErr  error
	)
	key, cacheable := cache.KeyForIntent(intent)
	cacheable = cacheable && c.cache != nil

	var g errgroup.Group
	g.Go(func() error {
		page, remoteErr = c.search.Search(ctx, intent)
		return nil
	})
	if cacheable {
		g.Go(func() error {
			cached, cacheHit, cacheErr = c.cache.Lookup(ctx, key)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return c.cancelled(span)
	}

	var errs []domain.PipelineError
	if remoteErr != nil {
		errs = append(errs, domain.NetworkError(remoteErr))
		c.logger.Warn("pipeline remote fetch failed", slog.String("error", remoteErr.Error()))
	} else if cacheable && len(page.Places) > 0 {
		if err := c.cache.Store(ctx, key, page.Places); err != nil {
			errs = append(errs, domain.CacheError(err))
			c.logger.Warn("pipeline cache write failed", slog.String("error", err.Error()))
		}
	}
	if cacheErr != nil {
		errs = append(errs, domain.CacheError(cacheErr))
		c.logger.Warn("pipeline cache read failed", slog.String("error", cacheErr.Error()))
	}
	if !cacheHit {
		cached = nil
	}

	merged := mergePlaces(page.Places, cached)
	contributed := remoteErr == nil || len(cached) > 0

	var status domain.PipelineStatus
	if !contributed {
		status = domain.FailedStatus(errs[0])
		merged = []domain.Place{}
	}

	result, ok := c.commit(ctx, intent, merged, status, errs, page.NextPageToken, remoteErr == nil)
	if !ok {
		return c.cancelled(span)
	}

	span.SetAttributes(
		attribute.Int("result.count", len(result.Places)),
		attribute.Int("result.errors", len(errs)),
		attribute.Bool("cache.hit", cacheHit),
	)
	if result.Status.State == domain.PipelineFailed {
		span.SetStatus(codes.Error, result.Status.Err.Error())
	}
	metrics.PipelineExecutionsTotal.WithLabelValues(string(result.Status.State)).Inc()
	c.logger.Info("pipeline execution completed",
		slog.String("kind", string(intent.Kind)),
		slog.String("state", string(result.Status.State)),
		slog.Int("count", len(result.Places)),
		slog.Int("errors", len(errs)),
		slog.Bool("cacheHit", cacheHit),
		slog.Int64("durationMs", time.Since(start).Milliseconds()),
	)
	return result
}

func (c *Coordinator) resolveLocation(ctx context.Context, intent domain.SearchIntent) (domain.Coordinate, error) {
	if intent.Location != nil {
		return *intent.Location, nil
	}
	if c.location == nil {
		return domain.Coordinate{}, domain.ErrLocationUnavailable
	}
	if latest, ok := c.location.Latest(); ok {
		return latest, nil
	}
	return c.location.ResolveCurrent(ctx)
}

// commit enriches page results with the freshest favorite snapshot and
// publishes them, unless ctx was cancelled. The check and the writes happen
// under one lock, the same lock CancelAll takes to cancel calls.
func (c *Coordinator) commit(
	ctx context.Context,
	intent domain.SearchIntent,
	page []domain.Place,
	status domain.PipelineStatus,
	errs []domain.PipelineError,
	nextToken string,
	remoteOK bool,
) (Result, bool) {
	favs := c.favoriteSnapshot(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return Result{}, false
	}

	var places []domain.Place
	if status.State == domain.PipelineFailed {
		places = []domain.Place{}
	} else {
		if intent.IsContinuation() {
			places = mergePlaces(c.merged, page)
		} else {
			places = page
		}
		enrich(places, favs)
		sortPlaces(places, intent.SortBy, intent.Location)
		status = domain.SuccessStatus(len(places))
		c.merged = places
		if remoteOK {
			c.nextToken = nextToken
		}
		stored := intent
		stored.ContinuationToken = ""
		c.lastIntent = &stored
	}

	c.status = status
	c.errs = append(c.errs, errs...)
	c.statusStream.Publish(status)
	if status.State == domain.PipelineSuccess {
		c.resultsStream.Publish(domain.ClonePlaces(places))
	}

	return Result{
		Places:        domain.ClonePlaces(places),
		Status:        status,
		Errors:        append([]domain.PipelineError(nil), errs...),
		NextPageToken: c.nextToken,
	}, true
}

func (c *Coordinator) favoriteSnapshot(ctx context.Context) favorites.Set {
	if c.favorites == nil {
		return nil
	}
	favs, err := c.favorites.FavoriteIDs(ctx)
	if err != nil {
		c.logger.Debug("favorites snapshot failed", slog.String("error", err.Error()))
		return nil
	}
	return favs
}

func (c *Coordinator) fail(ctx context.Context, span trace.Span, perr domain.PipelineError, start time.Time) Result {
	span.RecordError(perr)
	span.SetStatus(codes.Error, perr.Error())

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return Result{Places: []domain.Place{}, Status: domain.IdleStatus(), Cancelled: true}
	}
	status := domain.FailedStatus(perr)
	c.status = status
	c.errs = append(c.errs, perr)
	c.statusStream.Publish(status)

	metrics.PipelineExecutionsTotal.WithLabelValues(string(domain.PipelineFailed)).Inc()
	c.logger.Warn("pipeline execution failed",
		slog.String("source", string(perr.Source)),
		slog.String("error", perr.Error()),
		slog.Int64("durationMs", time.Since(start).Milliseconds()),
	)
	return Result{
		Places: []domain.Place{},
		Status: status,
		Errors: []domain.PipelineError{perr},
	}
}

func (c *Coordinator) cancelled(span trace.Span) Result {
	span.SetAttributes(attribute.Bool("cancelled", true))
	metrics.PipelineExecutionsTotal.WithLabelValues("cancelled").Inc()
	return Result{Places: []domain.Place{}, Status: domain.IdleStatus(), Cancelled: true}
}

// CancelAll cancels every in-flight call and pending debounce timer and
// resets the status to Idle. It is a no-op apart from the reset when nothing
// is running.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cancel := range c.inflight {
		cancel()
		delete(c.inflight, id)
	}
	c.generation++
	c.status = domain.IdleStatus()
	c.errs = nil
	c.statusStream.Publish(c.status)
}

// NextPageIntent returns the intent that fetches the page after the last
// successful one, if the remote source reported more.
func (c *Coordinator) NextPageIntent() (domain.SearchIntent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastIntent == nil || c.nextToken == "" {
		return domain.SearchIntent{}, false
	}
	return c.lastIntent.WithContinuation(c.nextToken), true
}

func (c *Coordinator) Status() domain.PipelineStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) Errors() []domain.PipelineError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.PipelineError(nil), c.errs...)
}

func (c *Coordinator) Results() []domain.Place {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.ClonePlaces(c.merged)
}

func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *Coordinator) SubscribeStatus(ctx context.Context) <-chan domain.PipelineStatus {
	return c.statusStream.Subscribe(ctx)
}

func (c *Coordinator) SubscribeResults(ctx context.Context) <-chan []domain.Place {
	return c.resultsStream.Subscribe(ctx)
}

func (c *Coordinator) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Close cancels everything and closes all subscriber streams.
func (c *Coordinator) Close() {
	c.CancelAll()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.rootCancel()
	c.statusStream.Close()
	c.resultsStream.Close()
}
