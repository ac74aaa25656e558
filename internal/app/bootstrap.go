package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lunchfinder/discovery/internal/cache"
	"lunchfinder/discovery/internal/domain"
	"lunchfinder/discovery/internal/favorites"
	"lunchfinder/discovery/internal/httpclient"
	"lunchfinder/discovery/internal/location"
	"lunchfinder/discovery/internal/maintenance"
	"lunchfinder/discovery/internal/photo"
	"lunchfinder/discovery/internal/pipeline"
	"lunchfinder/discovery/internal/places"
	badgerrepo "lunchfinder/discovery/internal/repository/badger"
	mongorepo "lunchfinder/discovery/internal/repository/mongo"
	"lunchfinder/discovery/internal/savedsearch"
	"lunchfinder/discovery/internal/telemetry"
)

// App holds the wired components shared by the server and the CLI.
type App struct {
	Config        Config
	Logger        *slog.Logger
	Places        *places.Source
	Cache         *cache.ResultCache
	Favorites     *favorites.State
	Location      *location.Source
	Coordinator   *pipeline.Coordinator
	Photos        *photo.Loader
	SavedSearches *savedsearch.Service
	Maintenance   *maintenance.Scheduler

	badger  *badgerrepo.DB
	closers []func(context.Context) error
}

// Build wires every component from cfg. Favorites are loaded before Build
// returns. Callers own the returned App and must Close it.
func Build(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	client := httpclient.New(cfg.PlacesBaseURL, cfg.PlacesAPIKey,
		httpclient.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
		httpclient.WithTimeout(cfg.PlacesTimeout),
		httpclient.WithRetry(httpclient.RetryConfig{
			MaxRetries: cfg.PlacesMaxRetries,
			BaseDelay:  cfg.PlacesRetryBaseDelay,
			MaxDelay:   30 * time.Second,
		}),
		httpclient.WithRateLimit(cfg.PlacesRateLimitRPS, 1),
		httpclient.WithLogger(logger),
	)
	a.Places = places.NewSource(client,
		places.WithLanguage(cfg.PlacesLanguage),
		places.WithLogger(logger),
	)
	if strings.TrimSpace(cfg.PlacesAPIKey) == "" {
		logger.Warn("places api key not configured, remote searches will fail")
	}

	cacheStore, err := a.buildCacheStore(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Cache = cache.New(cacheStore,
		cache.WithTTL(cfg.CacheTTL),
		cache.WithMaxEntries(cfg.CacheMaxEntries),
		cache.WithLogger(logger),
	)

	favoritesStore, savedRepo, err := a.buildRecordStores(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Favorites = favorites.New(favoritesStore, favorites.WithLogger(logger))
	a.closers = append(a.closers, func(context.Context) error { a.Favorites.Close(); return nil })
	if err := a.Favorites.Load(ctx); err != nil {
		logger.Warn("favorites load failed, starting empty", slog.String("error", err.Error()))
	}
	a.SavedSearches = savedsearch.NewService(savedRepo, savedsearch.WithLogger(logger))

	a.Location = location.NewSource(buildLocationProvider(cfg), location.WithLogger(logger))
	a.closers = append(a.closers, func(context.Context) error { a.Location.Close(); return nil })

	a.Coordinator = pipeline.NewCoordinator(a.Places, a.Location,
		pipeline.WithCache(a.Cache),
		pipeline.WithFavorites(a.Favorites),
		pipeline.WithDebounceInterval(cfg.DebounceInterval),
		pipeline.WithThrottleInterval(cfg.ThrottleInterval),
		pipeline.WithTracer(telemetry.Tracer("lunchfinder/pipeline")),
		pipeline.WithLogger(logger),
	)
	a.closers = append(a.closers, func(context.Context) error { a.Coordinator.Close(); return nil })

	photoOpts := []photo.Option{
		photo.WithMemoryLimits(cfg.PhotoMemoryMaxItems, cfg.PhotoMemoryMaxBytes),
		photo.WithLogger(logger),
	}
	if cfg.PhotoDiskMaxBytes > 0 && strings.TrimSpace(cfg.DataDir) != "" {
		photoOpts = append(photoOpts, photo.WithDisk(afero.NewOsFs(), filepath.Join(cfg.DataDir, "photos"), cfg.PhotoDiskMaxBytes))
	}
	a.Photos = photo.NewLoader(a.Places, photoOpts...)

	a.Maintenance = maintenance.NewScheduler(a.Cache, a.Photos, logger)

	logger.Info("application wired",
		slog.String("cacheBackend", cfg.CacheBackend),
		slog.String("favoritesBackend", cfg.FavoritesBackend),
		slog.String("locationPermission", cfg.LocationPermission),
		slog.Bool("hasDefaultLocation", cfg.HasDefaultLocation()),
		slog.Bool("photoDiskTier", cfg.PhotoDiskMaxBytes > 0 && cfg.DataDir != ""),
	)
	return a, nil
}

// Close releases components in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// SearchIntent fills the configured default radius into nearby intents.
func (a *App) SearchIntent(intent domain.SearchIntent) domain.SearchIntent {
	if intent.RadiusMeters <= 0 {
		intent.RadiusMeters = a.Config.DefaultRadiusMeters
	}
	return intent.Normalized()
}

func (a *App) buildCacheStore(ctx context.Context) (cache.Store, error) {
	switch a.Config.CacheBackend {
	case BackendMemory:
		return cache.NewMemoryStore(), nil
	case BackendRedis:
		client, err := a.connectRedis(ctx)
		if err != nil {
			a.Logger.Warn("redis unavailable, using in-memory result cache", slog.String("error", err.Error()))
			return cache.NewMemoryStore(), nil
		}
		return cache.NewRedisStore(client), nil
	default:
		db, err := a.openBadger()
		if err != nil {
			return nil, err
		}
		return cache.NewBadgerStore(db.Badger()), nil
	}
}

func (a *App) connectRedis(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(a.Config.RedisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.Logger.Info("redis connected", slog.String("addr", opts.Addr))
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	return client, nil
}

func (a *App) buildRecordStores(ctx context.Context) (favorites.Store, savedsearch.Repository, error) {
	switch a.Config.FavoritesBackend {
	case BackendMongo:
		client, err := a.connectMongo(ctx)
		if err != nil {
			return nil, nil, err
		}
		saved := mongorepo.NewSavedSearchRepository(client, a.Config.MongoDB)
		if err := saved.EnsureIndexes(ctx); err != nil {
			a.Logger.Warn("saved search indexes not created", slog.String("error", err.Error()))
		}
		return mongorepo.NewFavoritesRepository(client, a.Config.MongoDB), saved, nil
	case BackendMemory:
		// Saved searches still need a record store; an in-memory badger keeps
		// the repository code path identical.
		db, err := badgerrepo.Open("")
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		return favorites.NewMemoryStore(), badgerrepo.NewSavedSearchRepository(db), nil
	default:
		db, err := a.openBadger()
		if err != nil {
			return nil, nil, err
		}
		return badgerrepo.NewFavoritesStore(db), badgerrepo.NewSavedSearchRepository(db), nil
	}
}

func (a *App) connectMongo(ctx context.Context) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongorepo.Connect(connectCtx, a.Config.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	a.Logger.Info("mongo connected", slog.String("db", a.Config.MongoDB))
	a.closers = append(a.closers, func(ctx context.Context) error { return client.Disconnect(ctx) })
	return client, nil
}

// openBadger opens the shared on-disk store once.
func (a *App) openBadger() (*badgerrepo.DB, error) {
	if a.badger != nil {
		return a.badger, nil
	}
	dir := strings.TrimSpace(a.Config.DataDir)
	if dir != "" {
		dir = filepath.Join(dir, "db")
	}
	db, err := badgerrepo.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	a.badger = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })
	return db, nil
}

func buildLocationProvider(cfg Config) location.Provider {
	if cfg.LocationPermission == "denied" {
		return location.NewDeniedProvider()
	}
	if cfg.HasDefaultLocation() {
		return location.NewStaticProvider(domain.Coordinate{
			Latitude:  *cfg.DefaultLatitude,
			Longitude: *cfg.DefaultLongitude,
		})
	}
	return location.NewPushProvider()
}
