package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "lunchfinder/discovery/internal/api/http"
	"lunchfinder/discovery/internal/app"
	"lunchfinder/discovery/internal/metrics"
	"lunchfinder/discovery/internal/telemetry"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("configuration invalid", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "lunchfinder-discovery")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "lunchfinder-discovery"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("placesBaseURL", cfg.PlacesBaseURL),
		slog.Bool("hasPlacesKey", strings.TrimSpace(cfg.PlacesAPIKey) != ""),
		slog.Duration("placesTimeout", cfg.PlacesTimeout),
		slog.Int("placesMaxRetries", cfg.PlacesMaxRetries),
		slog.String("cacheBackend", cfg.CacheBackend),
		slog.Duration("cacheTTL", cfg.CacheTTL),
		slog.Int("cacheMaxEntries", cfg.CacheMaxEntries),
		slog.String("favoritesBackend", cfg.FavoritesBackend),
		slog.String("dataDir", cfg.DataDir),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := components.Close(closeCtx); err != nil {
			logger.Warn("component shutdown error", slog.String("error", err.Error()))
		}
	}()

	if err := components.Maintenance.Start(cfg.MaintenanceSchedule); err != nil {
		logger.Error("maintenance schedule invalid", slog.String("schedule", cfg.MaintenanceSchedule), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer components.Maintenance.Stop()

	api := apihttp.NewServer(components.Coordinator,
		apihttp.WithLogger(logger),
		apihttp.WithPlaces(components.Places),
		apihttp.WithPhotos(components.Photos),
		apihttp.WithFavorites(components.Favorites),
		apihttp.WithLocation(components.Location),
		apihttp.WithSavedSearches(components.SavedSearches),
		apihttp.WithDefaultRadius(cfg.DefaultRadiusMeters),
	)
	defer api.Close()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// SSE and WebSocket connections outlive any sane write timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("lunchfinder discovery service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("debounce", cfg.DebounceInterval),
		slog.Duration("throttle", cfg.ThrottleInterval),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	components.Coordinator.CancelAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("lunchfinder discovery service stopped")
}
