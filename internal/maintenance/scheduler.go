// Package maintenance runs periodic housekeeping for the result cache and the
// photo disk tier.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule = "@every 15m"
	runTimeout      = 5 * time.Minute
)

type CachePurger interface {
	Purge(ctx context.Context) (int, error)
}

type PhotoTrimmer interface {
	Trim(ctx context.Context) (int, int64, error)
}

type Report struct {
	CacheEntriesPurged int
	PhotosRemoved      int
	PhotoBytesFreed    int64
	Duration           time.Duration
}

type Scheduler struct {
	cache  CachePurger
	photos PhotoTrimmer
	cron   *cron.Cron
	logger *slog.Logger

	runMu sync.Mutex
}

func NewScheduler(cache CachePurger, photos PhotoTrimmer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cache:  cache,
		photos: photos,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start registers the housekeeping job on schedule (standard cron syntax or
// descriptors such as "@every 15m") and starts the cron loop.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := s.RunNow(ctx); err != nil {
			s.logger.Error("maintenance run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("maintenance scheduler started", slog.String("schedule", schedule))
	return nil
}

// Stop stops scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("maintenance scheduler stopped")
}

// RunNow performs one housekeeping pass. Concurrent calls are serialized.
func (s *Scheduler) RunNow(ctx context.Context) (Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	var report Report
	var errs []error

	if s.cache != nil {
		purged, err := s.cache.Purge(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		report.CacheEntriesPurged = purged
	}
	if s.photos != nil {
		removed, freed, err := s.photos.Trim(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		report.PhotosRemoved = removed
		report.PhotoBytesFreed = freed
	}
	report.Duration = time.Since(start)

	s.logger.Info("maintenance run completed",
		slog.Int("cachePurged", report.CacheEntriesPurged),
		slog.Int("photosRemoved", report.PhotosRemoved),
		slog.Int64("photoBytesFreed", report.PhotoBytesFreed),
		slog.Int64("durationMs", report.Duration.Milliseconds()),
	)
	return report, errors.Join(errs...)
}
