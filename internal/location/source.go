package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"lunchfinder/discovery/internal/domain"
	"lunchfinder/discovery/internal/stream"
)

var (
	ErrPermissionDenied  = domain.ErrLocationPermissionDenied
	ErrUnavailable       = domain.ErrLocationUnavailable
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

const defaultStreamBuffer = 16

// Provider is the platform location service.
type Provider interface {
	CurrentLocation(ctx context.Context) (domain.Coordinate, error)
}

// Pusher is implemented by providers that are fed by the device itself.
type Pusher interface {
	Push(domain.Coordinate)
}

// Source owns the most recent device location. It emits every update it
// receives; rate limiting is up to consumers.
type Source struct {
	provider Provider
	stream   *stream.Broadcaster[domain.Coordinate]
	logger   *slog.Logger
}

type Option func(*Source)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStreamBuffer sets how many updates a slow subscriber may lag behind
// before it starts losing the oldest ones.
func WithStreamBuffer(size int) Option {
	return func(s *Source) {
		if size > 0 {
			s.stream = stream.NewBroadcaster[domain.Coordinate](size)
		}
	}
}

func NewSource(provider Provider, opts ...Option) *Source {
	s := &Source{
		provider: provider,
		stream:   stream.NewBroadcaster[domain.Coordinate](defaultStreamBuffer),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveCurrent asks the provider for a fresh fix. It blocks until the
// provider answers or ctx ends. Failures are ErrPermissionDenied or
// ErrUnavailable (or the context error).
func (s *Source) ResolveCurrent(ctx context.Context) (domain.Coordinate, error) {
	if s.provider == nil {
		return domain.Coordinate{}, fmt.Errorf("%w: no location provider", ErrUnavailable)
	}
	coord, err := s.provider.CurrentLocation(ctx)
	if err != nil {
		switch {
		case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrUnavailable):
		case ctx.Err() != nil:
			return domain.Coordinate{}, ctx.Err()
		default:
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		s.logger.Warn("location resolve failed", slog.String("error", err.Error()))
		return domain.Coordinate{}, err
	}
	if !coord.Valid() {
		return domain.Coordinate{}, fmt.Errorf("%w: provider returned %s", ErrUnavailable, coord)
	}
	s.stream.Publish(coord)
	return coord, nil
}

// Update records a coordinate reported by the device.
func (s *Source) Update(coord domain.Coordinate) error {
	if !coord.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidCoordinate, coord)
	}
	if pusher, ok := s.provider.(Pusher); ok {
		pusher.Push(coord)
	}
	s.stream.Publish(coord)
	return nil
}

func (s *Source) Latest() (domain.Coordinate, bool) {
	return s.stream.Latest()
}

// Subscribe streams every update, starting with the latest known one.
func (s *Source) Subscribe(ctx context.Context) <-chan domain.Coordinate {
	return s.stream.Subscribe(ctx)
}

func (s *Source) Close() {
	s.stream.Close()
}
