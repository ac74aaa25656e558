// Package savedsearch manages named search presets.
package savedsearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"lunchfinder/discovery/internal/domain"
)

var ErrInvalid = errors.New("invalid saved search")

type Repository interface {
	Create(ctx context.Context, s domain.SavedSearch) error
	Get(ctx context.Context, id string) (domain.SavedSearch, error)
	List(ctx context.Context) ([]domain.SavedSearch, error)
	Update(ctx context.Context, s domain.SavedSearch) error
	Delete(ctx context.Context, id string) error
}

type Service struct {
	repo     Repository
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create assigns a fresh id and timestamps and stores in.
func (s *Service) Create(ctx context.Context, in domain.SavedSearch) (domain.SavedSearch, error) {
	item := normalize(in)
	if err := s.check(item); err != nil {
		return domain.SavedSearch{}, err
	}
	now := s.now()
	item.ID = s.newID()
	item.CreatedAt = now
	item.UpdatedAt = now
	if err := s.repo.Create(ctx, item); err != nil {
		return domain.SavedSearch{}, err
	}
	s.logger.Info("saved search created", slog.String("id", item.ID), slog.String("name", item.Name))
	return item, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.SavedSearch, error) {
	id, err := parseID(id)
	if err != nil {
		return domain.SavedSearch{}, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]domain.SavedSearch, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.SavedSearch{}
	}
	return items, nil
}

// Update replaces the stored fields of id, keeping its creation time.
func (s *Service) Update(ctx context.Context, id string, in domain.SavedSearch) (domain.SavedSearch, error) {
	id, err := parseID(id)
	if err != nil {
		return domain.SavedSearch{}, err
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.SavedSearch{}, err
	}
	item := normalize(in)
	if err := s.check(item); err != nil {
		return domain.SavedSearch{}, err
	}
	item.ID = existing.ID
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, item); err != nil {
		return domain.SavedSearch{}, err
	}
	return item, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	id, err := parseID(id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("saved search deleted", slog.String("id", id))
	return nil
}

func (s *Service) check(item domain.SavedSearch) error {
	if err := s.validate.Struct(item); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := item.Intent().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func normalize(in domain.SavedSearch) domain.SavedSearch {
	in.Name = strings.TrimSpace(in.Name)
	in.Query = strings.TrimSpace(in.Query)
	if in.Kind == "" {
		if in.Query != "" {
			in.Kind = domain.SearchKindText
		} else {
			in.Kind = domain.SearchKindNearby
		}
	}
	in.Filters = in.Filters.Normalized()
	if in.SortBy == "" {
		in.SortBy = domain.SortByRelevance
	}
	if in.Location != nil {
		loc := *in.Location
		in.Location = &loc
	}
	return in
}

func parseID(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: malformed id", domain.ErrNotFound)
	}
	return id.String(), nil
}
