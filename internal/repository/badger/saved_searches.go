package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/timshannon/badgerhold/v4"

	"lunchfinder/discovery/internal/domain"
)

type SavedSearchRepository struct {
	db *DB
}

func NewSavedSearchRepository(db *DB) *SavedSearchRepository {
	return &SavedSearchRepository{db: db}
}

func (r *SavedSearchRepository) Create(ctx context.Context, s domain.SavedSearch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.db.Store().Insert(s.ID, s); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert saved search: %w", err)
	}
	return nil
}

func (r *SavedSearchRepository) Get(ctx context.Context, id string) (domain.SavedSearch, error) {
	if err := ctx.Err(); err != nil {
		return domain.SavedSearch{}, err
	}
	var s domain.SavedSearch
	if err := r.db.Store().Get(id, &s); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return domain.SavedSearch{}, domain.ErrNotFound
		}
		return domain.SavedSearch{}, fmt.Errorf("get saved search: %w", err)
	}
	return s, nil
}

// List returns every saved search, newest first.
func (r *SavedSearchRepository) List(ctx context.Context) ([]domain.SavedSearch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var items []domain.SavedSearch
	if err := r.db.Store().Find(&items, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, fmt.Errorf("list saved searches: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (r *SavedSearchRepository) Update(ctx context.Context, s domain.SavedSearch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.db.Store().Update(s.ID, s); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("update saved search: %w", err)
	}
	return nil
}

func (r *SavedSearchRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.db.Store().Delete(id, domain.SavedSearch{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("delete saved search: %w", err)
	}
	return nil
}
