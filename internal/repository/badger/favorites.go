package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timshannon/badgerhold/v4"
)

const favoritesRecordKey = "favorites"

type favoritesRecord struct {
	IDs       []string
	UpdatedAt time.Time
}

// FavoritesStore keeps the whole favorite id set in one record.
type FavoritesStore struct {
	db *DB
}

func NewFavoritesStore(db *DB) *FavoritesStore {
	return &FavoritesStore{db: db}
}

func (s *FavoritesStore) LoadAll(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var record favoritesRecord
	if err := s.db.Store().Get(favoritesRecordKey, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load favorites: %w", err)
	}
	return record.IDs, nil
}

func (s *FavoritesStore) Persist(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record := favoritesRecord{
		IDs:       append([]string(nil), ids...),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.db.Store().Upsert(favoritesRecordKey, record); err != nil {
		return fmt.Errorf("persist favorites: %w", err)
	}
	return nil
}
