package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const badgerCachePrefix = "lunch:cache:"

// BadgerStore keeps entries on disk in a shared badger database. Entries get
// a native TTL equal to their lifetime, so badger drops them even if the
// cache never reads them again.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (b *BadgerStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	var entry Entry
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerCachePrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("badger cache get: %w", err)
	}
	return entry, true, nil
}

func (b *BadgerStore) Put(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.write(entry, entry.ExpiresAt.Sub(entry.CreatedAt))
}

func (b *BadgerStore) Touch(ctx context.Context, key string, at time.Time) error {
	entry, ok, err := b.Get(ctx, key)
	if err != nil || !ok {
		return err
	}
	entry.LastAccessedAt = at
	remaining := entry.ExpiresAt.Sub(at)
	if remaining <= 0 {
		return b.Delete(ctx, key)
	}
	return b.write(entry, remaining)
}

func (b *BadgerStore) write(entry Entry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("badger cache encode: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(badgerCachePrefix+entry.Key), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("badger cache put: %w", err)
	}
	return nil
}

func (b *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerCachePrefix + key))
	})
	if err != nil {
		return fmt.Errorf("badger cache delete: %w", err)
	}
	return nil
}

func (b *BadgerStore) List(ctx context.Context) ([]EntryInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var infos []EntryInfo
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerCachePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			infos = append(infos, entry.Info())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger cache list: %w", err)
	}
	return infos, nil
}

func (b *BadgerStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.db.DropPrefix([]byte(badgerCachePrefix)); err != nil {
		return fmt.Errorf("badger cache clear: %w", err)
	}
	return nil
}
