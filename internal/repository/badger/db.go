package badger

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

// DB is the local embedded database. Favorites and saved searches live in
// badgerhold records; the result cache shares the raw badger handle under
// its own key prefix.
type DB struct {
	store *badgerhold.Store
}

// Open opens (or creates) the database in dir. An empty dir opens an
// in-memory database.
func Open(dir string) (*DB, error) {
	options := badgerhold.DefaultOptions
	options.Logger = nil
	if dir == "" {
		options.InMemory = true
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		options.Dir = dir
		options.ValueDir = dir
	}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &DB{store: store}, nil
}

func (d *DB) Store() *badgerhold.Store {
	return d.store
}

func (d *DB) Badger() *badger.DB {
	return d.store.Badger()
}

func (d *DB) Close() error {
	if d == nil || d.store == nil {
		return nil
	}
	return d.store.Close()
}
