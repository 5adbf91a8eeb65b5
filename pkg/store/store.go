// Package store is the durable cache behind the offline-first engine:
// a badger key-value store holding JSON snapshots of contacts,
// conversations, profiles and avatar images, keyed by pubkey. It is the
// single source of truth across restarts; the in-memory copies the
// application holds are rehydrated from here.
package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	log2 "github.com/nostrmail/nostrmail/pkg/log"
)

var log = log2.GetStd()

var (
	// ErrNotFound reports a key with no stored value.
	ErrNotFound = errors.New("not found")
	// ErrCorrupt reports a stored entry that failed to decode. The
	// entry is dropped; sibling entries are unaffected.
	ErrCorrupt = errors.New("corrupt cache entry")
)

// Store wraps a badger database.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the store at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store, used by tests.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the raw value for key, or ErrNotFound.
func (s *Store) Get(key string) (val []byte, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return
}

// Set stores val under key.
func (s *Store) Set(key string, val []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Keys lists all keys with the given prefix.
func (s *Store) Keys(prefix string) (keys []string, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return
}
