package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Entry is a cached value with the time it was written. Entries are
// created on first successful fetch, read on every load and overwritten
// on successful refresh (stale-while-revalidate); a malformed entry is
// dropped, never merged.
type Entry[T any] struct {
	Value     T         `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Stale reports whether the entry is older than maxAge.
func (e Entry[T]) Stale(maxAge time.Duration) bool {
	return time.Since(e.Timestamp) > maxAge
}

// GetEntry loads and decodes the entry under key. A value that fails to
// decode is deleted and reported as ErrCorrupt so one bad record cannot
// poison its siblings.
func GetEntry[T any](s *Store, key string) (e Entry[T], err error) {
	raw, err := s.Get(key)
	if err != nil {
		return e, err
	}
	if err = json.Unmarshal(raw, &e); err != nil {
		log.W.F("dropping corrupt cache entry %s: %v", key, err)
		if dErr := s.Delete(key); dErr != nil {
			log.Fail(dErr)
		}
		return e, fmt.Errorf("%w: %s: %s", ErrCorrupt, key, err)
	}
	return e, nil
}

// PutEntry encodes and stores value under key, stamped now.
func PutEntry[T any](s *Store, key string, value T) error {
	raw, err := json.Marshal(Entry[T]{Value: value, Timestamp: time.Now()})
	if err != nil {
		return err
	}
	return s.Set(key, raw)
}

// Refresh implements the cache-then-network pattern shared by contacts,
// conversations and profiles: the cached value (if any) is handed to
// serve immediately, then fetch is run and, on success, its result is
// stored and handed to serve again. A fetch failure leaves the cached
// state in place and is returned for logging, not escalation.
func Refresh[T any](s *Store, key string, fetch func() (T, error), serve func(T, bool)) error {
	if e, err := GetEntry[T](s, key); err == nil {
		serve(e.Value, true)
	} else if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrCorrupt) {
		return err
	}
	fresh, err := fetch()
	if err != nil {
		return err
	}
	if err = PutEntry(s, key, fresh); err != nil {
		return err
	}
	serve(fresh, false)
	return nil
}
