// Package noopstore provides a metadata store that keeps nothing. A backend
// using it mirrors files only: no tags, no expiry, no garbage collection.
package noopstore

import (
	"context"
	"time"

	"github.com/staticfilecache/staticcache/internal/metastore"
)

// Compile-time check that Store implements metastore.Store.
var _ metastore.Store = (*Store)(nil)

// Store discards all metadata.
type Store struct{}

// New returns a no-op store.
func New() *Store {
	return &Store{}
}

func (s *Store) Put(ctx context.Context, r metastore.Record) error { return nil }

func (s *Store) Get(ctx context.Context, identifier string) (metastore.Record, error) {
	return metastore.Record{}, metastore.ErrNotFound
}

func (s *Store) Remove(ctx context.Context, identifier string) (bool, error) { return false, nil }

func (s *Store) RemoveAllExpired(ctx context.Context, now time.Time, fn metastore.ExpiredFunc) ([]string, error) {
	return nil, nil
}

func (s *Store) RemoveAll(ctx context.Context) error { return nil }

// FindByTag returns metastore.ErrUnsupported: no tags are kept.
func (s *Store) FindByTag(ctx context.Context, tag string) ([]string, error) {
	return nil, metastore.ErrUnsupported
}

func (s *Store) Close() error { return nil }
