// Package memstore provides an in-memory metadata store with a tag index.
// It is used in tests and by single-process deployments that accept losing
// metadata on restart.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/staticfilecache/staticcache/internal/metastore"
)

// Compile-time check that Store implements metastore.Store.
var _ metastore.Store = (*Store)(nil)

// Store is an in-memory metadata store.
type Store struct {
	mu      sync.RWMutex
	records map[string]metastore.Record
	tags    map[string]map[string]struct{}
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		records: make(map[string]metastore.Record),
		tags:    make(map[string]map[string]struct{}),
	}
}

// Put stores a copy of r, replacing any previous record and its tags.
func (s *Store) Put(ctx context.Context, r metastore.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(r.Identifier)
	r = r.Clone()
	s.records[r.Identifier] = r
	for _, tag := range r.Tags {
		ids, ok := s.tags[tag]
		if !ok {
			ids = make(map[string]struct{})
			s.tags[tag] = ids
		}
		ids[r.Identifier] = struct{}{}
	}
	return nil
}

// Get returns a copy of the record for identifier.
func (s *Store) Get(ctx context.Context, identifier string) (metastore.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[identifier]
	if !ok {
		return metastore.Record{}, metastore.ErrNotFound
	}
	return r.Clone(), nil
}

// Remove deletes the record for identifier.
func (s *Store) Remove(ctx context.Context, identifier string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(identifier), nil
}

// RemoveAllExpired removes records expired at now. fn runs without the
// store lock held, so it may call back into the store.
func (s *Store) RemoveAllExpired(ctx context.Context, now time.Time, fn metastore.ExpiredFunc) ([]string, error) {
	s.mu.RLock()
	var expired []metastore.Record
	for _, r := range s.records {
		if r.Expired(now) {
			expired = append(expired, r.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(expired, func(a, b metastore.Record) int {
		return a.ExpiresAt.Compare(b.ExpiresAt)
	})

	var (
		removed []string
		errs    error
	)
	for _, r := range expired {
		if err := ctx.Err(); err != nil {
			return removed, multierr.Append(errs, err)
		}
		if fn != nil {
			if err := fn(r); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("expiring %q: %w", r.Identifier, err))
				continue
			}
		}

		s.mu.Lock()
		// A concurrent Put may have refreshed the record meanwhile.
		if cur, ok := s.records[r.Identifier]; ok && cur.Expired(now) {
			s.removeLocked(r.Identifier)
			removed = append(removed, r.Identifier)
		}
		s.mu.Unlock()
	}
	return removed, errs
}

// RemoveAll deletes every record.
func (s *Store) RemoveAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]metastore.Record)
	s.tags = make(map[string]map[string]struct{})
	return nil
}

// FindByTag returns the sorted identifiers of records carrying tag.
func (s *Store) FindByTag(ctx context.Context, tag string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.tags[tag]))
	for id := range s.tags[tag] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) removeLocked(identifier string) bool {
	r, ok := s.records[identifier]
	if !ok {
		return false
	}
	delete(s.records, identifier)
	for _, tag := range r.Tags {
		if ids, ok := s.tags[tag]; ok {
			delete(ids, identifier)
			if len(ids) == 0 {
				delete(s.tags, tag)
			}
		}
	}
	return true
}
