// Package metastore defines the contract of the store that holds tags and
// expiry for cache entries.
//
// The metadata store is authoritative for tag membership and expiry only.
// Whether an entry is servable is decided by the filesystem, so a record
// without a file, or a file without a record, is a normal transient state.
package metastore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for an identifier.
	ErrNotFound = errors.New("metastore: record not found")

	// ErrUnsupported is returned by stores that keep no tag index.
	ErrUnsupported = errors.New("metastore: operation not supported")
)

// Record is the metadata kept for one cache entry.
type Record struct {
	Identifier string   `json:"identifier"`
	Tags       []string `json:"tags,omitempty"`
	// ExpiresAt is the zero time for entries that never expire.
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	// Content is only set for entries that bypass the file mirror.
	Content []byte `json:"content,omitempty"`
}

// Expired reports whether r has expired at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// HasTag reports whether r carries tag.
func (r Record) HasTag(tag string) bool {
	return slices.Contains(r.Tags, tag)
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.Tags = slices.Clone(r.Tags)
	if r.Content != nil {
		r.Content = slices.Clone(r.Content)
	}
	return r
}

// ExpiredFunc is called for each expired record before it is removed.
// Returning an error keeps the record so a later sweep retries it.
type ExpiredFunc func(Record) error

// Store defines the interface for metadata backends.
type Store interface {
	// Put creates or replaces the record for r.Identifier.
	Put(ctx context.Context, r Record) error

	// Get returns the record for identifier, or ErrNotFound.
	Get(ctx context.Context, identifier string) (Record, error)

	// Remove deletes the record for identifier and reports whether one existed.
	Remove(ctx context.Context, identifier string) (bool, error)

	// RemoveAllExpired removes every record expired at now and returns the
	// removed identifiers. fn, when non-nil, runs before each removal; a
	// record whose fn fails is kept and the error is included in the result.
	// Processing continues past failures, including records that cannot
	// be read. A record refreshed by a concurrent Put after it was found
	// expired is kept.
	RemoveAllExpired(ctx context.Context, now time.Time, fn ExpiredFunc) ([]string, error)

	// RemoveAll deletes every record.
	RemoveAll(ctx context.Context) error

	// FindByTag returns the identifiers of records carrying tag, or
	// ErrUnsupported. Stores that scan may return the identifiers found
	// together with an error for records they could not read.
	FindByTag(ctx context.Context, tag string) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// ObjectName returns a stable, filesystem- and URL-safe name for an
// identifier. Object-storage backends key records by it.
func ObjectName(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:]) + ".json"
}
