// Package gcsstore implements a metadata store on Google Cloud Storage.
// Records are JSON objects keyed by a hash of the identifier.
package gcsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/multierr"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/staticfilecache/staticcache/internal/metastore"
)

// Compile-time check that Store implements metastore.Store.
var _ metastore.Store = (*Store)(nil)

// errGenerationMismatch is returned by api.Delete when the object changed
// since the given generation was read.
var errGenerationMismatch = errors.New("gcsstore: generation mismatch")

// api is the subset of bucket operations used by Store. Missing objects
// are reported as storage.ErrObjectNotExist.
type api interface {
	Write(ctx context.Context, key string, data []byte) error
	// Read returns the object data and its generation.
	Read(ctx context.Context, key string) ([]byte, int64, error)
	// Delete removes key. A non-zero generation makes the delete
	// conditional on it; a mismatch returns errGenerationMismatch.
	Delete(ctx context.Context, key string, generation int64) error
	List(ctx context.Context, prefix string, fn func(key string) error) error
}

// Store is a Google Cloud Storage metadata store.
type Store struct {
	client *storage.Client
	bucket api
	prefix string
}

// New creates a new GCS store.
// The bucket must already exist.
func New(ctx context.Context, bucketName string, opts ...Option) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	s := &Store{
		client: client,
		bucket: &bucketHandle{h: client.Bucket(bucketName)},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets a key prefix for all operations.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = strings.TrimSuffix(prefix, "/")
		if s.prefix != "" {
			s.prefix += "/"
		}
	}
}

// Put writes r as a JSON object.
func (s *Store) Put(ctx context.Context, r metastore.Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	if err := s.bucket.Write(ctx, s.recordKey(r.Identifier), body); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// Get reads the record for identifier.
func (s *Store) Get(ctx context.Context, identifier string) (metastore.Record, error) {
	r, _, err := s.readKey(ctx, s.recordKey(identifier))
	return r, err
}

// Remove deletes the record for identifier.
func (s *Store) Remove(ctx context.Context, identifier string) (bool, error) {
	err := s.bucket.Delete(ctx, s.recordKey(identifier), 0)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("deleting record: %w", err)
	}
	return true, nil
}

// RemoveAllExpired scans all records and removes the expired ones.
// Each record is deleted only if its generation is still the one read
// during the scan, so a record refreshed by a concurrent Put survives.
func (s *Store) RemoveAllExpired(ctx context.Context, now time.Time, fn metastore.ExpiredFunc) ([]string, error) {
	var (
		removed []string
		errs    error
	)
	err := s.scan(ctx, func(key string, generation int64, r metastore.Record) {
		if !r.Expired(now) {
			return
		}
		if fn != nil {
			if err := fn(r); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("expiring %q: %w", r.Identifier, err))
				return
			}
		}
		err := s.bucket.Delete(ctx, key, generation)
		switch {
		case err == nil:
			removed = append(removed, r.Identifier)
		case errors.Is(err, errGenerationMismatch), errors.Is(err, storage.ErrObjectNotExist):
		default:
			errs = multierr.Append(errs, fmt.Errorf("deleting record %s: %w", key, err))
		}
	})
	return removed, multierr.Append(errs, err)
}

// RemoveAll deletes every record under the prefix.
func (s *Store) RemoveAll(ctx context.Context) error {
	var errs error
	err := s.bucket.List(ctx, s.recordsPrefix(), func(key string) error {
		err := s.bucket.Delete(ctx, key, 0)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			errs = multierr.Append(errs, fmt.Errorf("deleting %s: %w", key, err))
		}
		return nil
	})
	return multierr.Append(errs, err)
}

// FindByTag scans all records for tag. Records that cannot be read are
// reported in the error; the identifiers found are returned regardless.
func (s *Store) FindByTag(ctx context.Context, tag string) ([]string, error) {
	var ids []string
	err := s.scan(ctx, func(_ string, _ int64, r metastore.Record) {
		if r.HasTag(tag) {
			ids = append(ids, r.Identifier)
		}
	})
	return ids, err
}

// Close releases resources.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// recordsPrefix returns the object prefix under which records live.
func (s *Store) recordsPrefix() string {
	return s.prefix + "records/"
}

// recordKey returns the full object name for identifier.
func (s *Store) recordKey(identifier string) string {
	return s.recordsPrefix() + metastore.ObjectName(identifier)
}

func (s *Store) readKey(ctx context.Context, key string) (metastore.Record, int64, error) {
	data, generation, err := s.bucket.Read(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return metastore.Record{}, 0, metastore.ErrNotFound
		}
		return metastore.Record{}, 0, fmt.Errorf("reading record %s: %w", key, err)
	}

	var r metastore.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return metastore.Record{}, 0, fmt.Errorf("decoding record %s: %w", key, err)
	}
	return r, generation, nil
}

// scan reads every record. Records deleted between list and read are
// skipped; records that cannot be read or decoded are reported in the
// returned error without stopping the scan. Only a listing failure ends it
// early.
func (s *Store) scan(ctx context.Context, fn func(key string, generation int64, r metastore.Record)) error {
	var errs error
	err := s.bucket.List(ctx, s.recordsPrefix(), func(key string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, generation, err := s.readKey(ctx, key)
		if errors.Is(err, metastore.ErrNotFound) {
			return nil
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			return nil
		}
		fn(key, generation, r)
		return nil
	})
	return multierr.Append(errs, err)
}

// bucketHandle implements api on a storage.BucketHandle.
type bucketHandle struct {
	h *storage.BucketHandle
}

func (b *bucketHandle) Write(ctx context.Context, key string, data []byte) error {
	w := b.h.Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (b *bucketHandle) Read(ctx context.Context, key string) ([]byte, int64, error) {
	r, err := b.h.Object(key).NewReader(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	return data, r.Attrs.Generation, nil
}

func (b *bucketHandle) Delete(ctx context.Context, key string, generation int64) error {
	obj := b.h.Object(key)
	if generation != 0 {
		obj = obj.If(storage.Conditions{GenerationMatch: generation})
	}
	err := obj.Delete(ctx)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return errGenerationMismatch
	}
	return err
}

func (b *bucketHandle) List(ctx context.Context, prefix string, fn func(key string) error) error {
	it := b.h.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("listing records: %w", err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}
