// Package s3store implements a metadata store on AWS S3 (or any
// S3-compatible service). Each record is one JSON object, so several
// front-end hosts can share one cache's metadata.
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/multierr"

	"github.com/staticfilecache/staticcache/internal/metastore"
)

// Compile-time check that Store implements metastore.Store.
var _ metastore.Store = (*Store)(nil)

// api is the subset of *s3.Client used by Store.
type api interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Store is an S3 metadata store.
type Store struct {
	client   api
	bucket   string
	prefix   string
	region   string
	endpoint string
}

// New creates a new S3 store.
// The bucket must already exist.
func New(ctx context.Context, bucketName string, opts ...Option) (*Store, error) {
	s := &Store{bucket: bucketName}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	var loadOpts []func(*config.LoadOptions) error
	if s.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(s.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.endpoint != "" {
			o.BaseEndpoint = aws.String(s.endpoint)
			o.UsePathStyle = true
		}
	})
	return s, nil
}

// Option configures a Store.
type Option func(*Store) error

// WithPrefix sets a key prefix for all operations.
func WithPrefix(prefix string) Option {
	return func(s *Store) error {
		s.prefix = strings.TrimSuffix(prefix, "/")
		if s.prefix != "" {
			s.prefix += "/"
		}
		return nil
	}
}

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(s *Store) error {
		s.region = region
		return nil
	}
}

// WithEndpoint sets a custom endpoint (for S3-compatible services like MinIO).
// Requests use path-style addressing.
func WithEndpoint(endpoint string) Option {
	return func(s *Store) error {
		s.endpoint = endpoint
		return nil
	}
}

// Put writes r as a JSON object.
func (s *Store) Put(ctx context.Context, r metastore.Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.recordKey(r.Identifier)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// Get reads the record for identifier.
func (s *Store) Get(ctx context.Context, identifier string) (metastore.Record, error) {
	return s.readKey(ctx, s.recordKey(identifier))
}

// Remove deletes the record for identifier.
func (s *Store) Remove(ctx context.Context, identifier string) (bool, error) {
	key := s.recordKey(identifier)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("checking record: %w", err)
	}

	if err := s.deleteKey(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveAllExpired scans all records and removes the expired ones.
// Each record is deleted only if its ETag still matches the one read
// during the scan, so a record refreshed by a concurrent Put survives.
func (s *Store) RemoveAllExpired(ctx context.Context, now time.Time, fn metastore.ExpiredFunc) ([]string, error) {
	var (
		removed []string
		errs    error
	)
	err := s.scan(ctx, func(key, etag string, r metastore.Record) {
		if !r.Expired(now) {
			return
		}
		if fn != nil {
			if err := fn(r); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("expiring %q: %w", r.Identifier, err))
				return
			}
		}
		deleted, err := s.deleteIfMatch(ctx, key, etag)
		if err != nil {
			errs = multierr.Append(errs, err)
			return
		}
		if deleted {
			removed = append(removed, r.Identifier)
		}
	})
	return removed, multierr.Append(errs, err)
}

// RemoveAll deletes every record under the prefix, one list page at a time.
func (s *Store) RemoveAll(ctx context.Context) error {
	var errs error
	err := s.listPages(ctx, func(keys []string) error {
		if len(keys) == 0 {
			return nil
		}
		objects := make([]types.ObjectIdentifier, len(keys))
		for i, k := range keys {
			objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("deleting records: %w", err)
		}
		for _, e := range out.Errors {
			errs = multierr.Append(errs, fmt.Errorf("deleting %s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
		return nil
	})
	return multierr.Append(errs, err)
}

// FindByTag scans all records. S3 has no secondary index, so this is
// linear in the number of cached entries. Records that cannot be read are
// reported in the error; the identifiers found are returned regardless.
func (s *Store) FindByTag(ctx context.Context, tag string) ([]string, error) {
	var ids []string
	err := s.scan(ctx, func(_, _ string, r metastore.Record) {
		if r.HasTag(tag) {
			ids = append(ids, r.Identifier)
		}
	})
	return ids, err
}

// Close releases resources.
func (s *Store) Close() error {
	// S3 client doesn't need explicit closing.
	return nil
}

// recordsPrefix returns the key prefix under which records live.
func (s *Store) recordsPrefix() string {
	return s.prefix + "records/"
}

// recordKey returns the full object key for identifier.
func (s *Store) recordKey(identifier string) string {
	return s.recordsPrefix() + metastore.ObjectName(identifier)
}

func (s *Store) readKey(ctx context.Context, key string) (metastore.Record, error) {
	r, _, err := s.readVersion(ctx, key)
	return r, err
}

// readVersion reads the record at key along with its ETag.
func (s *Store) readVersion(ctx context.Context, key string) (metastore.Record, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return metastore.Record{}, "", metastore.ErrNotFound
		}
		return metastore.Record{}, "", fmt.Errorf("reading record %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return metastore.Record{}, "", fmt.Errorf("reading record body %s: %w", key, err)
	}

	var r metastore.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return metastore.Record{}, "", fmt.Errorf("decoding record %s: %w", key, err)
	}
	return r, aws.ToString(out.ETag), nil
}

func (s *Store) deleteKey(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

// deleteIfMatch deletes key if its ETag is still etag. It reports false
// without error when the object changed or disappeared since it was read.
func (s *Store) deleteIfMatch(ctx context.Context, key, etag string) (bool, error) {
	in := &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if etag != "" {
		in.IfMatch = aws.String(etag)
	}
	_, err := s.client.DeleteObject(ctx, in)
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) {
			switch ae.ErrorCode() {
			case "PreconditionFailed", "NoSuchKey", "NotFound":
				return false, nil
			}
		}
		return false, fmt.Errorf("deleting record %s: %w", key, err)
	}
	return true, nil
}

// listPages calls fn with the keys of each list page.
func (s *Store) listPages(ctx context.Context, fn func(keys []string) error) error {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.recordsPrefix()),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing records: %w", err)
		}
		keys := make([]string, 0, len(page.Contents))
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if err := fn(keys); err != nil {
			return err
		}
	}
	return nil
}

// scan reads every record. Records deleted between list and read are
// skipped; records that cannot be read or decoded are reported in the
// returned error without stopping the scan. Only a listing failure ends it
// early.
func (s *Store) scan(ctx context.Context, fn func(key, etag string, r metastore.Record)) error {
	var errs error
	err := s.listPages(ctx, func(keys []string) error {
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, etag, err := s.readVersion(ctx, key)
			if errors.Is(err, metastore.ErrNotFound) {
				continue
			}
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			fn(key, etag, r)
		}
		return nil
	})
	return multierr.Append(errs, err)
}
