// Package staticcache provides a page cache backend that mirrors every
// entry to disk so a front-end server can answer requests without calling
// the application.
//
// Each entry lives twice: as a metadata record (tags, expiry) in a
// MetadataStore, and as a plain file plus an optional gzip sibling under
// the cache root, at <root>/<host>/<path>[/index.html]. The filesystem is
// authoritative for whether an entry exists; the metadata store is
// authoritative for tags and expiry.
//
// Example usage:
//
//	backend, err := staticcache.New(staticcache.Config{
//	    CacheRoot:         "/var/cache/pages",
//	    EnableCompression: true,
//	    AllowedExtensions: staticcache.DefaultExtensions,
//	}, staticcache.WithMetadataStore(memstore.New()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	err = backend.Set(ctx, "https://example.com/", page, []string{"pageId_1"}, staticcache.UseDefaultLifetime)
package staticcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/staticfilecache/staticcache/internal/compress"
	"github.com/staticfilecache/staticcache/internal/filestore"
	"github.com/staticfilecache/staticcache/internal/metastore"
	"github.com/staticfilecache/staticcache/internal/pathderive"
	"github.com/staticfilecache/staticcache/internal/stats"
	"github.com/staticfilecache/staticcache/internal/sweeplock"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrNotFound indicates no servable entry exists for the identifier.
	ErrNotFound = errors.New("staticcache: entry not found")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("staticcache: backend closed")

	// ErrIO wraps filesystem failures.
	ErrIO = errors.New("staticcache: i/o failure")

	// ErrMetadataStore wraps failures reported by the metadata store.
	ErrMetadataStore = errors.New("staticcache: metadata store failure")

	// ErrInvalidConfig indicates a configuration rejected by Config.Validate.
	ErrInvalidConfig = errors.New("staticcache: invalid config")

	// ErrInvalidIdentifier indicates an identifier that is not a URL with a host.
	ErrInvalidIdentifier = pathderive.ErrInvalidIdentifier

	// ErrPathTraversal indicates an identifier whose path would leave the cache root.
	ErrPathTraversal = pathderive.ErrPathTraversal

	// ErrUnsupported is returned by tag operations when the metadata store
	// keeps no tag index.
	ErrUnsupported = metastore.ErrUnsupported
)

// ReservedTag marks bookkeeping entries. They are kept in the metadata
// store only, with their content, and never mirrored to disk. Read them
// back with Lookup and drop them with Remove. Their identifiers need not
// be URLs.
const ReservedTag = "_staticcache_internal"

// UseDefaultLifetime selects Config.DefaultLifetime in Set. A lifetime of
// zero means the entry never expires.
const UseDefaultLifetime time.Duration = -1

// Record is the metadata kept for one entry.
type Record = metastore.Record

// MetadataStore is the contract of the store holding tags and expiry.
type MetadataStore = metastore.Store

// Backend stores cache entries as metadata records and files.
// A Backend is safe for concurrent use by multiple goroutines. Concurrent
// writers of the same identifier are resolved independently by the
// filesystem and the metadata store (last writer wins in each).
type Backend struct {
	cfg         Config
	root        string
	paths       *pathderive.Cached
	files       *filestore.Store
	compression *compress.Policy
	meta        metastore.Store
	stats       stats.Collector
	logger      *zap.Logger
	now         func() time.Time
	lock        *sweeplock.Lock
	asyncFlush  bool

	pending  sync.WaitGroup
	deleting sync.Map // aside dirs currently being deleted
	aside    atomic.Int64
	closed   atomic.Bool
}

// New creates a Backend and its cache root directory.
func New(cfg Config, opts ...Option) (*Backend, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.meta == nil {
		o.meta = defaultOptions().meta
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.CacheRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving cache root: %w", err)
	}
	if err := os.MkdirAll(root, filestore.DirMode); err != nil {
		return nil, fmt.Errorf("%w: creating cache root: %w", ErrIO, err)
	}

	paths, err := pathderive.NewCached(pathderive.New(root, cfg.AllowedExtensions), cfg.PathCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating path cache: %w", err)
	}

	policy := compress.NewPolicy(cfg.EnableCompression, cfg.CompressionLevel)

	b := &Backend{
		cfg:         cfg,
		root:        root,
		paths:       paths,
		files:       filestore.New(policy.Extension()),
		compression: policy,
		meta:        o.meta,
		stats:       o.stats,
		logger:      o.logger,
		now:         o.now,
		asyncFlush:  o.asyncFlush,
	}
	if o.sweepLock {
		b.lock = sweeplock.New(root + ".lock")
	}

	b.logger.Debug("backend initialized",
		zap.String("root", root),
		zap.Bool("compression", policy.Enabled()),
		zap.Int("compressionLevel", policy.Level()),
		zap.Bool("asyncFlush", b.asyncFlush),
	)

	return b, nil
}

// Set stores content for identifier, replacing any previous entry.
//
// The metadata record is written first, then the plain file, then the
// compressed sibling. A failed plain write is returned; a failed
// compression only drops the sibling. Entries tagged with ReservedTag go to
// the metadata store alone.
func (b *Backend) Set(ctx context.Context, identifier string, content []byte, tags []string, lifetime time.Duration) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	rec := metastore.Record{
		Identifier: identifier,
		Tags:       normalizeTags(tags),
		ExpiresAt:  b.expiresAt(lifetime),
	}

	if rec.HasTag(ReservedTag) {
		rec.Content = slices.Clone(content)
		if err := b.meta.Put(ctx, rec); err != nil {
			return fmt.Errorf("%w: storing %q: %w", ErrMetadataStore, identifier, err)
		}
		return nil
	}

	plain, err := b.paths.Derive(identifier)
	if err != nil {
		return err
	}

	if err := b.meta.Put(ctx, rec); err != nil {
		return fmt.Errorf("%w: storing %q: %w", ErrMetadataStore, identifier, err)
	}

	if err := b.files.Write(plain, content); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrIO, plain, err)
	}
	b.writeCompressed(identifier, plain, content)

	b.stats.IncCounter(stats.MetricSets, 1)
	b.stats.ObserveHistogram(stats.MetricBytes, float64(len(content)))
	b.logger.Debug("entry stored",
		zap.String("identifier", identifier),
		zap.String("path", plain),
		zap.Int("bytes", len(content)),
	)
	return nil
}

// Get returns the plain file content for identifier, or ErrNotFound.
// The metadata store is not consulted.
func (b *Backend) Get(ctx context.Context, identifier string) ([]byte, error) {
	plain, ok, err := b.lookupFile(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !ok {
		b.stats.IncCounter(stats.MetricMisses, 1)
		return nil, ErrNotFound
	}

	data, err := b.files.Read(plain)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			// Removed between the existence check and the read.
			b.stats.IncCounter(stats.MetricMisses, 1)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	b.stats.IncCounter(stats.MetricHits, 1)
	return data, nil
}

// Has reports whether a plain file exists for identifier.
func (b *Backend) Has(ctx context.Context, identifier string) (bool, error) {
	_, ok, err := b.lookupFile(ctx, identifier)
	return ok, err
}

// Remove deletes the files of identifier, then its metadata record. It
// reports false, and changes nothing, when no plain file exists. Entries
// stored with ReservedTag have no files; Remove drops their record.
//
// If the metadata removal fails the files are already gone, so Remove
// still reports true along with the error; the orphaned record is harmless
// and is dropped by a later sweep.
func (b *Backend) Remove(ctx context.Context, identifier string) (bool, error) {
	plain, ok, err := b.lookupFile(ctx, identifier)
	if errors.Is(err, ErrClosed) || ctx.Err() != nil {
		return false, err
	}
	if err != nil || !ok {
		if removed, rerr := b.removeReserved(ctx, identifier); removed || rerr != nil {
			return removed, rerr
		}
		return false, err
	}

	if err := b.files.Delete(plain); err != nil {
		return false, fmt.Errorf("%w: removing %s: %w", ErrIO, plain, err)
	}
	b.stats.IncCounter(stats.MetricRemoves, 1)

	if _, err := b.meta.Remove(ctx, identifier); err != nil {
		return true, fmt.Errorf("%w: removing %q: %w", ErrMetadataStore, identifier, err)
	}
	return true, nil
}

// removeReserved removes the record of identifier if it carries
// ReservedTag. Any other record, or a failed lookup, is left alone.
func (b *Backend) removeReserved(ctx context.Context, identifier string) (bool, error) {
	r, err := b.meta.Get(ctx, identifier)
	if err != nil || !r.HasTag(ReservedTag) {
		return false, nil
	}
	removed, err := b.meta.Remove(ctx, identifier)
	if err != nil {
		return false, fmt.Errorf("%w: removing %q: %w", ErrMetadataStore, identifier, err)
	}
	if removed {
		b.stats.IncCounter(stats.MetricRemoves, 1)
	}
	return removed, nil
}

// Flush removes every entry.
//
// The cache root is renamed aside first, so readers and writers see either
// the full old tree or no tree at all, never a partially deleted one. Then
// all metadata is cleared and the renamed tree is deleted (in the
// background with WithAsyncFlush). Writers recreate the root on the next
// Set.
func (b *Backend) Flush(ctx context.Context) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	return b.lock.Do(ctx, func() error {
		errs := b.purgeAside()

		aside := filestore.AsidePath(b.root, b.now(), uuid.NewString())
		moved, err := b.files.RenameTree(b.root, aside)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("%w: %w", ErrIO, err))
		}

		if err := b.meta.RemoveAll(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: clearing metadata: %w", ErrMetadataStore, err))
		}
		b.stats.IncCounter(stats.MetricFlushes, 1)
		b.logger.Info("cache flushed", zap.String("root", b.root), zap.Bool("renamed", moved))

		if !moved {
			return errs
		}
		if b.asyncFlush {
			b.deleteAsideAsync(aside)
			return errs
		}
		return multierr.Append(errs, b.deleteAside(aside))
	})
}

// CollectGarbage removes entries whose lifetime has elapsed.
//
// The metadata store decides what is expired. For each expired entry the
// files are deleted before the record, the same order Remove uses, so an
// interrupted sweep leaves only records behind and the next sweep retries
// them. Failures on single entries do not stop the sweep; they are
// returned together at the end. Leftovers of interrupted flushes are
// deleted as well.
func (b *Backend) CollectGarbage(ctx context.Context) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	return b.lock.Do(ctx, func() error {
		errs := b.purgeAside()

		removed, err := b.meta.RemoveAllExpired(ctx, b.now(), func(r metastore.Record) error {
			return b.deleteFiles(r.Identifier)
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("collecting garbage: %w", err))
		}

		b.stats.IncCounter(stats.MetricGCRemoved, int64(len(removed)))
		b.logger.Debug("garbage collected",
			zap.Int("removed", len(removed)),
			zap.Int("failures", len(multierr.Errors(errs))),
		)
		return errs
	})
}

// FlushByTag removes every entry carrying tag, files before metadata.
// It returns ErrUnsupported when the metadata store keeps no tag index.
// When the store could only read part of its records, the entries found
// are still removed and the read failure is returned with the rest.
func (b *Backend) FlushByTag(ctx context.Context, tag string) error {
	if err := b.check(ctx); err != nil {
		return err
	}

	return b.lock.Do(ctx, func() error {
		ids, errs := b.findByTag(ctx, tag)
		if errors.Is(errs, metastore.ErrUnsupported) {
			return errs
		}

		removed := 0
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return multierr.Append(errs, err)
			}
			if err := b.deleteFiles(id); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if _, err := b.meta.Remove(ctx, id); err != nil {
				b.stats.IncCounter(stats.MetricSweepFailures, 1)
				errs = multierr.Append(errs, fmt.Errorf("%w: removing %q: %w", ErrMetadataStore, id, err))
				continue
			}
			removed++
		}

		b.stats.IncCounter(stats.MetricTagRemoved, int64(removed))
		b.logger.Debug("flushed by tag", zap.String("tag", tag), zap.Int("removed", removed))
		return errs
	})
}

// FindIdentifiersByTag returns the identifiers of entries carrying tag.
// It returns ErrUnsupported when the metadata store keeps no tag index.
// On a partial read it returns the identifiers found along with the error.
func (b *Backend) FindIdentifiersByTag(ctx context.Context, tag string) ([]string, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	return b.findByTag(ctx, tag)
}

// Lookup returns the unexpired metadata record for identifier. It is the
// read path for entries stored with ReservedTag.
func (b *Backend) Lookup(ctx context.Context, identifier string) (Record, error) {
	if err := b.check(ctx); err != nil {
		return Record{}, err
	}

	r, err := b.meta.Get(ctx, identifier)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: reading %q: %w", ErrMetadataStore, identifier, err)
	}
	if r.Expired(b.now()) {
		return Record{}, ErrNotFound
	}
	return r, nil
}

// Path returns the plain file path identifier maps to. The compressed
// sibling is the same path with ".gz" appended.
func (b *Backend) Path(identifier string) (string, error) {
	return b.paths.Derive(identifier)
}

// Root returns the absolute cache root.
func (b *Backend) Root() string {
	return b.root
}

// Config returns the configuration the backend was created with.
func (b *Backend) Config() Config {
	return b.cfg
}

// Wait blocks until background deletions started by Flush have finished.
func (b *Backend) Wait() {
	b.pending.Wait()
}

// Close waits for background deletions and closes the metadata store.
// After Close, the backend should not be used.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	b.Wait()
	if err := b.meta.Close(); err != nil {
		return fmt.Errorf("closing metadata store: %w", err)
	}
	return nil
}

func (b *Backend) check(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// lookupFile derives the plain path of identifier and reports whether it
// exists.
func (b *Backend) lookupFile(ctx context.Context, identifier string) (string, bool, error) {
	if err := b.check(ctx); err != nil {
		return "", false, err
	}

	plain, err := b.paths.Derive(identifier)
	if err != nil {
		return "", false, err
	}

	ok, err := b.files.Exists(plain)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return plain, ok, nil
}

// expiresAt resolves lifetime to an absolute expiry; zero means never.
func (b *Backend) expiresAt(lifetime time.Duration) time.Time {
	if lifetime < 0 {
		lifetime = b.cfg.DefaultLifetime
	}
	if lifetime == 0 {
		return time.Time{}
	}
	return b.now().Add(lifetime)
}

// writeCompressed writes the compressed sibling of plain, or removes a
// stale one when no sibling can be produced, so a sibling never disagrees
// with the plain file.
func (b *Backend) writeCompressed(identifier, plain string, content []byte) {
	if !b.compression.Enabled() {
		if err := b.files.RemoveCompressed(plain); err != nil {
			b.logger.Warn("removing stale compressed file", zap.String("path", plain), zap.Error(err))
		}
		return
	}

	compressed, err := b.compression.Compress(content)
	if err == nil {
		err = b.files.WriteCompressed(plain, compressed)
	}
	if err == nil {
		b.stats.IncCounter(stats.MetricCompressed, 1)
		return
	}

	b.stats.IncCounter(stats.MetricCompressionFailures, 1)
	b.logger.Warn("compressed variant not written, serving plain file only",
		zap.String("identifier", identifier),
		zap.Error(err),
	)
	if err := b.files.RemoveCompressed(plain); err != nil {
		b.logger.Warn("removing stale compressed file", zap.String("path", plain), zap.Error(err))
	}
}

// deleteFiles removes the files of identifier. Identifiers that map to no
// path (bookkeeping entries) have no files.
func (b *Backend) deleteFiles(identifier string) error {
	plain, err := b.paths.Derive(identifier)
	if err != nil {
		return nil
	}
	if err := b.files.Delete(plain); err != nil {
		b.stats.IncCounter(stats.MetricSweepFailures, 1)
		b.logger.Warn("deleting cache files",
			zap.String("identifier", identifier),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

func (b *Backend) findByTag(ctx context.Context, tag string) ([]string, error) {
	ids, err := b.meta.FindByTag(ctx, tag)
	if err != nil {
		if errors.Is(err, metastore.ErrUnsupported) {
			return nil, fmt.Errorf("finding tag %q: %w", tag, err)
		}
		return ids, fmt.Errorf("%w: finding tag %q: %w", ErrMetadataStore, tag, err)
	}
	return ids, nil
}

// purgeAside deletes trees left behind by flushes that did not finish,
// skipping those this process is still deleting.
func (b *Backend) purgeAside() error {
	dirs, err := b.files.AsideDirs(b.root)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	var errs error
	for _, dir := range dirs {
		if _, busy := b.deleting.Load(dir); busy {
			continue
		}
		b.logger.Info("deleting leftover flushed directory", zap.String("path", dir))
		if b.asyncFlush {
			b.deleteAsideAsync(dir)
			continue
		}
		errs = multierr.Append(errs, b.deleteAside(dir))
	}
	return errs
}

func (b *Backend) deleteAside(dir string) error {
	b.deleting.Store(dir, struct{}{})
	defer b.deleting.Delete(dir)

	if err := b.files.DeleteTree(dir); err != nil {
		b.stats.IncCounter(stats.MetricSweepFailures, 1)
		b.logger.Warn("deleting flushed directory", zap.String("path", dir), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

func (b *Backend) deleteAsideAsync(dir string) {
	b.deleting.Store(dir, struct{}{})
	b.stats.SetGauge(stats.MetricAsideDirs, b.aside.Add(1))
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		defer func() { b.stats.SetGauge(stats.MetricAsideDirs, b.aside.Add(-1)) }()
		b.deleteAside(dir)
	}()
}

// normalizeTags drops empty and duplicate tags.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
