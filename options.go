package staticcache

import (
	"time"

	"go.uber.org/zap"

	"github.com/staticfilecache/staticcache/internal/metastore"
	"github.com/staticfilecache/staticcache/internal/metastore/noopstore"
	"github.com/staticfilecache/staticcache/internal/stats"
)

// Option configures a Backend.
type Option interface {
	apply(*options)
}

// options holds the backend collaborators.
type options struct {
	meta       metastore.Store
	stats      stats.Collector
	logger     *zap.Logger
	now        func() time.Time
	asyncFlush bool
	sweepLock  bool
}

// defaultOptions returns the default configuration: a file-only backend
// with synchronous flushes and cross-process sweep locking.
func defaultOptions() options {
	return options{
		meta:      noopstore.New(),
		stats:     stats.Discard,
		logger:    zap.NewNop(),
		now:       time.Now,
		sweepLock: true,
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithMetadataStore sets the store holding tags and expiry.
// If not set, metadata is discarded and the backend only mirrors files.
func WithMetadataStore(s metastore.Store) Option {
	return optionFunc(func(o *options) {
		o.meta = s
	})
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *options) {
		o.now = now
	})
}

// WithAsyncFlush makes Flush return once the cache root is renamed aside
// and metadata is cleared; the renamed tree is deleted in the background.
// Use Wait or Close to wait for pending deletions.
func WithAsyncFlush(async bool) Option {
	return optionFunc(func(o *options) {
		o.asyncFlush = async
	})
}

// WithSweepLock enables or disables the file lock that serializes flushes
// and garbage collection across processes. Enabled by default.
func WithSweepLock(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.sweepLock = enabled
	})
}
