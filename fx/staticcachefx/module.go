// Package staticcachefx provides fx modules for a staticcache backend.
package staticcachefx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/staticfilecache/staticcache"
	"github.com/staticfilecache/staticcache/internal/metastore"
	"github.com/staticfilecache/staticcache/internal/metastore/memstore"
	"github.com/staticfilecache/staticcache/internal/stats"
	"github.com/staticfilecache/staticcache/internal/stats/logger"
)

// Module provides a *staticcache.Backend built from a staticcache.Config.
// Requires a *zap.Logger. A metastore.Store is used when one is provided;
// otherwise the backend only mirrors files.
var Module = fx.Module("staticcache",
	fx.Provide(
		newStatsCollector,
		newBackend,
	),
)

// MemoryModule is Module with an in-memory metadata store, which keeps
// tags and expiry for the lifetime of the process. Useful for tests and
// single-instance deployments.
var MemoryModule = fx.Module("staticcache.memory",
	fx.Provide(newMemStore),
	Module,
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("staticcache.stats"))
}

// MemoryResult exposes the memory store both as itself and as the
// metadata store of the backend.
type MemoryResult struct {
	fx.Out

	Store    *memstore.Store // Exposed for test setup
	Metadata metastore.Store
}

func newMemStore() MemoryResult {
	s := memstore.New()
	return MemoryResult{Store: s, Metadata: s}
}

// Params holds dependencies for creating the backend.
type Params struct {
	fx.In

	Config    staticcache.Config
	Logger    *zap.Logger
	Collector stats.Collector
	Metadata  metastore.Store `optional:"true"`
	Lifecycle fx.Lifecycle
}

// Result holds the provided backend.
type Result struct {
	fx.Out

	Backend *staticcache.Backend
}

func newBackend(p Params) (Result, error) {
	opts := []staticcache.Option{
		staticcache.WithStats(p.Collector),
		staticcache.WithLogger(p.Logger.Named("staticcache")),
	}
	if p.Metadata != nil {
		opts = append(opts, staticcache.WithMetadataStore(p.Metadata))
	}

	backend, err := staticcache.New(p.Config, opts...)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return backend.Close()
		},
	})

	return Result{Backend: backend}, nil
}
