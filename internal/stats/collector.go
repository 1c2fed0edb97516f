// Package stats provides a unified interface for collecting metrics.
package stats

// Metric names used throughout the library.
const (
	// Entry operations.
	MetricSets    = "staticcache_sets_total"
	MetricHits    = "staticcache_hits_total"
	MetricMisses  = "staticcache_misses_total"
	MetricRemoves = "staticcache_removes_total"
	MetricBytes   = "staticcache_set_bytes"

	// Compression.
	MetricCompressed          = "staticcache_compressed_total"
	MetricCompressionFailures = "staticcache_compression_failures_total"

	// Sweeps.
	MetricFlushes       = "staticcache_flushes_total"
	MetricGCRemoved     = "staticcache_gc_removed_total"
	MetricTagRemoved    = "staticcache_tag_removed_total"
	MetricSweepFailures = "staticcache_sweep_failures_total"
	MetricAsideDirs     = "staticcache_flush_aside_dirs"
)

// help describes each metric for exporters that carry descriptions.
var help = map[string]string{
	MetricSets:                "Entries written to the cache.",
	MetricHits:                "Reads that found a cached file.",
	MetricMisses:              "Reads that found no cached file.",
	MetricRemoves:             "Entries removed by identifier.",
	MetricBytes:               "Size in bytes of written page content.",
	MetricCompressed:          "Compressed siblings written.",
	MetricCompressionFailures: "Writes whose compressed sibling could not be produced.",
	MetricFlushes:             "Whole-cache flushes.",
	MetricGCRemoved:           "Entries removed by garbage collection.",
	MetricTagRemoved:          "Entries removed by tag.",
	MetricSweepFailures:       "Per-entry failures during flush or garbage collection sweeps.",
	MetricAsideDirs:           "Flushed directories still waiting for deletion.",
}

// Help returns the description of a metric, or its name when unknown.
func Help(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
