package staticcache

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/staticfilecache/staticcache/internal/compress"
	"github.com/staticfilecache/staticcache/internal/pathderive"
)

// DefaultExtensions are the file extensions served as-is by default. Any
// other extension gets "/index.html" appended.
var DefaultExtensions = []string{"html", "htm", "xml", "rss", "css", "js", "json", "txt"}

// Config holds the backend configuration. It is passed to New by value;
// the backend never reads global state.
type Config struct {
	// CacheRoot is the directory holding <host>/<path> trees.
	CacheRoot string `mapstructure:"cache_root"`

	// EnableCompression writes a gzip sibling next to every plain file.
	EnableCompression bool `mapstructure:"enable_compression"`

	// CompressionLevel is the gzip level in [1,9]. Nil or out-of-range
	// values use compress.DefaultLevel.
	CompressionLevel *int `mapstructure:"compression_level"`

	// AllowedExtensions lists extensions written under their own name.
	AllowedExtensions []string `mapstructure:"allowed_extensions"`

	// DefaultLifetime applies to Set calls with UseDefaultLifetime.
	// Zero means entries never expire.
	DefaultLifetime time.Duration `mapstructure:"default_lifetime"`

	// PathCacheSize bounds the memoized identifier-to-path mappings.
	PathCacheSize int `mapstructure:"path_cache_size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		CacheRoot:         "staticcache",
		EnableCompression: true,
		AllowedExtensions: append([]string(nil), DefaultExtensions...),
		DefaultLifetime:   time.Hour,
		PathCacheSize:     pathderive.DefaultCacheSize,
	}
}

// Validate reports configuration errors. An out-of-range compression level
// is not an error; it falls back to the default level.
func (c Config) Validate() error {
	var errs []error
	if c.CacheRoot == "" {
		errs = append(errs, errors.New("cache root is required"))
	} else if abs, err := filepath.Abs(c.CacheRoot); err != nil {
		errs = append(errs, fmt.Errorf("resolving cache root: %w", err))
	} else if filepath.Dir(abs) == abs {
		// Flush renames the root aside, which a filesystem root cannot be.
		errs = append(errs, fmt.Errorf("cache root must not be a filesystem root, got %q", c.CacheRoot))
	}
	if c.DefaultLifetime < 0 {
		errs = append(errs, fmt.Errorf("default lifetime must not be negative, got %s", c.DefaultLifetime))
	}
	if c.PathCacheSize < 0 {
		errs = append(errs, fmt.Errorf("path cache size must not be negative, got %d", c.PathCacheSize))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ResolvedCompressionLevel returns the level actually used for compression.
func (c Config) ResolvedCompressionLevel() int {
	return compress.ResolveLevel(c.CompressionLevel)
}
