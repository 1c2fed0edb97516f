package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/staticfilecache/staticcache"
	"github.com/staticfilecache/staticcache/internal/compress"
)

// envPrefix prefixes environment overrides, e.g. STATICCACHE_CACHE_ROOT.
const envPrefix = "STATICCACHE"

// flagKeys maps persistent flags to config keys.
var flagKeys = map[string]string{
	"cache-root":        "cache_root",
	"compress":          "enable_compression",
	"compression-level": "compression_level",
	"ext":               "allowed_extensions",
	"default-lifetime":  "default_lifetime",
}

// addConfigFlags defines the flags that override config keys.
func addConfigFlags(flags *pflag.FlagSet) {
	def := staticcache.DefaultConfig()
	flags.String("cache-root", def.CacheRoot, "directory holding cached pages")
	flags.Bool("compress", def.EnableCompression, "write a gzip sibling next to every page")
	flags.Int("compression-level", compress.DefaultLevel, "gzip level (1-9)")
	flags.StringSlice("ext", def.AllowedExtensions, "extensions written under their own name")
	flags.Duration("default-lifetime", def.DefaultLifetime, "lifetime of entries set without --lifetime (0 = unlimited)")
}

// loadConfig merges defaults, the config file at path (if any), the
// environment and flags into a staticcache.Config.
func loadConfig(flags *pflag.FlagSet, path string) (staticcache.Config, error) {
	v := viper.New()

	def := staticcache.DefaultConfig()
	v.SetDefault("cache_root", def.CacheRoot)
	v.SetDefault("enable_compression", def.EnableCompression)
	v.SetDefault("allowed_extensions", def.AllowedExtensions)
	v.SetDefault("default_lifetime", def.DefaultLifetime)
	v.SetDefault("path_cache_size", def.PathCacheSize)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return staticcache.Config{}, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return staticcache.Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg staticcache.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return staticcache.Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return staticcache.Config{}, err
	}
	return cfg, nil
}
