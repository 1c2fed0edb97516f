package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/staticfilecache/staticcache"
	promstats "github.com/staticfilecache/staticcache/internal/stats/prometheus"
)

var (
	// Global flags.
	cfgFile     string
	metadataURL string
	showMetrics bool
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "staticcache",
	Short: "Manage a static page cache served directly from disk",
	Long: `Staticcache writes rendered pages to <cache-root>/<host>/<path> so a
front-end web server can answer requests without calling the application.

Tags and expiry are kept in a metadata store (memory, S3 or GCS); the files
on disk decide whether a page is served.

Configuration is read from flags, STATICCACHE_* environment variables and an
optional config file, in that order of precedence.

Examples:
  # Cache a page for one hour
  staticcache set https://example.com/about page.html --lifetime 1h --tag pageId_7

  # Where does a page live on disk?
  staticcache path https://example.com/about

  # Drop expired pages, keeping metadata in S3
  staticcache gc --metadata s3://my-bucket/staticcache/`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	addConfigFlags(flags)
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.StringVar(&metadataURL, "metadata", "none", "metadata store: none, memory, s3://bucket/prefix or gs://bucket/prefix")
	flags.BoolVar(&showMetrics, "metrics", false, "print collected metrics after the command")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// withBackend opens a backend from the command's configuration, runs fn
// and closes the backend.
func withBackend(cmd *cobra.Command, fn func(ctx context.Context, b *staticcache.Backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd.Flags(), cfgFile)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if verbose {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		defer logger.Sync()
	}

	registry := prometheus.NewRegistry()
	opts := []staticcache.Option{
		staticcache.WithLogger(logger.Named("staticcache")),
		staticcache.WithStats(promstats.New(registry)),
	}

	meta, err := openMetadata(ctx, metadataURL)
	if err != nil {
		return err
	}
	if meta != nil {
		opts = append(opts, staticcache.WithMetadataStore(meta))
	}

	backend, err := staticcache.New(cfg, opts...)
	if err != nil {
		if meta != nil {
			meta.Close()
		}
		return fmt.Errorf("creating backend: %w", err)
	}

	runErr := fn(ctx, backend)
	closeErr := backend.Close()

	if showMetrics {
		if err := printMetrics(cmd.ErrOrStderr(), registry); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
