package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/staticfilecache/staticcache"
)

var setCmd = &cobra.Command{
	Use:   "set <identifier> [file|-]",
	Short: "Store a page in the cache",
	Long: `Store page content under an identifier. Content is read from the given
file, or from stdin when the file is "-" or omitted.

Examples:
  staticcache set https://example.com/ index.html --tag pageId_1
  curl -s https://example.com/feed.xml | staticcache set https://example.com/feed.xml --lifetime 10m`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSet,
}

var (
	setTags     []string
	setLifetime time.Duration
)

func init() {
	setCmd.Flags().StringSliceVar(&setTags, "tag", nil, "tag to attach (repeatable)")
	setCmd.Flags().DurationVar(&setLifetime, "lifetime", staticcache.UseDefaultLifetime, "entry lifetime (0 = unlimited, default from config)")
	rootCmd.AddCommand(setCmd)
}

func runSet(cmd *cobra.Command, args []string) error {
	content, err := readContent(cmd, args[1:])
	if err != nil {
		return err
	}

	return withBackend(cmd, func(ctx context.Context, b *staticcache.Backend) error {
		if err := b.Set(ctx, args[0], content, setTags, setLifetime); err != nil {
			return err
		}
		path, err := b.Path(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out(cmd), "Stored %d bytes at %s\n", len(content), path)
		return nil
	})
}

func readContent(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	return data, nil
}
