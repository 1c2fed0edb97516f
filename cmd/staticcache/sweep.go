package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/staticfilecache/staticcache"
)

var rmCmd = &cobra.Command{
	Use:   "rm <identifier>...",
	Short: "Remove pages from the cache",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *staticcache.Backend) error {
			for _, id := range args {
				removed, err := b.Remove(ctx, id)
				if err != nil {
					return err
				}
				if removed {
					fmt.Fprintf(out(cmd), "Removed %s\n", id)
				} else {
					fmt.Fprintf(out(cmd), "Not cached: %s\n", id)
				}
			}
			return nil
		})
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Remove every page and all metadata",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *staticcache.Backend) error {
			if err := b.Flush(ctx); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Flushed %s\n", b.Root())
			return nil
		})
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove expired pages",
	Long: `Remove pages whose lifetime has elapsed. Expiry is kept in the metadata
store, so this does nothing with --metadata none.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *staticcache.Backend) error {
			return b.CollectGarbage(ctx)
		})
	},
}

var tagsFlush bool

var tagsCmd = &cobra.Command{
	Use:   "tags <tag>",
	Short: "List, or flush, the pages carrying a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *staticcache.Backend) error {
			if tagsFlush {
				return b.FlushByTag(ctx, args[0])
			}
			// Print what could be read even when some records could not.
			ids, err := b.FindIdentifiersByTag(ctx, args[0])
			for _, id := range ids {
				fmt.Fprintln(out(cmd), id)
			}
			return err
		})
	},
}

func init() {
	tagsCmd.Flags().BoolVar(&tagsFlush, "flush", false, "remove the pages instead of listing them")
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(tagsCmd)
}
