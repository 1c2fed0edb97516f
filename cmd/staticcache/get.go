package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/staticfilecache/staticcache"
)

// errMissing makes "has" exit non-zero for absent entries.
var errMissing = errors.New("entry not cached")

var getCmd = &cobra.Command{
	Use:   "get <identifier>",
	Short: "Print the cached content of a page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *staticcache.Backend) error {
			data, err := b.Get(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = out(cmd).Write(data)
			return err
		})
	},
}

var hasCmd = &cobra.Command{
	Use:   "has <identifier>",
	Short: "Report whether a page is cached",
	Long: `Report whether a page is cached. Exits non-zero when it is not, so it
can be used in shell conditions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *staticcache.Backend) error {
			ok, err := b.Has(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out(cmd), "not cached")
				return errMissing
			}
			fmt.Fprintln(out(cmd), "cached")
			return nil
		})
	},
}

var pathCmd = &cobra.Command{
	Use:   "path <identifier>",
	Short: "Print the file a page is cached in",
	Long: `Print the plain file a page is cached in. The compressed variant, when
present, lives next to it with a ".gz" suffix.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b *staticcache.Backend) error {
			path, err := b.Path(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), path)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(hasCmd)
	rootCmd.AddCommand(pathCmd)
}
