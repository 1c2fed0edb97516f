// Package main provides the staticcache CLI tool for writing, reading and
// sweeping a static page cache.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
