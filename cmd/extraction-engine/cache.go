// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/extraction-engine/internal/cache"
	"github.com/pdiddy/extraction-engine/internal/layout"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the tiered result cache",
	Long: `Cache manages the engine's result cache: the in-process LRU tier, the
persistent SQLite tier, and the per-field partial tier. Use subcommands to
view hit counters, drop everything, or invalidate one document's entries.`,
}

// --- stats subcommand ---

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache hit counters and tier sizes",
	RunE:  runCacheStats,
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(eng.cache.Stats())
}

// --- clear subcommand ---

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cache entry across all tiers",
	RunE:  runCacheClear,
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.cache.Clear(); err != nil {
		return err
	}
	fmt.Println("Cache cleared.")
	return nil
}

// --- invalidate subcommand ---

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <document>",
	Short: "Drop all cache entries for one document",
	Long: `Invalidate removes every cache entry derived from one document, across
all labels, schemas, and per-field entries. The argument is either a
document file (hashed the same way the pipeline hashes it) or a 16-hex
document hash printed in cache keys.`,
	Args: cobra.ExactArgs(1),
	RunE: runCacheInvalidate,
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	docHash, err := resolveDocHash(args[0])
	if err != nil {
		return err
	}

	removed, err := eng.cache.InvalidateDocument(docHash)
	if err != nil {
		return err
	}
	fmt.Printf("Invalidated %d entries for document %s.\n", removed, docHash)
	return nil
}

// resolveDocHash turns an invalidate argument into a document hash. A path
// to an existing file is hashed like the pipeline would hash it; anything
// else must already be a hash.
func resolveDocHash(arg string) (string, error) {
	if _, err := os.Stat(arg); err == nil {
		if layout.IsElementsFile(arg) {
			elements, err := layout.ReadElements(arg)
			if err != nil {
				return "", err
			}
			// ReadElements returns reading order, so this matches the
			// hash the pipeline computes for the same layout.
			return cache.DocumentHash([]byte(layout.Text(elements))), nil
		}
		content, err := os.ReadFile(arg)
		if err != nil {
			return "", err
		}
		return cache.DocumentHash(content), nil
	}

	if !isDocHash(arg) {
		return "", fmt.Errorf("%q is neither an existing file nor a 16-hex document hash", arg)
	}
	return arg, nil
}

func isDocHash(s string) bool {
	if len(s) != 16 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)

	rootCmd.AddCommand(cacheCmd)
}
