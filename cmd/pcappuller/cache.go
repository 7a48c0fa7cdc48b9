package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pcappuller/internal/errors"
	"pcappuller/internal/paths"
	"pcappuller/internal/storage"
)

var (
	cachePathFlag   string
	cacheJSONFlag   bool
	cacheMaxAgeFlag time.Duration
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the capture metadata cache",
	Long: `The metadata cache stores the first and last packet time of each capture file,
keyed by path and valid while the file's size and modification time are unchanged.

Examples:
  pcappuller cache stats
  pcappuller cache prune --max-age 168h
  pcappuller cache clear`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache location and entry counts",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove entries for deleted or changed files and old entries",
	Args:  cobra.NoArgs,
	RunE:  runCachePrune,
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cachePathFlag, "cache", "", "Cache database path (default from config)")
	cacheStatsCmd.Flags().BoolVar(&cacheJSONFlag, "json", false, "Output as JSON")
	cachePruneCmd.Flags().DurationVar(&cacheMaxAgeFlag, "max-age", 0, "Also remove entries older than this (default: cache.maxAge)")

	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openCache() (*storage.BoundsCache, error) {
	path := cachePathFlag
	if path != "" {
		path = paths.Expand(path)
	} else {
		p, err := cfg.CachePath()
		if err != nil {
			return nil, errors.Filesystem("resolve cache path", err, true)
		}
		path = p
	}
	c, err := storage.OpenBoundsCache(path, storage.CacheOptions{NegativeTTL: cfg.Cache.NegativeTTL},
		logger.With("component", "cache"))
	if err != nil {
		return nil, errors.New(errors.CacheUnavailable, "failed to open cache "+path, err,
			errors.GetSuggestedFixes(errors.CacheUnavailable)...)
	}
	return c, nil
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	defer c.Close()

	s, err := c.Stats()
	if err != nil {
		return errors.New(errors.CacheUnavailable, "failed to read cache", err)
	}

	out := cmd.OutOrStdout()
	if cacheJSONFlag {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Path:\t%s\n", s.Path)
	fmt.Fprintf(tw, "Size:\t%s\n", humanize.Bytes(uint64(s.FileBytes)))
	fmt.Fprintf(tw, "Entries:\t%d\n", s.Entries)
	fmt.Fprintf(tw, "Unresolvable:\t%d\n", s.Negative)
	if !s.Oldest.IsZero() {
		fmt.Fprintf(tw, "Oldest entry:\t%s (%s)\n", s.Oldest.Format(time.RFC3339), humanize.Time(s.Oldest))
		fmt.Fprintf(tw, "Newest entry:\t%s (%s)\n", s.Newest.Format(time.RFC3339), humanize.Time(s.Newest))
	}
	return tw.Flush()
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Clear(); err != nil {
		return errors.New(errors.CacheUnavailable, "failed to clear cache", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", c.Path())
	return nil
}

func runCachePrune(cmd *cobra.Command, _ []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	defer c.Close()

	maxAge := cfg.Cache.MaxAge
	if cmd.Flags().Changed("max-age") {
		maxAge = cacheMaxAgeFlag
	}
	stats, err := c.Prune(cmd.Context(), storage.PruneOptions{MaxAge: maxAge})
	if err != nil {
		if cmd.Context().Err() != nil {
			return errors.Canceled("cache prune", err)
		}
		return errors.New(errors.CacheUnavailable, "failed to prune cache", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d entries, removed %d (missing %d, changed %d, expired %d)\n",
		stats.Scanned, stats.Removed(), stats.Missing, stats.Stale, stats.Expired)
	return nil
}
