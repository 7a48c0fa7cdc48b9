package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pcappuller/internal/bounds"
	"pcappuller/internal/errors"
	"pcappuller/internal/paths"
	"pcappuller/internal/pipeline"
	"pcappuller/internal/profile"
	"pcappuller/internal/puller"
	"pcappuller/internal/report"
	"pcappuller/internal/storage"
	"pcappuller/internal/tools"
	"pcappuller/internal/window"
)

var (
	pullRoots         []string
	pullStart         string
	pullMinutes       int
	pullEnd           string
	pullOut           string
	pullBatchSize     int
	pullSlop          int
	pullTmpDir        string
	pullPrecise       bool
	pullWorkers       string
	pullDisplayFilter string
	pullOutFormat     string
	pullGzip          bool
	pullDryRun        bool
	pullTrimPerBatch  bool
	pullListOut       string
	pullDebugBounds   int
	pullSummary       bool
	pullReport        string
	pullCache         string
	pullNoCache       bool
	pullClearCache    bool
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Select captures in a time window and merge them into one file",
	Long: `Select capture files whose packets fall inside a time window and merge them.

Files are first selected by modification time (window widened by --slop-min),
then optionally by their packet timestamps (--precise-filter). Survivors are
merged in batches, trimmed to the window, optionally filtered with a display
filter, and written to --out.

Batch size and slop default to recommendations based on the window length.

Examples:
  pcappuller pull --root /data/sensor1 --start "2025-01-01 10:00:00" --minutes 15 --out out.pcapng
  pcappuller pull --root /a --root /b --start 2025-01-01T10:00 --end 2025-01-01T14:00 \
      --precise-filter --display-filter "dns" --gzip --out dns.pcapng
  pcappuller pull --root /data --start "2025-01-01 10:00:00" --minutes 60 --dry-run \
      --precise-filter --summary --list-out survivors.csv --report report.csv`,
	Args: cobra.NoArgs,
	RunE: runPull,
}

func init() {
	f := pullCmd.Flags()
	f.StringArrayVar(&pullRoots, "root", nil, "Root directory searched recursively (repeatable)")
	f.StringVar(&pullStart, "start", "", "Start time, 'YYYY-MM-DD HH:MM:SS' local time")
	f.IntVar(&pullMinutes, "minutes", 0, "Window length in minutes (1-1440); clamped at end of day")
	f.StringVar(&pullEnd, "end", "", "End time on the same calendar day as --start")
	f.StringVarP(&pullOut, "out", "o", "", "Output path (required unless --dry-run)")
	f.IntVar(&pullBatchSize, "batch-size", 0, "Files per merge batch (default: recommended for the window)")
	f.IntVar(&pullSlop, "slop-min", 0, "Minutes added around the window for the mtime prefilter (default: recommended)")
	f.StringVar(&pullTmpDir, "tmpdir", "", "Parent directory for temporary files")
	f.BoolVar(&pullPrecise, "precise-filter", false, "Drop files without packets in the window (uses capinfos)")
	f.StringVar(&pullWorkers, "workers", "auto", "Parallel capinfos workers: 'auto' or an integer")
	f.StringVar(&pullDisplayFilter, "display-filter", "", "Wireshark display filter applied after trimming (uses tshark)")
	f.StringVar(&pullOutFormat, "out-format", "", "Output format: pcap or pcapng (default from config)")
	f.BoolVar(&pullGzip, "gzip", false, "Compress the output; .gz is appended when missing")
	f.BoolVar(&pullDryRun, "dry-run", false, "Report survivors without merging")
	f.BoolVar(&pullTrimPerBatch, "trim-per-batch", false, "Trim each batch before combining (automatic above 60 minutes)")
	f.StringVar(&pullListOut, "list-out", "", "With --dry-run, write survivors to FILE (.txt or .csv)")
	f.IntVar(&pullDebugBounds, "debug-capinfos", 0, "Log parsed capture times for the first N files (with -v)")
	f.BoolVar(&pullSummary, "summary", false, "With --dry-run, print the packet time range across survivors")
	f.StringVar(&pullReport, "report", "", "Write a per-file report (.csv, .json, .yaml or .toml)")
	f.StringVar(&pullCache, "cache", "auto", "Metadata cache database path, or 'auto'")
	f.BoolVar(&pullNoCache, "no-cache", false, "Disable the metadata cache")
	f.BoolVar(&pullClearCache, "clear-cache", false, "Clear the metadata cache before running")

	rootCmd.AddCommand(pullCmd)
}

// setting returns the flag value when it was set, else the configured value
// when non-zero, else the fallback.
func setting(cmd *cobra.Command, name string, flagValue, configured, fallback int) int {
	if cmd.Flags().Changed(name) {
		return flagValue
	}
	if configured != 0 {
		return configured
	}
	return fallback
}

func stringSetting(cmd *cobra.Command, name, flagValue, configured string) string {
	if cmd.Flags().Changed(name) || configured == "" {
		return flagValue
	}
	return configured
}

func pullWindow(cmd *cobra.Command) (window.Window, error) {
	if pullStart == "" {
		return window.Window{}, errors.Argument("--start is required")
	}
	hasMinutes := cmd.Flags().Changed("minutes")
	if hasMinutes == (pullEnd != "") {
		return window.Window{}, errors.Argument("exactly one of --minutes or --end is required")
	}
	if hasMinutes && (pullMinutes < 1 || pullMinutes > window.MaxMinutes) {
		return window.Window{}, errors.Argument("--minutes must be between 1 and %d", window.MaxMinutes)
	}
	return window.Resolve(pullStart, pullMinutes, pullEnd)
}

func runPull(cmd *cobra.Command, _ []string) error {
	if len(pullRoots) == 0 {
		return errors.Argument("at least one --root is required")
	}
	w, err := pullWindow(cmd)
	if err != nil {
		return err
	}

	rec := profile.For(w.Duration())
	format, err := pipeline.ParseFormat(stringSetting(cmd, "out-format", pullOutFormat, cfg.OutFormat))
	if err != nil {
		return err
	}
	slop := setting(cmd, "slop-min", pullSlop, cfg.SlopMinutes, rec.SlopMinutes)

	roots := make([]string, len(pullRoots))
	for i, r := range pullRoots {
		roots[i] = paths.Expand(r)
	}
	req := puller.Request{
		Roots:         roots,
		Window:        w,
		Slop:          time.Duration(slop) * time.Minute,
		Workers:       stringSetting(cmd, "workers", pullWorkers, cfg.Workers),
		Precise:       pullPrecise,
		DebugN:        pullDebugBounds,
		DryRun:        pullDryRun,
		ListOut:       pullListOut,
		ReportOut:     pullReport,
		Summary:       pullSummary,
		TempParent:    stringSetting(cmd, "tmpdir", pullTmpDir, cfg.TmpDir),
		BatchSize:     setting(cmd, "batch-size", pullBatchSize, cfg.BatchSize, rec.BatchSize),
		Format:        format,
		ContentFilter: pullDisplayFilter,
		Compress:      pullGzip,
		TrimPerBatch:  pullTrimPerBatch || rec.TrimPerBatch,
	}
	if pullOut != "" {
		req.Destination = paths.Expand(pullOut)
	}
	if req.TempParent != "" {
		req.TempParent = paths.Expand(req.TempParent)
	}
	logger.Debug("pull settings", "window", w.String(), "batchSize", req.BatchSize,
		"slopMinutes", slop, "trimPerBatch", req.TrimPerBatch, "format", format.String())

	tc := tools.New(tools.NewExecRunner(cfg.Tools.Timeout), toolNames(), logger.With("component", "tools"))

	cache, closeCache := openPullCache()
	defer closeCache()

	printer := newProgressPrinter(os.Stderr, quietFlag)
	req.Progress = printer.Report

	res, err := puller.New(tc, cache, logger).Run(cmd.Context(), req)
	printer.Done()
	if err != nil {
		return err
	}

	printPullResult(cmd.OutOrStdout(), req, res)
	return nil
}

func toolNames() tools.Names {
	return tools.Names{
		Mergecap: cfg.Tools.Mergecap,
		Editcap:  cfg.Tools.Editcap,
		Capinfos: cfg.Tools.Capinfos,
		Tshark:   cfg.Tools.Tshark,
	}
}

// openPullCache opens the metadata cache unless disabled. A cache that cannot
// be opened is skipped with a warning.
func openPullCache() (bounds.Cache, func()) {
	noop := func() {}
	if pullNoCache || !cfg.Cache.Enabled {
		return nil, noop
	}

	path, err := pullCachePath()
	if err != nil {
		logger.Warn("metadata cache disabled", "error", err.Error())
		return nil, noop
	}
	cache, err := storage.OpenBoundsCache(path, storage.CacheOptions{NegativeTTL: cfg.Cache.NegativeTTL},
		logger.With("component", "cache"))
	if err != nil {
		logger.Warn("metadata cache unavailable, continuing without it", "path", path, "error", err.Error())
		return nil, noop
	}
	if pullClearCache {
		if err := cache.Clear(); err != nil {
			logger.Warn("failed to clear metadata cache", "error", err.Error())
		}
	}

	return cache, func() {
		if n, err := cache.ExpireOlderThan(cfg.Cache.MaxAge); err != nil {
			logger.Warn("failed to expire cache entries", "error", err.Error())
		} else if n > 0 {
			logger.Debug("expired cache entries", "count", n)
		}
		if err := cache.Close(); err != nil {
			logger.Warn("failed to close metadata cache", "error", err.Error())
		}
	}
}

func pullCachePath() (string, error) {
	if pullCache != "" && !strings.EqualFold(pullCache, "auto") {
		return paths.Expand(pullCache), nil
	}
	return cfg.CachePath()
}

func printPullResult(out io.Writer, req puller.Request, res puller.Result) {
	if req.DryRun {
		fmt.Fprintln(out, "Dry run:")
		fmt.Fprintf(out, "  Found by mtime prefilter: %d\n", res.Scanned)
		if req.Precise {
			fmt.Fprintf(out, "  Survived precise filter:  %d\n", len(res.Survivors))
		} else {
			fmt.Fprintf(out, "  Survivors (mtime-only):   %d\n", len(res.Survivors))
		}
		if res.ListPath != "" {
			fmt.Fprintf(out, "  Wrote list to: %s\n", res.ListPath)
		}
		if res.ReportPath != "" {
			fmt.Fprintf(out, "  Wrote report to: %s\n", res.ReportPath)
		}
		if res.Summary != nil {
			fmt.Fprintf(out, "  Packet time range across survivors (UTC): %s .. %s\n",
				res.Summary.FirstTime().Format(report.UTCLayout),
				res.Summary.LastTime().Format(report.UTCLayout))
		}
		return
	}

	if res.ReportPath != "" {
		fmt.Fprintf(out, "Wrote report to: %s\n", res.ReportPath)
	}
	if res.Output == nil {
		fmt.Fprintln(os.Stderr, "No target capture files found after filtering.")
		return
	}
	fmt.Fprintf(out, "Done. Wrote: %s (%s, %d files in %d batches)\n",
		res.Output.Path, humanize.Bytes(uint64(res.Output.Bytes)), len(res.Survivors), res.Output.Batches)
	fmt.Fprintf(out, "  blake2b-256: %s\n", res.Output.Digest)
}
