// Package filter implements the precise stage: candidates are kept only when
// their packet-time bounds overlap the requested window.
package filter

import (
	"context"
	"log/slog"
	"path/filepath"

	"pcappuller/internal/bounds"
	"pcappuller/internal/errors"
	"pcappuller/internal/progress"
	"pcappuller/internal/scan"
	"pcappuller/internal/slogutil"
	"pcappuller/internal/window"
)

const debugLayout = "2006-01-02 15:04:05.000000"

// Options configures Precise.
type Options struct {
	Workers  int
	Fetcher  *bounds.Fetcher
	Progress progress.Func
	// DebugN logs the parsed bounds of the first DebugN completed files.
	DebugN int
	Logger *slog.Logger
}

// Precise returns the candidates whose [first, last] overlaps w. Files with
// unresolvable bounds are dropped. Survivors keep their input order.
//
// Progress is reported once per completed file from a single goroutine.
// When ctx is cancelled, in-flight lookups finish, nothing further is
// dispatched, and a Cancelled error is returned.
func Precise(ctx context.Context, candidates []scan.Candidate, w window.Window, opts Options) ([]scan.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if opts.Fetcher == nil {
		return nil, errors.Argument("precise filter requires a bounds fetcher")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}

	total := len(candidates)
	keep := make(map[string]bool, total)
	shown := 0
	done := 0

	results := bounds.Stream(ctx, opts.Fetcher, scan.Paths(candidates), opts.Workers)
	for r := range results {
		if opts.DebugN > 0 && shown < opts.DebugN {
			logDebug(logger, r)
			shown++
		}
		if r.OK && r.Bounds.Overlaps(w) {
			keep[r.Path] = true
		}
		done++
		opts.Progress.Report(progress.Precise, done, total)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Canceled(progress.Precise, err)
	}

	kept := make([]scan.Candidate, 0, len(keep))
	for _, c := range candidates {
		if keep[c.Path] {
			kept = append(kept, c)
		}
	}
	logger.Debug("precise filter complete", "candidates", total, "kept", len(kept))
	return kept, nil
}

func logDebug(logger *slog.Logger, r bounds.Result) {
	name := filepath.Base(r.Path)
	if !r.OK {
		logger.Debug("could not parse capture times", "file", name)
		return
	}
	logger.Debug("capture times", "file", name,
		"first", r.Bounds.FirstTime().Format(debugLayout)+"Z",
		"last", r.Bounds.LastTime().Format(debugLayout)+"Z")
}
