// Package pipeline reduces a set of capture files to one time-bounded artifact:
// batch merge, combine, trim, optional content filter, then publish.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"pcappuller/internal/errors"
	"pcappuller/internal/paths"
	"pcappuller/internal/progress"
	"pcappuller/internal/slogutil"
	"pcappuller/internal/window"
)

// Tools is the set of external tool operations the pipeline drives.
type Tools interface {
	Merge(ctx context.Context, out string, inputs []string) error
	Trim(ctx context.Context, src, dst string, start, end time.Time, format string) error
	Filter(ctx context.Context, src, dst, expr, format string) error
}

// Options configures a single Build.
type Options struct {
	Destination string
	// TempParent, when set, hosts the workspace directory instead of the
	// system temporary directory.
	TempParent    string
	BatchSize     int
	Format        Format
	ContentFilter string
	Compress      bool
	// TrimPerBatch trims every batch to the window before combining.
	TrimPerBatch bool
	Progress     progress.Func
}

// Result describes the published artifact.
type Result struct {
	Path    string
	Bytes   int64
	Digest  string
	Batches int
}

// Builder runs the merge pipeline.
type Builder struct {
	tools  Tools
	logger *slog.Logger
}

// NewBuilder creates a builder.
func NewBuilder(tools Tools, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	return &Builder{tools: tools, logger: logger}
}

// Build merges candidates into opts.Destination. Stages run strictly in
// sequence. The destination is written only after every stage succeeds, and
// the workspace is removed on every return path.
func (b *Builder) Build(ctx context.Context, candidates []string, w window.Window, opts Options) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, errors.Argument("no capture files to merge")
	}
	if opts.Destination == "" {
		return Result{}, errors.Argument("destination path is required")
	}
	batches, err := Partition(candidates, opts.BatchSize)
	if err != nil {
		return Result{}, err
	}

	tempConfigured := opts.TempParent != ""
	workspace, err := os.MkdirTemp(opts.TempParent, "pcappuller-*")
	if err != nil {
		return Result{}, errors.Filesystem("create temporary workspace", err, tempConfigured)
	}
	defer func() {
		if rmErr := os.RemoveAll(workspace); rmErr != nil {
			b.logger.Warn("failed to remove workspace", "dir", workspace, "error", rmErr.Error())
		}
	}()

	r := &run{
		Builder:   b,
		ctx:       ctx,
		w:         w,
		opts:      opts,
		workspace: workspace,
	}

	merged, err := r.mergeBatches(batches)
	if err != nil {
		return Result{}, err
	}

	trimmed := r.artifact("trimmed" + opts.Format.Extension())
	if err := r.step("trim", func() error {
		return b.tools.Trim(ctx, merged, trimmed, w.Start, w.End, opts.Format.String())
	}); err != nil {
		return Result{}, err
	}
	opts.Progress.Report(progress.Trim, 1, 1)
	final := trimmed

	if opts.ContentFilter != "" {
		filtered := r.artifact("final" + opts.Format.Extension())
		if err := r.step("content filter", func() error {
			return b.tools.Filter(ctx, trimmed, filtered, opts.ContentFilter, opts.Format.String())
		}); err != nil {
			return Result{}, err
		}
		opts.Progress.Report(progress.ContentFilter, 1, 1)
		final = filtered
	}

	if err := ctx.Err(); err != nil {
		return Result{}, errors.Canceled("publish", err)
	}
	dest := opts.Destination
	if opts.Compress {
		dest = paths.WithExtension(dest, ".gz")
	}
	res, err := publish(final, dest, opts.Compress)
	if err != nil {
		return Result{}, err
	}
	if opts.Compress {
		opts.Progress.Report(progress.Compress, 1, 1)
	}
	res.Batches = len(batches)

	b.logger.Info("published capture", "path", res.Path, "bytes", res.Bytes, "batches", res.Batches)
	return res, nil
}

// run holds the state of one Build.
type run struct {
	*Builder
	ctx       context.Context
	w         window.Window
	opts      Options
	workspace string
}

func (r *run) artifact(name string) string {
	return filepath.Join(r.workspace, name)
}

// step checks for cancellation, then runs one tool invocation.
func (r *run) step(stage string, fn func() error) error {
	if err := r.ctx.Err(); err != nil {
		return errors.Canceled(stage, err)
	}
	start := time.Now()
	if err := fn(); err != nil {
		return err
	}
	r.logger.Debug("stage complete", "stage", stage, "took", time.Since(start))
	return nil
}

// mergeBatches produces one artifact per batch, then combines them when there
// is more than one. It returns the combined artifact.
func (r *run) mergeBatches(batches [][]string) (string, error) {
	n := len(batches)
	r.opts.Progress.Report(progress.MergeBatches, 0, n)

	intermediates := make([]string, 0, n)
	for i, batch := range batches {
		out := r.artifact(fmt.Sprintf("batch_%05d.pcapng", i+1))
		if err := r.step("merge", func() error {
			return r.tools.Merge(r.ctx, out, batch)
		}); err != nil {
			return "", err
		}

		if r.opts.TrimPerBatch {
			trimmed := r.artifact(fmt.Sprintf("batch_%05d_trim.pcapng", i+1))
			if err := r.step("batch trim", func() error {
				return r.tools.Trim(r.ctx, out, trimmed, r.w.Start, r.w.End, PcapNG.String())
			}); err != nil {
				return "", err
			}
			if err := os.Remove(out); err != nil {
				r.logger.Debug("could not remove batch artifact", "path", out, "error", err.Error())
			}
			out = trimmed
		}

		intermediates = append(intermediates, out)
		r.opts.Progress.Report(progress.MergeBatches, i+1, n)
	}

	if n == 1 {
		return intermediates[0], nil
	}

	combined := r.artifact("merged_all.pcapng")
	if err := r.step("combine", func() error {
		return r.tools.Merge(r.ctx, combined, intermediates)
	}); err != nil {
		return "", err
	}
	r.opts.Progress.Report(progress.Combine, 1, 1)
	return combined, nil
}
