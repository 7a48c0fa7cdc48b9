// Package puller drives one selection run:
// scan, optional precise filter, then either a dry-run report or the merge pipeline.
package puller

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pcappuller/internal/bounds"
	"pcappuller/internal/errors"
	"pcappuller/internal/filter"
	"pcappuller/internal/pipeline"
	"pcappuller/internal/progress"
	"pcappuller/internal/report"
	"pcappuller/internal/scan"
	"pcappuller/internal/slogutil"
	"pcappuller/internal/tools"
	"pcappuller/internal/window"
	"pcappuller/internal/workers"
)

// Request describes one run.
type Request struct {
	Roots  []string
	Window window.Window
	Slop   time.Duration

	// Workers is "auto" or an integer; it is resolved once the candidate
	// count is known.
	Workers string
	Precise bool
	DebugN  int

	DryRun    bool
	ListOut   string
	ReportOut string
	Summary   bool

	Destination   string
	TempParent    string
	BatchSize     int
	Format        pipeline.Format
	ContentFilter string
	Compress      bool
	TrimPerBatch  bool

	Progress progress.Func
}

// Result reports what a run did. Output is nil when nothing was published.
type Result struct {
	RunID      string
	Scanned    int
	Survivors  []string
	Workers    int
	Summary    *bounds.Bounds
	ListPath   string
	ReportPath string
	Output     *pipeline.Result
}

// Puller runs requests against a toolchain and an optional bounds cache.
type Puller struct {
	tools  *tools.Toolchain
	cache  bounds.Cache
	logger *slog.Logger
}

// New creates a Puller. cache and logger may be nil.
func New(tc *tools.Toolchain, cache bounds.Cache, logger *slog.Logger) *Puller {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	return &Puller{tools: tc, cache: cache, logger: logger}
}

func (r Request) validate() error {
	if len(r.Roots) == 0 {
		return errors.Argument("at least one --root is required")
	}
	if !r.DryRun && r.Destination == "" {
		return errors.Argument("--out is required unless --dry-run is set")
	}
	if !r.DryRun && r.BatchSize < 1 {
		return errors.Argument("batch size must be >= 1, got %d", r.BatchSize)
	}
	if r.Slop < 0 {
		return errors.Argument("slop must not be negative")
	}
	if _, err := workers.Resolve(r.Workers, 0); err != nil {
		return err
	}
	return nil
}

// needsBounds reports whether the run invokes the bounds tool.
func (r Request) needsBounds() bool {
	return r.Precise || r.ReportOut != "" || (r.DryRun && r.Summary)
}

// Run executes req. Required tools are checked before any filesystem work.
func (p *Puller) Run(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	if err := p.tools.Ensure(tools.Requirements{
		Bounds:        req.needsBounds(),
		ContentFilter: req.ContentFilter != "",
	}); err != nil {
		return Result{}, err
	}

	res := Result{RunID: uuid.NewString()}
	logger := p.logger.With("run", res.RunID)
	logger.Info("run started", "window", req.Window.String(), "roots", len(req.Roots), "dryRun", req.DryRun)

	candidates, err := scan.Candidates(ctx, req.Roots, req.Window, req.Slop)
	if err != nil {
		return res, err
	}
	res.Scanned = len(candidates)

	res.Workers, err = workers.Resolve(req.Workers, len(candidates))
	if err != nil {
		return res, err
	}
	logger.Info("prefilter complete", "candidates", res.Scanned, "workers", res.Workers)

	fetcher := bounds.NewFetcher(p.tools, p.cache, logger.With("component", "bounds"))

	if req.Precise && len(candidates) > 0 {
		candidates, err = filter.Precise(ctx, candidates, req.Window, filter.Options{
			Workers:  res.Workers,
			Fetcher:  fetcher,
			Progress: req.Progress,
			DebugN:   req.DebugN,
			Logger:   logger.With("component", "filter"),
		})
		if err != nil {
			return res, err
		}
		logger.Info("precise filter complete", "survivors", len(candidates))
	}
	res.Survivors = scan.Paths(candidates)

	if req.DryRun {
		return p.dryRun(ctx, req, res, fetcher)
	}

	if len(res.Survivors) == 0 {
		logger.Warn("no capture files found after filtering")
		return res, nil
	}

	if req.ReportOut != "" {
		if err := p.writeReport(ctx, req, &res, fetcher); err != nil {
			return res, err
		}
	}

	builder := pipeline.NewBuilder(p.tools, logger.With("component", "pipeline"))
	out, err := builder.Build(ctx, res.Survivors, req.Window, pipeline.Options{
		Destination:   req.Destination,
		TempParent:    req.TempParent,
		BatchSize:     req.BatchSize,
		Format:        req.Format,
		ContentFilter: req.ContentFilter,
		Compress:      req.Compress,
		TrimPerBatch:  req.TrimPerBatch,
		Progress:      req.Progress,
	})
	if err != nil {
		return res, err
	}
	res.Output = &out
	logger.Info("run complete", "output", out.Path, "digest", out.Digest)
	return res, nil
}

func (p *Puller) dryRun(ctx context.Context, req Request, res Result, fetcher *bounds.Fetcher) (Result, error) {
	if req.ListOut != "" {
		if err := report.WriteList(req.ListOut, res.Survivors); err != nil {
			return res, err
		}
		res.ListPath = req.ListOut
	}
	if len(res.Survivors) == 0 {
		return res, nil
	}
	if req.ReportOut != "" {
		if err := p.writeReport(ctx, req, &res, fetcher); err != nil {
			return res, err
		}
	}
	if req.Summary {
		span, ok, err := report.Summarize(ctx, res.Survivors, workers.Half(res.Workers), fetcher)
		if err != nil {
			return res, err
		}
		if ok {
			res.Summary = &span
		}
	}
	return res, nil
}

func (p *Puller) writeReport(ctx context.Context, req Request, res *Result, fetcher *bounds.Fetcher) error {
	records, err := report.Collect(ctx, res.Survivors, workers.Half(res.Workers), fetcher)
	if err != nil {
		return err
	}
	meta := report.Meta{RunID: res.RunID, Generated: time.Now()}
	if err := report.WriteRecords(req.ReportOut, meta, records); err != nil {
		return err
	}
	res.ReportPath = req.ReportOut
	return nil
}
