// Package report aggregates capture bounds without filtering or merging:
// a single time range across a set of files, or one record per file.
package report

import (
	"context"
	"os"
	"sort"
	"time"

	"pcappuller/internal/bounds"
	"pcappuller/internal/errors"
)

// Record is the reported metadata of one file. First and Last are nil when
// the file's bounds could not be determined.
type Record struct {
	Path    string
	Size    int64
	ModTime time.Time
	First   *float64
	Last    *float64
}

// Summarize returns (min first, max last) across every resolvable file.
// ok is false when no file resolved.
func Summarize(ctx context.Context, paths []string, workers int, f *bounds.Fetcher) (bounds.Bounds, bool, error) {
	var span bounds.Bounds
	found := false
	for r := range bounds.Stream(ctx, f, paths, workers) {
		if !r.OK {
			continue
		}
		if !found || r.Bounds.First < span.First {
			span.First = r.Bounds.First
		}
		if !found || r.Bounds.Last > span.Last {
			span.Last = r.Bounds.Last
		}
		found = true
	}
	if err := ctx.Err(); err != nil {
		return bounds.Bounds{}, false, errors.Canceled("summary", err)
	}
	return span, found, nil
}

// Collect returns one Record per file, sorted by path. Files that can no
// longer be stat'ed are left out.
func Collect(ctx context.Context, paths []string, workers int, f *bounds.Fetcher) ([]Record, error) {
	var records []Record
	for r := range bounds.Stream(ctx, f, paths, workers) {
		info, err := os.Stat(r.Path)
		if err != nil {
			continue
		}
		rec := Record{Path: r.Path, Size: info.Size(), ModTime: info.ModTime()}
		if r.OK {
			first, last := r.Bounds.First, r.Bounds.Last
			rec.First, rec.Last = &first, &last
		}
		records = append(records, rec)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Canceled("report", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}
