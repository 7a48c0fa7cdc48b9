package bounds

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of fetching one path.
type Result struct {
	Path   string
	Bounds Bounds
	OK     bool
}

// Stream fetches bounds for paths on a pool of at most workers goroutines and
// delivers results in completion order. The channel is closed once every
// dispatched fetch has finished. After ctx is cancelled no new fetches are
// dispatched; fetches already running complete and are delivered.
//
// Callers must drain the channel.
func Stream(ctx context.Context, f *Fetcher, paths []string, workers int) <-chan Result {
	if workers < 1 {
		workers = 1
	}
	out := make(chan Result, workers)

	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(workers)
		for _, p := range paths {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				b, ok := f.Fetch(ctx, p)
				out <- Result{Path: p, Bounds: b, OK: ok}
				return nil
			})
		}
		_ = g.Wait()
	}()

	return out
}
