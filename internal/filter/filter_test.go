package filter

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pcappuller/internal/bounds"
	"pcappuller/internal/errors"
	"pcappuller/internal/scan"
	"pcappuller/internal/slogutil"
	"pcappuller/internal/window"
)

// mapSource answers from a fixed table; absent paths are unresolved.
type mapSource struct {
	table map[string]bounds.Bounds
	calls atomic.Int32
	onRun func(n int32)
}

func (s *mapSource) Bounds(_ context.Context, path string) (bounds.Bounds, bool, error) {
	n := s.calls.Add(1)
	if s.onRun != nil {
		s.onRun(n)
	}
	b, ok := s.table[path]
	return b, ok, nil
}

func testWindow(t *testing.T) window.Window {
	t.Helper()
	w, err := window.New(
		time.Date(2025, 1, 1, 10, 0, 0, 0, time.Local),
		time.Date(2025, 1, 1, 10, 15, 0, 0, time.Local),
	)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func candidates(paths ...string) []scan.Candidate {
	out := make([]scan.Candidate, len(paths))
	for i, p := range paths {
		out[i] = scan.Candidate{Path: p}
	}
	return out
}

func TestPrecise_Overlap(t *testing.T) {
	w := testWindow(t)
	s, e := w.StartEpoch(), w.EndEpoch()

	src := &mapSource{table: map[string]bounds.Bounds{
		"touch_start": {First: s, Last: s},
		"touch_end":   {First: e, Last: e},
		"inside":      {First: s + 60, Last: s + 120},
		"spanning":    {First: s - 3600, Last: e + 3600},
		"before":      {First: s - 600, Last: s - 0.5},
		"after":       {First: e + 0.5, Last: e + 600},
	}}
	in := candidates("after", "before", "inside", "spanning", "touch_end", "touch_start", "unresolved")

	got, err := Precise(context.Background(), in, w, Options{
		Workers: 3,
		Fetcher: bounds.NewFetcher(src, nil, nil),
	})
	if err != nil {
		t.Fatalf("Precise() error = %v", err)
	}

	want := []string{"inside", "spanning", "touch_end", "touch_start"}
	paths := scan.Paths(got)
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Errorf("Precise() = %v, want %v", paths, want)
	}
}

func TestPrecise_ProgressMonotonic(t *testing.T) {
	w := testWindow(t)
	table := map[string]bounds.Bounds{}
	var paths []string
	for i := 0; i < 50; i++ {
		p := "f" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		paths = append(paths, p)
		table[p] = bounds.Bounds{First: w.StartEpoch(), Last: w.EndEpoch()}
	}

	var mu sync.Mutex
	var seen []int
	_, err := Precise(context.Background(), candidates(paths...), w, Options{
		Workers: 8,
		Fetcher: bounds.NewFetcher(&mapSource{table: table}, nil, nil),
		Progress: func(phase string, completed, total int) {
			if phase != "precise" || total != 50 {
				t.Errorf("progress(%q, %d, %d)", phase, completed, total)
			}
			mu.Lock()
			seen = append(seen, completed)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Precise() error = %v", err)
	}

	if len(seen) != 50 {
		t.Fatalf("progress calls = %d, want 50", len(seen))
	}
	for i, c := range seen {
		if c != i+1 {
			t.Fatalf("progress[%d] = %d, want %d", i, c, i+1)
		}
	}
}

func TestPrecise_Cancelled(t *testing.T) {
	w := testWindow(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table := map[string]bounds.Bounds{}
	var paths []string
	for _, p := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		paths = append(paths, p)
		table[p] = bounds.Bounds{First: w.StartEpoch(), Last: w.EndEpoch()}
	}
	src := &mapSource{table: table, onRun: func(n int32) {
		if n == 3 {
			cancel()
		}
	}}

	got, err := Precise(ctx, candidates(paths...), w, Options{
		Workers: 1,
		Fetcher: bounds.NewFetcher(src, nil, nil),
	})
	if !errors.HasCode(err, errors.Cancelled) {
		t.Fatalf("Precise() error = %v, want CANCELLED", err)
	}
	if got != nil {
		t.Errorf("Precise() survivors = %v, want none", got)
	}
	if n := src.calls.Load(); n >= int32(len(paths)) {
		t.Errorf("source calls = %d, want dispatch to stop after cancellation", n)
	}
}

func TestPrecise_Empty(t *testing.T) {
	got, err := Precise(context.Background(), nil, testWindow(t), Options{})
	if err != nil || got != nil {
		t.Errorf("Precise(nil) = %v, %v; want nil, nil", got, err)
	}
}

func TestPrecise_DebugLogsFirstN(t *testing.T) {
	w := testWindow(t)
	src := &mapSource{table: map[string]bounds.Bounds{
		"/data/a.pcap": {First: 1735725600, Last: 1735725600.25},
	}}
	var buf bytes.Buffer
	logger := slogutil.NewLogger(&buf, slogutil.LevelFromString("debug"))

	_, err := Precise(context.Background(), candidates("/data/a.pcap", "/data/b.pcap", "/data/c.pcap"), w, Options{
		Workers: 1,
		Fetcher: bounds.NewFetcher(src, nil, nil),
		DebugN:  2,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("Precise() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "file=a.pcap first=2025-01-01 10:00:00.000000Z last=2025-01-01 10:00:00.250000Z") {
		t.Errorf("missing resolved debug line:\n%s", out)
	}
	if !strings.Contains(out, "could not parse capture times | file=b.pcap") {
		t.Errorf("missing unresolved debug line:\n%s", out)
	}
	if strings.Contains(out, "c.pcap") {
		t.Errorf("debug output beyond DebugN:\n%s", out)
	}
}
