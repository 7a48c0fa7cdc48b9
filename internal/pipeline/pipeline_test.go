package pipeline

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/blake2b"

	"pcappuller/internal/errors"
	"pcappuller/internal/testutil"
	"pcappuller/internal/tools"
	"pcappuller/internal/window"
)

type event struct {
	phase            string
	completed, total int
}

type fixture struct {
	runner    *testutil.FakeRunner
	builder   *Builder
	tempDir   string
	outDir    string
	inputs    []string
	w         window.Window
	events    []event
	recordFn  func(phase string, completed, total int)
	wantBytes []byte
}

func newFixture(t *testing.T, files int) *fixture {
	t.Helper()
	f := &fixture{
		runner:  testutil.NewFakeRunner(),
		tempDir: t.TempDir(),
		outDir:  t.TempDir(),
	}
	f.builder = NewBuilder(tools.New(f.runner, tools.DefaultNames(), nil), nil)

	inDir := t.TempDir()
	for i := 0; i < files; i++ {
		p := filepath.Join(inDir, fmt.Sprintf("cap_%04d.pcap", i))
		if err := os.WriteFile(p, []byte(fmt.Sprintf("packet-%04d\n", i)), 0o644); err != nil {
			t.Fatal(err)
		}
		f.inputs = append(f.inputs, p)
		f.wantBytes = append(f.wantBytes, []byte(fmt.Sprintf("packet-%04d\n", i))...)
	}

	w, err := window.New(
		time.Date(2025, 1, 1, 10, 0, 0, 0, time.Local),
		time.Date(2025, 1, 1, 10, 15, 0, 0, time.Local),
	)
	if err != nil {
		t.Fatal(err)
	}
	f.w = w
	f.recordFn = func(phase string, completed, total int) {
		f.events = append(f.events, event{phase, completed, total})
	}
	return f
}

func (f *fixture) options(dest string) Options {
	return Options{
		Destination: filepath.Join(f.outDir, dest),
		TempParent:  f.tempDir,
		BatchSize:   100,
		Format:      PcapNG,
		Progress:    f.recordFn,
	}
}

func assertWorkspaceRemoved(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp parent still holds %d entries; want workspace removed", len(entries))
	}
}

func TestBuild_ThreeBatches(t *testing.T) {
	f := newFixture(t, 237)

	// Reverse the input so the result depends on sorting, not scan order.
	shuffled := append([]string(nil), f.inputs...)
	for i, j := 0, len(shuffled)-1; i < j; i, j = i+1, j-1 {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	opts := f.options("out.pcapng")
	res, err := f.builder.Build(context.Background(), shuffled, f.w, opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if res.Path != opts.Destination {
		t.Errorf("Path = %q, want %q", res.Path, opts.Destination)
	}
	if res.Batches != 3 {
		t.Errorf("Batches = %d, want 3", res.Batches)
	}
	if got := len(f.runner.CallsTo("mergecap")); got != 4 {
		t.Errorf("mergecap calls = %d, want 3 batches + 1 combine", got)
	}
	if got := len(f.runner.CallsTo("editcap")); got != 1 {
		t.Errorf("editcap calls = %d, want 1", got)
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, f.wantBytes) {
		t.Error("published bytes are not the sorted concatenation of the inputs")
	}
	if res.Bytes != int64(len(data)) {
		t.Errorf("Bytes = %d, want %d", res.Bytes, len(data))
	}
	sum := blake2b.Sum256(data)
	if res.Digest != hex.EncodeToString(sum[:]) {
		t.Errorf("Digest = %s, want blake2b-256 of the output", res.Digest)
	}

	want := []event{
		{"merge-batches", 0, 3},
		{"merge-batches", 1, 3},
		{"merge-batches", 2, 3},
		{"merge-batches", 3, 3},
		{"combine", 1, 1},
		{"trim", 1, 1},
	}
	if !reflect.DeepEqual(f.events, want) {
		t.Errorf("progress = %v, want %v", f.events, want)
	}
	assertWorkspaceRemoved(t, f.tempDir)
}

func TestBuild_TrimArguments(t *testing.T) {
	f := newFixture(t, 2)
	opts := f.options("out.pcap")
	opts.Format = Pcap

	if _, err := f.builder.Build(context.Background(), f.inputs, f.w, opts); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	calls := f.runner.CallsTo("editcap")
	if len(calls) != 1 {
		t.Fatalf("editcap calls = %d, want 1", len(calls))
	}
	args := strings.Join(calls[0][1:], " ")
	for _, part := range []string{"-A 2025-01-01 10:00:00", "-B 2025-01-01 10:15:00", "-F pcap"} {
		if !strings.Contains(args, part) {
			t.Errorf("editcap args %q missing %q", args, part)
		}
	}
}

func TestBuild_SingleBatchSkipsCombine(t *testing.T) {
	f := newFixture(t, 5)

	res, err := f.builder.Build(context.Background(), f.inputs, f.w, f.options("out.pcapng"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if res.Batches != 1 {
		t.Errorf("Batches = %d, want 1", res.Batches)
	}
	if got := len(f.runner.CallsTo("mergecap")); got != 1 {
		t.Errorf("mergecap calls = %d, want 1", got)
	}
	for _, e := range f.events {
		if e.phase == "combine" {
			t.Error("combine reported for a single batch")
		}
	}
}

func TestBuild_NoCandidates(t *testing.T) {
	f := newFixture(t, 0)
	opts := f.options("out.pcapng")

	_, err := f.builder.Build(context.Background(), nil, f.w, opts)
	if !errors.HasCode(err, errors.InvalidArgument) {
		t.Fatalf("Build() error = %v, want INVALID_ARGUMENT", err)
	}
	if calls := f.runner.Calls(); len(calls) != 0 {
		t.Errorf("tool calls = %v, want none", calls)
	}
	assertWorkspaceRemoved(t, f.tempDir)
	if _, err := os.Stat(opts.Destination); !os.IsNotExist(err) {
		t.Errorf("destination exists after failed build")
	}
}

func TestBuild_ToolFailureLeavesDestinationUntouched(t *testing.T) {
	tests := []struct {
		name string
		tool string
		opts func(*Options)
	}{
		{"merge", "mergecap", nil},
		{"trim", "editcap", nil},
		{"content filter", "tshark", func(o *Options) { o.ContentFilter = "tcp.port == 443" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 3)
			f.runner.FailWith(tt.tool, 2)
			opts := f.options("out.pcapng")
			if tt.opts != nil {
				tt.opts(&opts)
			}

			_, err := f.builder.Build(context.Background(), f.inputs, f.w, opts)
			if !errors.HasCode(err, errors.ToolFailed) {
				t.Fatalf("Build() error = %v, want TOOL_FAILED", err)
			}
			if !strings.Contains(err.Error(), tt.tool) {
				t.Errorf("error %q does not name %s", err, tt.tool)
			}
			if _, err := os.Stat(opts.Destination); !os.IsNotExist(err) {
				t.Error("destination written after tool failure")
			}
			entries, _ := os.ReadDir(f.outDir)
			if len(entries) != 0 {
				t.Errorf("output dir has %d entries, want 0", len(entries))
			}
			assertWorkspaceRemoved(t, f.tempDir)
		})
	}
}

func TestBuild_Compress(t *testing.T) {
	for _, dest := range []string{"out.pcapng", "out.pcapng.gz", "out.pcapng.GZ"} {
		t.Run(dest, func(t *testing.T) {
			f := newFixture(t, 4)
			opts := f.options(dest)
			opts.Compress = true

			res, err := f.builder.Build(context.Background(), f.inputs, f.w, opts)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if !strings.HasSuffix(strings.ToLower(res.Path), ".gz") || strings.HasSuffix(strings.ToLower(res.Path), ".gz.gz") {
				t.Errorf("Path = %q, want a single .gz suffix", res.Path)
			}

			fh, err := os.Open(res.Path)
			if err != nil {
				t.Fatal(err)
			}
			defer fh.Close()
			zr, err := gzip.NewReader(fh)
			if err != nil {
				t.Fatalf("gzip.NewReader() error = %v", err)
			}
			got, err := io.ReadAll(zr)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, f.wantBytes) {
				t.Error("decompressed output differs from merged input")
			}
			if last := f.events[len(f.events)-1]; last.phase != "compress" {
				t.Errorf("last progress phase = %q, want compress", last.phase)
			}
		})
	}
}

func TestBuild_ContentFilter(t *testing.T) {
	f := newFixture(t, 2)
	opts := f.options("out.pcapng")
	opts.ContentFilter = "dns"

	if _, err := f.builder.Build(context.Background(), f.inputs, f.w, opts); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	calls := f.runner.CallsTo("tshark")
	if len(calls) != 1 {
		t.Fatalf("tshark calls = %d, want 1", len(calls))
	}
	if got := strings.Join(calls[0][1:], " "); !strings.Contains(got, "-Y dns") || !strings.Contains(got, "-F pcapng") {
		t.Errorf("tshark args = %q", got)
	}
	if last := f.events[len(f.events)-1]; last.phase != "content-filter" {
		t.Errorf("last progress phase = %q, want content-filter", last.phase)
	}
}

func TestBuild_TrimPerBatch(t *testing.T) {
	f := newFixture(t, 250)
	opts := f.options("out.pcapng")
	opts.TrimPerBatch = true

	res, err := f.builder.Build(context.Background(), f.inputs, f.w, opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := len(f.runner.CallsTo("editcap")); got != 4 {
		t.Errorf("editcap calls = %d, want 3 batch trims + 1 final", got)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, f.wantBytes) {
		t.Error("published bytes differ from merged input")
	}
}

func TestBuild_Cancelled(t *testing.T) {
	f := newFixture(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := f.options("out.pcapng")
	_, err := f.builder.Build(ctx, f.inputs, f.w, opts)
	if !errors.HasCode(err, errors.Cancelled) {
		t.Fatalf("Build() error = %v, want CANCELLED", err)
	}
	if calls := f.runner.Calls(); len(calls) != 0 {
		t.Errorf("tool calls after cancellation = %v", calls)
	}
	assertWorkspaceRemoved(t, f.tempDir)
}

func TestBuild_MissingTempParent(t *testing.T) {
	f := newFixture(t, 1)
	opts := f.options("out.pcapng")
	opts.TempParent = filepath.Join(f.tempDir, "does-not-exist")

	_, err := f.builder.Build(context.Background(), f.inputs, f.w, opts)
	if !errors.HasCode(err, errors.OSError) {
		t.Fatalf("Build() error = %v, want OS_ERROR", err)
	}
}

func TestPartition(t *testing.T) {
	paths := []string{"e", "a", "d", "b", "c"}

	got, err := Partition(paths, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"a", "b"}, {"c", "d"}, {"e"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Partition() = %v, want %v", got, want)
	}
	if paths[0] != "e" {
		t.Error("Partition() reordered its input")
	}

	for _, size := range []int{0, -1} {
		if _, err := Partition(paths, size); !errors.HasCode(err, errors.InvalidArgument) {
			t.Errorf("Partition(size=%d) error = %v, want INVALID_ARGUMENT", size, err)
		}
	}
}

func TestPartition_Deterministic(t *testing.T) {
	var paths []string
	for i := 0; i < 237; i++ {
		paths = append(paths, fmt.Sprintf("/data/s%d/f%03d.pcap", i%7, i))
	}
	first, err := Partition(paths, 100)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 5; i++ {
		rng.Shuffle(len(paths), func(a, b int) { paths[a], paths[b] = paths[b], paths[a] })
		again, _ := Partition(paths, 100)
		if !reflect.DeepEqual(first, again) {
			t.Fatal("Partition() depends on input order")
		}
	}
	if len(first) != 3 || len(first[2]) != 37 {
		t.Errorf("batch sizes = %d batches, last %d", len(first), len(first[len(first)-1]))
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		ext     string
		wantErr bool
	}{
		{"", PcapNG, ".pcapng", false},
		{"pcapng", PcapNG, ".pcapng", false},
		{"PCAP", Pcap, ".pcap", false},
		{"erf", PcapNG, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v", tt.in, err)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want || got.Extension() != tt.ext {
				t.Errorf("ParseFormat(%q) = %v (%s)", tt.in, got, got.Extension())
			}
		})
	}
}
