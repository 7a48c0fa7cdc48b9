// Package testutil provides capture-file fixtures and a tool double for tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// CaptureTree is a temporary directory of synthetic capture files. Each file
// records its own packet-time bounds so FakeRunner can answer bounds queries.
type CaptureTree struct {
	Root string
	t    *testing.T
}

// NewCaptureTree creates an empty tree under t.TempDir().
func NewCaptureTree(t *testing.T) *CaptureTree {
	t.Helper()
	return &CaptureTree{Root: t.TempDir(), t: t}
}

// Add writes a capture at rel (slash-separated) with the given mtime and
// packet-time bounds in UTC epoch seconds.
func (c *CaptureTree) Add(rel string, mtime time.Time, first, last float64) string {
	c.t.Helper()
	return c.write(rel, mtime, fmt.Sprintf("first=%s\nlast=%s\n", formatEpoch(first), formatEpoch(last)))
}

// AddUnresolvable writes a capture whose bounds the fake tool cannot report.
func (c *CaptureTree) AddUnresolvable(rel string, mtime time.Time) string {
	c.t.Helper()
	return c.write(rel, mtime, "corrupt\n")
}

// AddRaw writes arbitrary content, for non-capture files.
func (c *CaptureTree) AddRaw(rel string, mtime time.Time, content string) string {
	c.t.Helper()
	return c.write(rel, mtime, content)
}

func (c *CaptureTree) write(rel string, mtime time.Time, content string) string {
	c.t.Helper()
	p := filepath.Join(c.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		c.t.Fatalf("mkdir %s: %v", filepath.Dir(p), err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		c.t.Fatalf("write %s: %v", p, err)
	}
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		c.t.Fatalf("chtimes %s: %v", p, err)
	}
	return p
}

// Touch sets a file's mtime.
func (c *CaptureTree) Touch(path string, mtime time.Time) {
	c.t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		c.t.Fatalf("chtimes %s: %v", path, err)
	}
}

func formatEpoch(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// readBounds parses a fixture written by Add.
func readBounds(path string) (first, last float64, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, false
	}
	var haveFirst, haveLast bool
	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		switch key {
		case "first":
			if !haveFirst {
				first, haveFirst = v, true
			}
		case "last":
			last, haveLast = v, true
		}
	}
	return first, last, haveFirst && haveLast
}
