package testutil

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// updateGolden controls whether golden files should be updated.
// Use: go test ./... -run TestGolden -update
var updateGolden = flag.Bool("update", false, "update golden files")

// ShouldUpdate returns true if golden files should be updated.
func ShouldUpdate() bool {
	return *updateGolden
}

// CompareGolden compares got against the file at goldenPath, failing with a
// diff on mismatch. With -update the golden file is rewritten instead.
func CompareGolden(t *testing.T, goldenPath string, got []byte) {
	t.Helper()

	if *updateGolden {
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
			t.Fatalf("Failed to create golden directory: %v", err)
		}
		if err := os.WriteFile(goldenPath, got, 0o644); err != nil {
			t.Fatalf("Failed to write golden file: %v", err)
		}
		t.Logf("Updated golden: %s", goldenPath)
		return
	}

	expected, err := os.ReadFile(goldenPath)
	if err != nil {
		if os.IsNotExist(err) {
			t.Fatalf("Golden file missing: %s\n\nGot:\n%s\n\nRun with -update to create:\n  go test ./... -run %s -update",
				goldenPath, string(got), t.Name())
		}
		t.Fatalf("Failed to read golden file: %v", err)
	}

	// Golden files may be checked out with CRLF line endings.
	expected = bytes.ReplaceAll(expected, []byte("\r\n"), []byte("\n"))
	if !bytes.Equal(got, expected) {
		diff := unifiedDiff(string(expected), string(got), goldenPath)
		t.Fatalf("Golden mismatch for %s:\n%s\n\nRun with -update to refresh:\n  go test ./... -run %s -update",
			goldenPath, diff, t.Name())
	}
}

// unifiedDiff produces a simple line-by-line diff between two strings.
func unifiedDiff(expected, got, path string) string {
	var buf bytes.Buffer

	expectedLines := strings.Split(expected, "\n")
	gotLines := strings.Split(got, "\n")

	fmt.Fprintf(&buf, "--- %s (expected)\n", path)
	fmt.Fprintf(&buf, "+++ %s (got)\n", path)

	// Simple line-by-line diff
	maxLines := len(expectedLines)
	if len(gotLines) > maxLines {
		maxLines = len(gotLines)
	}

	inHunk := false
	hunkStart := 0
	var hunkLines []string

	flushHunk := func() {
		if len(hunkLines) > 0 {
			fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n", hunkStart+1, len(hunkLines), hunkStart+1, len(hunkLines))
			for _, line := range hunkLines {
				buf.WriteString(line)
				buf.WriteString("\n")
			}
			hunkLines = nil
		}
	}

	for i := 0; i < maxLines; i++ {
		var expLine, gotLine string
		if i < len(expectedLines) {
			expLine = expectedLines[i]
		}
		if i < len(gotLines) {
			gotLine = gotLines[i]
		}

		if expLine == gotLine {
			if inHunk {
				// Context line in hunk
				hunkLines = append(hunkLines, " "+expLine)
				if len(hunkLines) > 6 {
					flushHunk()
					inHunk = false
				}
			}
		} else {
			if !inHunk {
				inHunk = true
				hunkStart = i
				// Add context before
				for j := max(0, i-3); j < i; j++ {
					if j < len(expectedLines) {
						hunkLines = append(hunkLines, " "+expectedLines[j])
					}
				}
			}

			if i < len(expectedLines) && expLine != "" {
				hunkLines = append(hunkLines, "-"+expLine)
			}
			if i < len(gotLines) && gotLine != "" {
				hunkLines = append(hunkLines, "+"+gotLine)
			}
		}
	}

	flushHunk()

	return buf.String()
}
