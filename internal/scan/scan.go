// Package scan finds capture files whose modification time falls near a window.
package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pcappuller/internal/errors"
	"pcappuller/internal/window"
)

// Extensions are the accepted capture-file extensions, matched case-insensitively.
var Extensions = []string{".pcap", ".pcapng", ".cap"}

// Candidate is a file that passed the modification-time prefilter.
type Candidate struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// IsCapture reports whether path has an accepted extension.
func IsCapture(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Candidates walks every root and returns capture files with
// Start-slop <= mtime <= End+slop. Directory symlinks below a root are not
// followed; entries that cannot be stat'ed are skipped. Paths keep the root
// as given, even when the root itself is a symlink. A file reached more than
// once (overlapping roots, links to the same file) is returned once, under
// the first path that reached it. Order is unspecified.
func Candidates(ctx context.Context, roots []string, w window.Window, slop time.Duration) ([]Candidate, error) {
	if len(roots) == 0 {
		return nil, errors.Argument("at least one root directory is required")
	}

	type walkRoot struct {
		given, real string
	}
	walks := make([]walkRoot, 0, len(roots))
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			return nil, errors.Argument("root is not a directory: %s", root)
		}
		// WalkDir does not descend into a symlinked root.
		real := root
		if r, err := filepath.EvalSymlinks(root); err == nil {
			real = r
		}
		walks = append(walks, walkRoot{given: root, real: real})
	}

	lo, hi := w.Expand(slop)
	seen := newSeenFiles()
	var out []Candidate

	for _, root := range walks {
		err := filepath.WalkDir(root.real, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				return nil
			}
			if d.IsDir() || !IsCapture(d.Name()) {
				return nil
			}

			// os.Stat follows file symlinks; links to directories are dropped.
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				return nil
			}
			mt := info.ModTime()
			if mt.Before(lo) || mt.After(hi) {
				return nil
			}
			if !seen.add(info) {
				return nil
			}
			out = append(out, Candidate{Path: underRoot(root.given, root.real, path), Size: info.Size(), ModTime: mt})
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Canceled("scan", err)
			}
			return nil, errors.Filesystem("scan "+root.given, err, true)
		}
	}
	return out, nil
}

// underRoot rebases path, found while walking real, onto the root as given.
func underRoot(given, real, path string) string {
	if given == real {
		return path
	}
	rel, err := filepath.Rel(real, path)
	if err != nil {
		return path
	}
	return filepath.Join(given, rel)
}

type fileKey struct {
	size  int64
	mtime int64
}

// seenFiles tracks files already returned. Files are bucketed by size and
// mtime and compared with os.SameFile within a bucket.
type seenFiles struct {
	buckets map[fileKey][]fs.FileInfo
}

func newSeenFiles() *seenFiles {
	return &seenFiles{buckets: make(map[fileKey][]fs.FileInfo)}
}

// add records info and reports whether the file had not been seen before.
func (s *seenFiles) add(info fs.FileInfo) bool {
	k := fileKey{size: info.Size(), mtime: info.ModTime().UnixNano()}
	for _, prev := range s.buckets[k] {
		if os.SameFile(prev, info) {
			return false
		}
	}
	s.buckets[k] = append(s.buckets[k], info)
	return true
}

// Paths returns the candidate paths in input order.
func Paths(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Path
	}
	return out
}
