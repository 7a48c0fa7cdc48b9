// Package bounds models the content-time span of a capture file and fetches
// it through the metadata cache and the external bounds tool.
package bounds

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"pcappuller/internal/slogutil"
	"pcappuller/internal/window"
)

// Bounds is the earliest and latest packet timestamp in a file, as UTC epoch seconds.
type Bounds struct {
	First float64 `json:"first"`
	Last  float64 `json:"last"`
}

// Overlaps reports whether [First, Last] and the window intersect. Touching
// either edge counts as overlap.
func (b Bounds) Overlaps(w window.Window) bool {
	return !(b.Last < w.StartEpoch() || b.First > w.EndEpoch())
}

// FirstTime returns First as a UTC time.
func (b Bounds) FirstTime() time.Time { return EpochTime(b.First) }

// LastTime returns Last as a UTC time.
func (b Bounds) LastTime() time.Time { return EpochTime(b.Last) }

// EpochTime converts epoch seconds to a UTC time with microsecond precision.
func EpochTime(sec float64) time.Time {
	us := int64(sec*1e6 + 0.5)
	if sec < 0 {
		us = int64(sec*1e6 - 0.5)
	}
	return time.UnixMicro(us).UTC()
}

// Lookup is a cache hit. A nil Bounds records that the file is known to be
// unresolvable.
type Lookup struct {
	Bounds *Bounds
}

// Source produces bounds for a file, normally by running the bounds tool.
// ok is false when the file's bounds cannot be determined.
type Source interface {
	Bounds(ctx context.Context, path string) (b Bounds, ok bool, err error)
}

// Version identifies one state of a file by size and modification time.
type Version struct {
	Size    int64
	ModTime time.Time
}

// StatVersion returns the current version of path.
func StatVersion(path string) (Version, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Version{}, err
	}
	return VersionOf(info), nil
}

// VersionOf returns the version described by info.
func VersionOf(info fs.FileInfo) Version {
	return Version{Size: info.Size(), ModTime: info.ModTime()}
}

// Matches reports whether info describes the same version of the file.
func (v Version) Matches(info fs.FileInfo) bool {
	return v.Size == info.Size() && v.ModTime.Equal(info.ModTime())
}

// Cache stores bounds keyed by path. Implementations validate entries against
// the file's current state and degrade every failure to a miss or no-op.
type Cache interface {
	Get(path string) (Lookup, bool)
	// Set records b for path as computed from version v. The write must be
	// dropped when the file no longer matches v.
	Set(path string, v Version, b *Bounds)
}

// Fetcher resolves bounds, consulting the cache before the source.
type Fetcher struct {
	source Source
	cache  Cache
	logger *slog.Logger
}

// NewFetcher creates a fetcher. cache may be nil.
func NewFetcher(source Source, cache Cache, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	return &Fetcher{source: source, cache: cache, logger: logger}
}

// Fetch returns the bounds of path. A valid cache hit, positive or negative,
// never invokes the source. Every source result, including unresolved ones,
// is written back to the cache against the file version seen before the
// source ran. Source errors are treated as unresolved and
// not cached.
func (f *Fetcher) Fetch(ctx context.Context, path string) (Bounds, bool) {
	if f.cache != nil {
		if hit, ok := f.cache.Get(path); ok {
			if hit.Bounds == nil {
				return Bounds{}, false
			}
			return *hit.Bounds, true
		}
	}

	// Taken before the source runs so bounds read from a file that is still being
	// written are never stored against its newer size and mtime. A failed
	// stat leaves the zero Version, which matches no existing file.
	var v Version
	if f.cache != nil {
		v, _ = StatVersion(path)
	}

	b, ok, err := f.source.Bounds(ctx, path)
	if err != nil {
		f.logger.Debug("bounds lookup failed", "path", path, "error", err.Error())
		return Bounds{}, false
	}

	if f.cache != nil {
		if ok {
			f.cache.Set(path, v, &b)
		} else {
			f.cache.Set(path, v, nil)
		}
	}
	return b, ok
}
