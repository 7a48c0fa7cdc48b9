package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"pcappuller/internal/bounds"
	"pcappuller/internal/slogutil"
)

// DefaultNegativeTTL is how long an unresolvable-file entry is trusted.
const DefaultNegativeTTL = 24 * time.Hour

// BoundsCache maps file paths to bounds, valid while the file's size and
// modification time are unchanged. It implements bounds.Cache; lookups and
// writes never fail, they degrade to a miss or a logged no-op.
type BoundsCache struct {
	db          *DB
	logger      *slog.Logger
	negativeTTL time.Duration
	now         func() time.Time
}

// CacheOptions configures a BoundsCache.
type CacheOptions struct {
	// NegativeTTL bounds how long unresolvable results are reused.
	// Zero disables negative caching.
	NegativeTTL time.Duration
}

// OpenBoundsCache opens the cache database at path.
func OpenBoundsCache(path string, opts CacheOptions, logger *slog.Logger) (*BoundsCache, error) {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	db, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	return NewBoundsCache(db, opts, logger), nil
}

// NewBoundsCache wraps an open database.
func NewBoundsCache(db *DB, opts CacheOptions, logger *slog.Logger) *BoundsCache {
	if logger == nil {
		logger = slogutil.NewDiscardLogger()
	}
	return &BoundsCache{
		db:          db,
		logger:      logger,
		negativeTTL: opts.NegativeTTL,
		now:         time.Now,
	}
}

// Path returns the database file path.
func (c *BoundsCache) Path() string {
	return c.db.Path()
}

// Get returns the cached bounds for path when the stored size and mtime match
// the file as it is now. An unreadable path is a miss.
func (c *BoundsCache) Get(path string) (bounds.Lookup, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return bounds.Lookup{}, false
	}

	var (
		size, mtimeNS, updatedAt int64
		first, last              sql.NullFloat64
	)
	err = c.db.QueryRow(`
		SELECT size, mtime_ns, first, last, updated_at
		FROM entries
		WHERE path = ?
	`, path).Scan(&size, &mtimeNS, &first, &last, &updatedAt)
	if err == sql.ErrNoRows {
		return bounds.Lookup{}, false
	}
	if err != nil {
		c.logger.Debug("cache lookup failed", "path", path, "error", err.Error())
		return bounds.Lookup{}, false
	}

	if size != info.Size() || mtimeNS != info.ModTime().UnixNano() {
		return bounds.Lookup{}, false
	}

	if !first.Valid || !last.Valid {
		if c.negativeExpired(updatedAt) {
			return bounds.Lookup{}, false
		}
		return bounds.Lookup{}, true
	}
	return bounds.Lookup{Bounds: &bounds.Bounds{First: first.Float64, Last: last.Float64}}, true
}

func (c *BoundsCache) negativeExpired(updatedAt int64) bool {
	if c.negativeTTL <= 0 {
		return true
	}
	return c.now().Sub(time.Unix(updatedAt, 0)) > c.negativeTTL
}

// Set records bounds for path as computed from version v. A nil b records
// that the file is unresolvable. The write is skipped when the file has
// changed since v was taken, so bounds read from an older state are never
// stored against the newer one.
func (c *BoundsCache) Set(path string, v bounds.Version, b *bounds.Bounds) {
	if b == nil && c.negativeTTL <= 0 {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if !v.Matches(info) {
		c.logger.Debug("file changed during bounds lookup, not cached", "path", path)
		return
	}

	var first, last sql.NullFloat64
	if b != nil {
		first = sql.NullFloat64{Float64: b.First, Valid: true}
		last = sql.NullFloat64{Float64: b.Last, Valid: true}
	}

	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO entries (path, size, mtime_ns, first, last, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, path, v.Size, v.ModTime.UnixNano(), first, last, c.now().Unix())
	if err != nil {
		c.logger.Debug("cache write failed", "path", path, "error", err.Error())
	}
}

// Clear removes every entry.
func (c *BoundsCache) Clear() error {
	if _, err := c.db.Exec("DELETE FROM entries"); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Close releases the database.
func (c *BoundsCache) Close() error {
	return c.db.Close()
}

// ExpireOlderThan deletes entries last written more than maxAge ago without
// touching the referenced files. A non-positive maxAge is a no-op.
func (c *BoundsCache) ExpireOlderThan(maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := c.now().Add(-maxAge).Unix()
	res, err := c.db.Exec("DELETE FROM entries WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire cache entries: %w", err)
	}
	return res.RowsAffected()
}

// PruneStats reports what Prune removed.
type PruneStats struct {
	Scanned int `json:"scanned"`
	Missing int `json:"missing"`
	Stale   int `json:"stale"`
	Expired int `json:"expired"`
}

// Removed is the total number of deleted entries.
func (s PruneStats) Removed() int {
	return s.Missing + s.Stale + s.Expired
}

// PruneOptions controls Prune.
type PruneOptions struct {
	// MaxAge removes entries written longer ago than this; zero keeps all ages.
	MaxAge time.Duration
}

type pruneRow struct {
	path      string
	size      int64
	mtimeNS   int64
	negative  bool
	updatedAt int64
}

// Prune deletes entries whose file no longer exists, whose file changed since
// the entry was written, whose negative result has expired, or that are older
// than opts.MaxAge. Files that cannot be stat'ed for other reasons are kept.
func (c *BoundsCache) Prune(ctx context.Context, opts PruneOptions) (PruneStats, error) {
	var stats PruneStats

	rows, err := c.db.Query(`SELECT path, size, mtime_ns, first IS NULL OR last IS NULL, updated_at FROM entries`)
	if err != nil {
		return stats, fmt.Errorf("failed to scan cache: %w", err)
	}
	var all []pruneRow
	for rows.Next() {
		var r pruneRow
		if err := rows.Scan(&r.path, &r.size, &r.mtimeNS, &r.negative, &r.updatedAt); err != nil {
			rows.Close()
			return stats, fmt.Errorf("failed to read cache row: %w", err)
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return stats, err
	}
	rows.Close()

	var cutoff int64
	if opts.MaxAge > 0 {
		cutoff = c.now().Add(-opts.MaxAge).Unix()
	}

	var doomed []string
	for _, r := range all {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Scanned++

		switch {
		case cutoff != 0 && r.updatedAt < cutoff:
			stats.Expired++
		case r.negative && c.negativeExpired(r.updatedAt):
			stats.Expired++
		default:
			info, err := os.Stat(r.path)
			if os.IsNotExist(err) {
				stats.Missing++
			} else if err != nil {
				continue
			} else if info.Size() != r.size || info.ModTime().UnixNano() != r.mtimeNS {
				stats.Stale++
			} else {
				continue
			}
		}
		doomed = append(doomed, r.path)
	}

	if len(doomed) == 0 {
		return stats, nil
	}

	err = c.db.WithTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare("DELETE FROM entries WHERE path = ?")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range doomed {
			if _, err := stmt.Exec(p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PruneStats{Scanned: stats.Scanned}, fmt.Errorf("failed to prune cache: %w", err)
	}

	c.logger.Debug("cache pruned",
		"scanned", stats.Scanned,
		"missing", stats.Missing,
		"stale", stats.Stale,
		"expired", stats.Expired,
	)
	return stats, nil
}

// Stats summarizes the cache contents.
type Stats struct {
	Path      string    `json:"path"`
	Entries   int       `json:"entries"`
	Negative  int       `json:"negative"`
	Oldest    time.Time `json:"oldest,omitempty"`
	Newest    time.Time `json:"newest,omitempty"`
	FileBytes int64     `json:"fileBytes"`
}

// Stats returns entry counts and age range.
func (c *BoundsCache) Stats() (Stats, error) {
	s := Stats{Path: c.db.Path()}

	var oldest, newest sql.NullInt64
	err := c.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN first IS NULL OR last IS NULL THEN 1 ELSE 0 END), 0),
		       MIN(updated_at),
		       MAX(updated_at)
		FROM entries
	`).Scan(&s.Entries, &s.Negative, &oldest, &newest)
	if err != nil {
		return s, fmt.Errorf("failed to read cache stats: %w", err)
	}
	if oldest.Valid {
		s.Oldest = time.Unix(oldest.Int64, 0)
	}
	if newest.Valid {
		s.Newest = time.Unix(newest.Int64, 0)
	}
	if info, err := os.Stat(c.db.Path()); err == nil {
		s.FileBytes = info.Size()
	}
	return s, nil
}
