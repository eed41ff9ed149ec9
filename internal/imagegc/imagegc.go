// Package imagegc sweeps an image directory for stray regular files
// that don't match the local-image naming pattern and removes them
// once a grace period has passed since a sweep first saw them. File
// modification times are not consulted.
//
// Staleness is tracked in a small sqlite database so the grace period
// survives process restarts: a file first observed at time T is only
// unlinked once T+grace has passed, never on first sight.
package imagegc

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nuxinl/scuba/internal/imagestore"
	"github.com/nuxinl/scuba/internal/sqlitemigrate"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Collector sweeps a single image directory.
type Collector struct {
	dir   string
	grace time.Duration
	db    *sql.DB
}

// Open opens (creating if absent) the sqlite bookkeeping database at
// dbPath and returns a Collector watching dir for stray entries older
// than grace.
func Open(dbPath, dir string, grace time.Duration) (*Collector, error) {
	db, err := sqlitemigrate.Open(dbPath, migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("imagegc: %w", err)
	}
	return &Collector{dir: dir, grace: grace, db: db}, nil
}

// Close releases the underlying database handle.
func (c *Collector) Close() error {
	return c.db.Close()
}

// Sweep scans the image directory once. Every regular file whose name
// does not match imagestore.NamePattern is recorded with its
// first-seen time (if new) and removed once at least grace has passed
// since that first-seen time. It returns the names actually removed.
func (c *Collector) Sweep(ctx context.Context, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("imagegc: read %s: %w", c.dir, err)
	}

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		if imagestore.IsLocalImage(e.Name()) || !e.Type().IsRegular() {
			continue
		}
		present[e.Name()] = true
		if err := c.observe(ctx, e.Name(), now); err != nil {
			return nil, err
		}
	}

	if err := c.forgetAbsent(ctx, present); err != nil {
		return nil, err
	}

	return c.unlinkStale(ctx, now)
}

func (c *Collector) observe(ctx context.Context, name string, now time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO stale_entries (name, first_seen_unix) VALUES (?, ?)
		 ON CONFLICT (name) DO NOTHING`,
		name, now.Unix())
	if err != nil {
		return fmt.Errorf("imagegc: record %q: %w", name, err)
	}
	return nil
}

func (c *Collector) forgetAbsent(ctx context.Context, present map[string]bool) error {
	tracked, err := c.trackedNames(ctx)
	if err != nil {
		return err
	}
	for _, name := range tracked {
		if present[name] {
			continue
		}
		if _, err := c.db.ExecContext(ctx, `DELETE FROM stale_entries WHERE name = ?`, name); err != nil {
			return fmt.Errorf("imagegc: forget %q: %w", name, err)
		}
	}
	return nil
}

func (c *Collector) trackedNames(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM stale_entries`)
	if err != nil {
		return nil, fmt.Errorf("imagegc: list tracked entries: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("imagegc: scan tracked entry: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (c *Collector) unlinkStale(ctx context.Context, now time.Time) ([]string, error) {
	cutoff := now.Add(-c.grace).Unix()
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM stale_entries WHERE first_seen_unix <= ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("imagegc: list stale entries: %w", err)
	}
	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("imagegc: scan stale entry: %w", err)
		}
		stale = append(stale, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("imagegc: list stale entries: %w", err)
	}
	rows.Close()

	var removed []string
	for _, name := range stale {
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("imagegc: remove %q: %w", name, err)
		}
		if _, err := c.db.ExecContext(ctx, `DELETE FROM stale_entries WHERE name = ?`, name); err != nil {
			return removed, fmt.Errorf("imagegc: untrack %q: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}
