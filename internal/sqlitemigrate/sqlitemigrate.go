// Package sqlitemigrate opens a WAL-mode modernc.org/sqlite database
// and applies an embedded set of golang-migrate-style ".up.sql" files
// to it in version order.
//
// It deliberately uses only golang-migrate's source/iofs enumeration,
// not its database/sqlite3 driver: that driver imports
// github.com/mattn/go-sqlite3 purely to classify sqlite error codes,
// which pulls in cgo and conflicts with the pure-Go modernc.org/sqlite
// driver this module standardizes on.
package sqlitemigrate

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

// Open opens (creating if absent) a sqlite database at path, enables
// WAL mode, and applies every ".up.sql" file found under dir within
// migrations in ascending version order.
func Open(path string, migrations fs.FS, dir string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitemigrate: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitemigrate: enable WAL: %w", err)
	}
	if err := apply(db, migrations, dir); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// schema_migrations tracks applied versions ourselves: bypassing
// golang-migrate's database driver means nothing else records which
// embedded files have already run against this file.
func apply(db *sql.DB, migrations fs.FS, dir string) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("sqlitemigrate: init migration tracking: %w", err)
	}

	src, err := iofs.New(migrations, dir)
	if err != nil {
		return fmt.Errorf("sqlitemigrate: migration source: %w", err)
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("sqlitemigrate: migration source: %w", err)
	}
	for {
		applied, err := isApplied(db, version)
		if err != nil {
			return fmt.Errorf("sqlitemigrate: check migration %d: %w", version, err)
		}
		if !applied {
			if err := applyOne(src, db, version); err != nil {
				return err
			}
			if _, err := db.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
				return fmt.Errorf("sqlitemigrate: record migration %d: %w", version, err)
			}
		}
		next, err := src.Next(version)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sqlitemigrate: migration source: %w", err)
		}
		version = next
	}
}

func isApplied(db *sql.DB, version uint) (bool, error) {
	var x int
	err := db.QueryRow(`SELECT 1 FROM schema_migrations WHERE version = ?`, version).Scan(&x)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func applyOne(src source.Driver, db *sql.DB, version uint) error {
	r, identifier, err := src.ReadUp(version)
	if err != nil {
		return fmt.Errorf("sqlitemigrate: read migration %d: %w", version, err)
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("sqlitemigrate: read migration %d (%s): %w", version, identifier, err)
	}
	if _, err := db.Exec(string(body)); err != nil {
		return fmt.Errorf("sqlitemigrate: apply migration %d (%s): %w", version, identifier, err)
	}
	return nil
}
