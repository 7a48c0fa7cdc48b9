package storage

import (
	"database/sql"
	"fmt"
)

// Schema version tracking, stored in PRAGMA user_version.
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if err := createEntriesTable(tx); err != nil {
			return err
		}
		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}
		db.logger.Debug("Cache schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// ensureSchema checks the version of an existing database. A database with
// no version (created empty by another process) gets the full schema; one
// written by a newer release is rejected rather than misread.
func (db *DB) ensureSchema() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	switch {
	case version == 0:
		return db.initializeSchema()
	case version > currentSchemaVersion:
		return fmt.Errorf("cache schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	return nil
}

func createEntriesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			path       TEXT PRIMARY KEY,
			size       INTEGER NOT NULL,
			mtime_ns   INTEGER NOT NULL,
			first      REAL,
			last       REAL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create entries table: %w", err)
	}

	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_entries_updated_at ON entries(updated_at)`)
	if err != nil {
		return fmt.Errorf("failed to create entries index: %w", err)
	}
	return nil
}

func (db *DB) getSchemaVersion() (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	// PRAGMA does not accept bound parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}
