package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// migration is one schema step, tracked through PRAGMA user_version
type migration struct {
	version     int
	description string
	statements  []string
}

var migrations = []migration{
	{
		version:     1,
		description: "system state and camera registry",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS system_state (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS cameras (
				device_index INTEGER PRIMARY KEY,
				label TEXT NOT NULL,
				backend TEXT NOT NULL,
				status TEXT NOT NULL,
				last_error TEXT,
				last_seen TIMESTAMP,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`,
		},
	},
	{
		version:     2,
		description: "recordings catalog",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS recordings (
				id TEXT PRIMARY KEY,
				device_index INTEGER NOT NULL,
				kind TEXT NOT NULL,
				path TEXT NOT NULL UNIQUE,
				size_bytes INTEGER NOT NULL,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_recordings_kind ON recordings(kind, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_recordings_device ON recordings(device_index)`,
		},
	},
}

// Database wraps the sqlite connection holding the camera registry and the
// recordings catalog.
type Database struct {
	db      *sql.DB
	dbPath  string
	version int
}

// NewDatabase opens (or creates) the database at dbPath and brings its
// schema up to date.
func NewDatabase(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{db: db, dbPath: dbPath}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// GetDB returns the underlying database connection
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// Path returns the database file location
func (d *Database) Path() string {
	return d.dbPath
}

// SchemaVersion returns the applied schema version
func (d *Database) SchemaVersion() int {
	return d.version
}

func (d *Database) migrate(ctx context.Context) error {
	if err := d.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&d.version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= d.version {
			continue
		}
		if err := d.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
		}
		d.version = m.version
	}
	return nil
}

func (d *Database) apply(ctx context.Context, m migration) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	// PRAGMA does not take bind parameters
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return err
	}
	return tx.Commit()
}
