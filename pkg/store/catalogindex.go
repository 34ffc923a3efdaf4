package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// CatalogIndex is a small sqlite3-backed index of published runs and the
// tables/files each run wrote, used to make Finalize idempotent: a second
// Finalize call for a run_id that is already recorded is rejected instead of
// silently re-publishing. Adapted from the pack's SQLite data-access layer
// (other_examples/e502fde6_mvp-joe-canopy__internal-store-store.go.go) —
// same sql.Open DSN shape and Migrate-on-open discipline, cut down from 16
// tables to the two this package actually needs.
type CatalogIndex struct {
	db *sql.DB
}

const catalogSchemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
  run_id       TEXT PRIMARY KEY,
  config_hash  TEXT NOT NULL,
  output_dir   TEXT NOT NULL,
  published_at INTEGER NOT NULL,
  row_total    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_files (
  run_id     TEXT NOT NULL REFERENCES runs(run_id),
  table_name TEXT NOT NULL,
  file_path  TEXT NOT NULL,
  row_count  INTEGER NOT NULL,
  byte_size  INTEGER NOT NULL,
  checksum   TEXT NOT NULL,
  PRIMARY KEY (run_id, table_name, file_path)
);
`

// OpenCatalogIndex opens (creating if absent) the sqlite3 catalog database at
// dbPath, with the same WAL/foreign-keys/busy-timeout pragmas the grounding
// example uses.
func OpenCatalogIndex(dbPath string) (*CatalogIndex, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("catalogindex: open %s: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalogindex: ping %s: %w", dbPath, err)
	}
	if _, err := db.Exec(catalogSchemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalogindex: migrate %s: %w", dbPath, err)
	}
	return &CatalogIndex{db: db}, nil
}

// Close closes the underlying database connection.
func (c *CatalogIndex) Close() error { return c.db.Close() }

// AlreadyPublished reports whether runID has already been recorded, the
// idempotent-finalize check Finalize consults before publishing.
func (c *CatalogIndex) AlreadyPublished(runID string) (bool, error) {
	var n int
	err := c.db.QueryRow(`SELECT COUNT(1) FROM runs WHERE run_id = ?`, runID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("catalogindex: check run %s: %w", runID, err)
	}
	return n > 0, nil
}

// RecordRun stores a completed run and the table files it produced in one
// transaction.
func (c *CatalogIndex) RecordRun(runID, configHash, outputDir string, publishedAt int64, files []TableFile) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("catalogindex: begin: %w", err)
	}
	defer tx.Rollback()

	var rowTotal int64
	for _, f := range files {
		rowTotal += int64(f.RowCount)
	}

	if _, err := tx.Exec(
		`INSERT INTO runs (run_id, config_hash, output_dir, published_at, row_total) VALUES (?, ?, ?, ?, ?)`,
		runID, configHash, outputDir, publishedAt, rowTotal,
	); err != nil {
		return fmt.Errorf("catalogindex: insert run: %w", err)
	}

	for _, f := range files {
		if _, err := tx.Exec(
			`INSERT INTO run_files (run_id, table_name, file_path, row_count, byte_size, checksum) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, f.Table, f.Path, f.RowCount, f.ByteSize, f.Checksum,
		); err != nil {
			return fmt.Errorf("catalogindex: insert run_files: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalogindex: commit: %w", err)
	}
	return nil
}

// TableFile describes one Parquet file written for one table during a run.
type TableFile struct {
	Table    string
	Path     string
	RowCount int
	ByteSize int64
	Checksum string
}
