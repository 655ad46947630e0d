// Package store implements the Result Store: typed, append-oriented
// persistence of test runs, results, metrics, statuses, alerts, contract
// deployments, and health checks on an embedded SQL engine.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps a single-writer SQLite database file implementing the
// schema in schema.go. All multi-statement writes run inside a
// transaction; callers may submit concurrent writes but the database
// itself serializes them.
type Store struct {
	db *sql.DB
}

// Open creates the data directory if needed, opens (or creates) the
// database file at path, applies the WAL/synchronous/cache pragmas, and
// runs the schema migration. path is typically "./data/test-results.db".
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// single-writer per database file: a busy writer blocks rather than
	// erroring, and SQLite itself only ever allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

const pragmas = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA cache_size = -8000;
PRAGMA foreign_keys = ON;
`

// Close awaits pending transactions and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// resolveInternalID maps an external run UUID to its internal primary
// key, so write/query paths can accept either form transparently.
func (s *Store) resolveInternalID(ctx context.Context, tx *sql.Tx, runID string) (int64, error) {
	var internalID int64
	row := tx.QueryRowContext(ctx, `SELECT internal_id FROM test_runs WHERE run_id = ? OR CAST(internal_id AS TEXT) = ?`, runID, runID)
	if err := row.Scan(&internalID); err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("store: unknown run id %q", runID)
		}
		return 0, err
	}
	return internalID, nil
}
