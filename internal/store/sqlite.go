package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"portsim/internal/result"
	simerrors "portsim/pkg/errors"
)

// SQLiteStore persists runs in a single SQLite file. Each row carries the run
// as a JSON payload with a sha256 checksum verified on load.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	policy     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	data       TEXT NOT NULL,
	checksum   BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at DESC);
`

// NewSQLiteStore opens (or creates) the run database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveRun implements RunStore.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	// Validate JSON (round-trip test)
	var testRun Run
	if err := json.Unmarshal(data, &testRun); err != nil {
		return fmt.Errorf("run validation failed: %w", err)
	}

	checksum := sha256.Sum256(data)
	query := `INSERT OR REPLACE INTO runs (id, policy, created_at, data, checksum) VALUES (?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query, run.ID, run.Policy, run.CreatedAt.UnixNano(), string(data), checksum[:])
	if err != nil {
		return fmt.Errorf("failed to write run to db: %w", err)
	}

	return tx.Commit()
}

// GetRun implements RunStore.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT data, checksum FROM runs WHERE id = ?`
	var data string
	var storedChecksum []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&data, &storedChecksum)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, simerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read run from db: %w", err)
	}
	return decodeRun(data, storedChecksum)
}

// ListRuns implements RunStore, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data, checksum FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		var data string
		var checksum []byte
		if err := rows.Scan(&data, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run, err := decodeRun(data, checksum)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// decodeRun verifies the stored checksum before unmarshaling.
func decodeRun(data string, storedChecksum []byte) (*Run, error) {
	computed := sha256.Sum256([]byte(data))
	if len(storedChecksum) != len(computed) {
		return nil, fmt.Errorf("checksum length mismatch: expected %d, got %d", len(computed), len(storedChecksum))
	}
	for i := range computed {
		if storedChecksum[i] != computed[i] {
			return nil, fmt.Errorf("checksum verification failed: data corruption detected")
		}
	}

	var run Run
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// NewRunFromSummary packages a result summary as a persistable run.
func NewRunFromSummary(id string, summary result.Summary) *Run {
	return &Run{
		ID:        id,
		Policy:    summary.Policy,
		Start:     summary.Start,
		End:       summary.End,
		Steps:     summary.Steps,
		CreatedAt: time.Now().UTC(),
		Summary:   summary,
	}
}
