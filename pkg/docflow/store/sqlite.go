package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/docflow/pkg/docflow/run"
)

// SQLiteStore persists runs to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a SQLite run store.
// The path should be a file path (e.g., "./docflow.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			experiment_id TEXT NOT NULL,
			status TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_runs_status
		ON runs(status)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	stored := r.Clone()
	stored.Version = 1
	data, err := encode(stored)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, experiment_id, status, version, created_at, updated_at, data)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.ID, r.ExperimentID, string(r.Status),
		r.CreatedAt.UTC().Format(timeFormat), r.UpdatedAt.UTC().Format(timeFormat), data)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyExists
	}

	r.Version = 1
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT data, version FROM runs WHERE id = ?
	`, id).Scan(&data, &version)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}

	r, err := decode(data, version)
	if err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return r, nil
}

// CompareAndUpdate implements Store.
func (s *SQLiteStore) CompareAndUpdate(ctx context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	next := r.Clone()
	next.Version = r.Version + 1
	data, err := encode(next)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, version = ?, updated_at = ?, data = ?
		WHERE id = ? AND version = ?
	`, string(next.Status), next.Version, next.UpdatedAt.UTC().Format(timeFormat), data, r.ID, r.Version)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		var current int64
		err := s.db.QueryRowContext(ctx, `SELECT version FROM runs WHERE id = ?`, r.ID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check run version: %w", err)
		}
		return ErrVersionConflict
	}

	r.Version = next.Version
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `SELECT data, version FROM runs WHERE 1 = 1`
	var args []any
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	if filter.ExperimentID != "" {
		query += ` AND experiment_id = ?`
		args = append(args, filter.ExperimentID)
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]*run.Run, 0)
	for rows.Next() {
		var data []byte
		var version int64
		if err := rows.Scan(&data, &version); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r, err := decode(data, version)
		if err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
