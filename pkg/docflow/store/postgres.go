package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/randalmurphal/docflow/pkg/docflow/run"
)

// Pool is the subset of *pgxpool.Pool the Postgres store uses. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists runs to PostgreSQL. Several orchestrator processes
// may share one database; compare-and-update keeps their commits safe.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS docflow_runs (
	id            TEXT PRIMARY KEY,
	experiment_id TEXT NOT NULL,
	status        TEXT NOT NULL,
	version       BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	data          JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_docflow_runs_status ON docflow_runs(status);
`

// NewPostgresStore connects to dsn, pings the server and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &PostgresStore{pool: pool, closeFn: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreWithPool wraps an existing pool. The caller owns the pool
// and must close it.
func NewPostgresStoreWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the runs table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, r *run.Run) error {
	stored := r.Clone()
	stored.Version = 1
	data, err := encode(stored)
	if err != nil {
		return fmt.Errorf("postgres: encode run: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO docflow_runs (id, experiment_id, status, version, created_at, updated_at, data)
		 VALUES ($1, $2, $3, 1, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		r.ID, r.ExperimentID, string(r.Status), r.CreatedAt, r.UpdatedAt, data,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert run %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}

	r.Version = 1
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*run.Run, error) {
	var data []byte
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT data, version FROM docflow_runs WHERE id = $1`, id,
	).Scan(&data, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get run %s: %w", id, err)
	}

	r, err := decode(data, version)
	if err != nil {
		return nil, fmt.Errorf("postgres: decode run %s: %w", id, err)
	}
	return r, nil
}

// CompareAndUpdate implements Store.
func (s *PostgresStore) CompareAndUpdate(ctx context.Context, r *run.Run) error {
	next := r.Clone()
	next.Version = r.Version + 1
	data, err := encode(next)
	if err != nil {
		return fmt.Errorf("postgres: encode run: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE docflow_runs SET status = $1, version = $2, updated_at = $3, data = $4
		 WHERE id = $5 AND version = $6`,
		string(next.Status), next.Version, next.UpdatedAt, data, r.ID, r.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: update run %s: %w", r.ID, err)
	}

	if tag.RowsAffected() == 0 {
		var current int64
		err := s.pool.QueryRow(ctx,
			`SELECT version FROM docflow_runs WHERE id = $1`, r.ID,
		).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: check run version %s: %w", r.ID, err)
		}
		return ErrVersionConflict
	}

	r.Version = next.Version
	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*run.Run, error) {
	query := `SELECT data, version FROM docflow_runs WHERE true`
	args := []any{}
	argIdx := 1

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		query += fmt.Sprintf(` AND status = ANY($%d)`, argIdx)
		args = append(args, statuses)
		argIdx++
	}
	if filter.ExperimentID != "" {
		query += fmt.Sprintf(` AND experiment_id = $%d`, argIdx)
		args = append(args, filter.ExperimentID)
		argIdx++
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	out := make([]*run.Run, 0)
	for rows.Next() {
		var data []byte
		var version int64
		if err := rows.Scan(&data, &version); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		r, err := decode(data, version)
		if err != nil {
			return nil, fmt.Errorf("postgres: decode run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate runs: %w", err)
	}
	return out, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM docflow_runs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete run %s: %w", id, err)
	}
	return nil
}

// Close implements Store. Pools passed to NewPostgresStoreWithPool are left
// open.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
		s.closeFn = nil
	}
	return nil
}
