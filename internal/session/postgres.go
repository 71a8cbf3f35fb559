package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessionLogs = `
CREATE TABLE IF NOT EXISTS session_logs (
    session_id  TEXT         PRIMARY KEY,
    turns       JSONB        NOT NULL DEFAULT '[]'::jsonb,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);`

// PostgresStore keeps each session log as one JSONB row in session_logs.
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies the connection and creates the
// session_logs table when it does not exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlSessionLogs); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Load implements [Store].
func (s *PostgresStore) Load(ctx context.Context, id string) (Log, error) {
	const q = `SELECT turns FROM session_logs WHERE session_id = $1`

	var raw []byte
	err := s.pool.QueryRow(ctx, q, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Log{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: load %s: %w", id, err)
	}
	return decode(raw)
}

// Save implements [Store]. The row is replaced as a whole.
func (s *PostgresStore) Save(ctx context.Context, id string, l Log) error {
	const q = `
		INSERT INTO session_logs (session_id, turns, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (session_id)
		DO UPDATE SET turns = EXCLUDED.turns, updated_at = EXCLUDED.updated_at`

	data, err := encode(l)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, q, id, string(data)); err != nil {
		return fmt.Errorf("postgres store: save %s: %w", id, err)
	}
	return nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM session_logs WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("postgres store: delete %s: %w", id, err)
	}
	return nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
