package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on the kv_entries table (see
// cmd/migrator/migrations). Rows are partitioned by save slot.
type PostgresStore struct {
	pool *pgxpool.Pool
	slot string
}

// NewPostgresStore creates a PostgreSQL-backed store for one save slot.
func NewPostgresStore(pool *pgxpool.Pool, slot string) *PostgresStore {
	return &PostgresStore{pool: pool, slot: slot}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE slot = $1 AND key = $2`,
		s.slot, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_entries (slot, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (slot, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		s.slot, key, value,
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv_entries WHERE slot = $1`, s.slot); err != nil {
		return fmt.Errorf("clear slot %s: %w", s.slot, err)
	}
	return nil
}
