package blob

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type blobDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists objects in a single keyed table. Each Put is one
// atomic upsert.
type PostgresStore struct {
	DB blobDB
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{DB: pool}
}

// Migrate creates the backing table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS gateway_objects (
			key TEXT PRIMARY KEY,
			body BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}

func (s *PostgresStore) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO gateway_objects (key, body, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
	`, key, body, time.Now().UTC())
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	row := s.DB.QueryRow(ctx, `SELECT body FROM gateway_objects WHERE key = $1`, key)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return body, nil
}
