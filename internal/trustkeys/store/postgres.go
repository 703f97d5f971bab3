package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"hcert/internal/trustkeys/models"
	"hcert/pkg/platform/sentinel"
)

// Schema creates the trusted key table.
const Schema = `
CREATE TABLE IF NOT EXISTS trusted_keys (
	kid         BYTEA PRIMARY KEY,
	public_key  BYTEA NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	imported_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore persists trusted keys in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate trusted_keys: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, kid []byte) (*models.TrustedKey, error) {
	key := &models.TrustedKey{}
	err := s.db.QueryRowContext(ctx,
		`SELECT kid, public_key, source, imported_at FROM trusted_keys WHERE kid = $1`, kid,
	).Scan(&key.KeyID, &key.PublicKey, &key.Source, &key.ImportedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get trusted key: %w", err)
	}
	return key, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.TrustedKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kid, public_key, source, imported_at FROM trusted_keys ORDER BY kid`)
	if err != nil {
		return nil, fmt.Errorf("list trusted keys: %w", err)
	}
	defer rows.Close()

	var out []*models.TrustedKey
	for rows.Next() {
		key := &models.TrustedKey{}
		if err := rows.Scan(&key.KeyID, &key.PublicKey, &key.Source, &key.ImportedAt); err != nil {
			return nil, fmt.Errorf("scan trusted key: %w", err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trusted keys: %w", err)
	}
	return out, nil
}

// Save upserts keys in one statement.
func (s *PostgresStore) Save(ctx context.Context, keys ...*models.TrustedKey) error {
	if len(keys) == 0 {
		return nil
	}
	kids := make([][]byte, len(keys))
	pubs := make([][]byte, len(keys))
	sources := make([]string, len(keys))
	for i, key := range keys {
		kids[i] = key.KeyID
		pubs[i] = key.PublicKey
		sources[i] = key.Source
	}
	query := `
		INSERT INTO trusted_keys (kid, public_key, source, imported_at)
		SELECT k, p, s, now() FROM unnest($1::bytea[], $2::bytea[], $3::text[]) AS t(k, p, s)
		ON CONFLICT (kid) DO UPDATE SET
			public_key  = EXCLUDED.public_key,
			source      = EXCLUDED.source,
			imported_at = EXCLUDED.imported_at
	`
	_, err := s.db.ExecContext(ctx, query, pq.ByteaArray(kids), pq.ByteaArray(pubs), pq.Array(sources))
	if err != nil {
		return fmt.Errorf("save trusted keys: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, kid []byte) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trusted_keys WHERE kid = $1`, kid)
	if err != nil {
		return fmt.Errorf("delete trusted key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete trusted key: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
