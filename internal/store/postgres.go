package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schoolledger/schoolledger/internal/platform/db"
)

const schemaDocuments = `
CREATE TABLE IF NOT EXISTS documents (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (namespace, key)
)`

const upsertDocument = `
INSERT INTO documents (namespace, key, value, updated_at)
VALUES ($1, $2, $3::jsonb, NOW())
ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

// ErrSchemaMissing is returned when the documents table has not been created.
var ErrSchemaMissing = errors.New("store/postgres: documents table missing, run EnsureSchema")

// PostgresKV stores collections as JSONB rows in the documents table.
type PostgresKV struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewPostgresKV wraps pool. The namespace separates several schools sharing one database.
func NewPostgresKV(pool *pgxpool.Pool, namespace string) *PostgresKV {
	if namespace == "" {
		namespace = "schoolledger"
	}
	return &PostgresKV{pool: pool, namespace: namespace}
}

// EnsureSchema creates the documents table when absent.
func (p *PostgresKV) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaDocuments); err != nil {
		return fmt.Errorf("store/postgres: ensure schema: %w", err)
	}
	return nil
}

// Get returns the raw JSON stored at key.
func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var raw string
	err := p.pool.QueryRow(ctx, `SELECT value::text FROM documents WHERE namespace = $1 AND key = $2`, p.namespace, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pgError("get "+key, err)
	}
	return []byte(raw), nil
}

// Put upserts key.
func (p *PostgresKV) Put(ctx context.Context, key string, value []byte) error {
	if _, err := p.pool.Exec(ctx, upsertDocument, p.namespace, key, string(value)); err != nil {
		return pgError("put "+key, err)
	}
	return nil
}

// PutAll upserts several keys inside one transaction.
func (p *PostgresKV) PutAll(ctx context.Context, docs map[string][]byte) error {
	return db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for k, v := range docs {
			batch.Queue(upsertDocument, p.namespace, k, string(v))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return pgError("put all", err)
		}
		return nil
	})
}

// Delete removes key.
func (p *PostgresKV) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE namespace = $1 AND key = $2`, p.namespace, key); err != nil {
		return pgError("delete "+key, err)
	}
	return nil
}

// Keys lists keys in the namespace.
func (p *PostgresKV) Keys(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT key FROM documents WHERE namespace = $1 ORDER BY key`, p.namespace)
	if err != nil {
		return nil, pgError("keys", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, pgError("keys", err)
	}
	return keys, nil
}

func pgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		return ErrSchemaMissing
	}
	return fmt.Errorf("store/postgres: %s: %w", op, err)
}
