package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"

	"github.com/KeeprDigital/stream-keepr/go/internal/sqlutil"
)

const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS overlay_documents (
	key        TEXT PRIMARY KEY,
	value      JSONB,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// DBTX is the subset of *sql.DB and *sql.Tx the queries need.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db DBTX
}

func newQueries(db DBTX) *queries {
	return &queries{db: db}
}

func (q *queries) getDocument(ctx context.Context, key string) (pqtype.NullRawMessage, error) {
	var value pqtype.NullRawMessage
	err := q.db.QueryRowContext(ctx,
		`SELECT value FROM overlay_documents WHERE key = $1`, key,
	).Scan(&value)
	return value, err
}

func (q *queries) upsertDocument(ctx context.Context, key string, value pqtype.NullRawMessage, at sql.NullTime) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO overlay_documents (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, at,
	)
	return err
}

func (q *queries) deleteDocument(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM overlay_documents WHERE key = $1`, key)
	return err
}

// PostgresStore persists documents as JSONB rows.
type PostgresStore struct {
	db *sql.DB
	q  *queries
}

// OpenPostgres opens the pgx driver, pings it and ensures the documents table.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewPostgresStore(db)
	if _, err := db.ExecContext(ctx, createDocumentsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return s, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: newQueries(db)}
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := p.q.getDocument(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc := sqlutil.FromNullRawMessage(value); doc != nil {
		return doc, nil
	}
	return nil, ErrNotFound
}

func (p *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	now := time.Now()
	return sqlutil.Run(ctx, p.db,
		func(tx *sql.Tx) *queries { return newQueries(tx) },
		func(q *queries) error {
			return q.upsertDocument(ctx, key, sqlutil.ToNullRawMessage(value), sqlutil.ToSqlTime(&now))
		},
	)
}

func (p *PostgresStore) Remove(ctx context.Context, key string) error {
	return p.q.deleteDocument(ctx, key)
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}
