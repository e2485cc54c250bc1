package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ShopCurated/curator-go/internal/infrastructure/persistence/database"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS kv_entries (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
)`

// SQLStore is the persistent scope backed by sqlite (local) or libsql (remote).
type SQLStore struct {
	db *database.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates the backing table if needed and returns the store.
func NewSQLStore(db *database.DB) (*SQLStore, error) {
	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create kv_entries table: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) DeleteOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE key LIKE ? || '%' AND updated_at < ?`,
		prefix, cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("kv prune %q: %w", prefix, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("kv prune %q: row count unavailable: %w", prefix, err)
	}
	return n, nil
}
