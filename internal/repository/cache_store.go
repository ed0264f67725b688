package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CacheStore persists client cache entries in the cache_entries table.
// It satisfies cache.Store so entitlement caches survive gateway restarts.
type CacheStore struct {
	db *sql.DB
}

// NewCacheStore creates a new CacheStore
func NewCacheStore(db *sql.DB) *CacheStore {
	return &CacheStore{db: db}
}

// Get returns the stored value for key, with ok=false when absent
func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cache_entries WHERE cache_key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return value, true, nil
}

// Set upserts the value for key
func (s *CacheStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO cache_entries (cache_key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (cache_key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *CacheStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}
