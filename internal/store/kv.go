package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wppcrm/internal/cache"
)

var _ cache.Storage = (*DB)(nil)

// Get returns a cache area value.
func (db *DB) Get(key string) ([]byte, bool, error) {
	var v []byte
	err := db.QueryRow(`SELECT value FROM cache_entries WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores a cache area value, failing with cache.ErrQuotaExceeded when the
// area would grow past its quota.
func (db *DB) Set(key string, value []byte) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if db.cacheQuota > 0 {
		var used int
		err := tx.QueryRow(`SELECT COALESCE(SUM(length(value)), 0) FROM cache_entries WHERE key != ?`, key).Scan(&used)
		if err != nil {
			return fmt.Errorf("cache usage: %w", err)
		}
		if used+len(value) > db.cacheQuota {
			return cache.ErrQuotaExceeded
		}
	}
	_, err = tx.Exec(`
		INSERT INTO cache_entries (key, value, stored_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return tx.Commit()
}

// Remove deletes a cache area value.
func (db *DB) Remove(key string) error {
	_, err := db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

// Keys lists cache area keys starting with prefix, sorted.
func (db *DB) Keys(prefix string) ([]string, error) {
	rows, err := db.DB.Query(`SELECT key FROM cache_entries WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
