// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/strangers-chat/strangers/lib/sqlitepool"
)

// KV is the string key-value persistence the store is built on.
type KV interface {
	// Get returns the value for key. A missing key is ("", false, nil).
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// MemoryKV keeps values in a map. The zero value is not usable; call
// NewMemoryKV.
type MemoryKV struct {
	mu      sync.Mutex
	values  map[string]string
	failure error
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

// Fail makes every later Get and Set return err until Fail(nil).
func (m *MemoryKV) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *MemoryKV) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return "", false, m.failure
	}
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *MemoryKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}
	m.values[key] = value
	return nil
}

const kvSchema = `CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL);`

// SQLiteKV stores values in a single kv table.
type SQLiteKV struct {
	pool *sqlitepool.Pool
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteKV, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		Schema: kvSchema,
	})
	if err != nil {
		return nil, err
	}
	return &SQLiteKV{pool: pool}, nil
}

func (s *SQLiteKV) Get(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.pool.With(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT value FROM kv WHERE key = ?", &sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnText(0)
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return "", false, fmt.Errorf("store: reading %s: %w", key, err)
	}
	return value, found, nil
}

func (s *SQLiteKV) Set(key, value string) error {
	err := s.pool.With(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO kv (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			&sqlitex.ExecOptions{Args: []any{key, value}})
	})
	if err != nil {
		return fmt.Errorf("store: writing %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteKV) Close() error {
	return s.pool.Close()
}
