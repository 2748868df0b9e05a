// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/strangers-chat/strangers/lib/sqlitepool"
	"github.com/strangers-chat/strangers/lib/testutil"
)

const testSchema = `CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL);`

func TestOpenAppliesPragmasAndSchema(t *testing.T) {
	pool := openTestPool(t)

	err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
		var journalMode string
		err := sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				journalMode = stmt.ColumnText(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if journalMode != "wal" {
			t.Errorf("journal_mode = %q, want wal", journalMode)
		}
		return sqlitex.Execute(conn, "INSERT INTO kv (key, value) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{"a", "b"},
		})
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestSchemaIsIdempotentAcrossConnections(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()

	// Hold both connections at once so each is prepared.
	first, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	second, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	pool.Put(first)
	pool.Put(second)
}

func TestWithPropagatesCallbackError(t *testing.T) {
	pool := openTestPool(t)
	sentinel := errors.New("boom")
	err := pool.With(context.Background(), func(*sqlite.Conn) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("With error = %v, want sentinel", err)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestTakeHonorsCancelledContext(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     testutil.TempDatabase(t),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func openTestPool(t *testing.T) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   testutil.TempDatabase(t),
		Schema: testSchema,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}
