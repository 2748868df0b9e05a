// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite database that backs the local
// store (recents, friends, pending requests, chat history).
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers either
// [Pool.Take] a connection and [Pool.Put] it back, or hand a function
// to [Pool.With], which does both. Connections are not safe for
// concurrent use; each goroutine holds its own for the duration of its
// work.
//
// # Pragmas
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: readers never block the writer.
//   - synchronous=NORMAL: survives a process crash, not a power loss.
//     The store holds convenience state, so that is enough.
//   - busy_timeout=5000: wait for the write lock instead of failing
//     with SQLITE_BUSY.
//   - temp_store=MEMORY
//
// [Config.Schema] is executed on every new connection after the
// pragmas, so it must be idempotent (CREATE TABLE IF NOT EXISTS).
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   filepath.Join(dataDir, "strangers.db"),
//	    Logger: logger,
//	    Schema: `CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL);`,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.With(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "SELECT value FROM kv WHERE key = ?", ...)
//	})
package sqlitepool
