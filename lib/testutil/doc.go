// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. These are
// the only place in the test suite where real wall-clock timeouts are
// used. Session timing logic is always driven by clock.Fake; the wall
// clock here only bounds how long a broken test hangs.
//
// [RequireNoReceive] is the negative form: it drains nothing and fails
// if a value is already buffered or arrives within a short grace window.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation. Use it instead of time.Now() when tests need unique
// peer ids, message ids, or room names.
//
// [TempDatabase] returns a path for a throwaway SQLite file.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
