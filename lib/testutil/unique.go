// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer.
//
//	peer := testutil.UniqueID("peer")   // "peer-1", "peer-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}

// TempDatabase returns a path to a not-yet-existing SQLite file inside
// t.TempDir(). The directory is removed when the test completes.
func TempDatabase(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), UniqueID("store")+".db")
}
