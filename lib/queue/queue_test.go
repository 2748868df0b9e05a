// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"testing"
	"time"

	"github.com/strangers-chat/strangers/lib/testutil"
)

func TestPushNeverBlocks(t *testing.T) {
	q := New[int]()
	defer q.Discard()

	// Nobody reads Out while these are pushed.
	for i := range 1000 {
		if !q.Push(i) {
			t.Fatalf("Push(%d) refused on an open queue", i)
		}
	}
	for i := range 1000 {
		if got := testutil.RequireReceive(t, q.Out(), time.Second, "value %d", i); got != i {
			t.Fatalf("received %d, want %d", got, i)
		}
	}
}

func TestCloseDeliversBufferedValues(t *testing.T) {
	q := New[string]()
	q.Push("a")
	q.Push("b")
	q.Close()

	if q.Push("c") {
		t.Error("Push after Close was accepted")
	}
	var got []string
	for value := range q.Out() {
		got = append(got, value)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("delivered %v, want [a b]", got)
	}
}

func TestDiscardDropsBufferedValues(t *testing.T) {
	q := New[int]()
	for i := range 10 {
		q.Push(i)
	}
	q.Discard()

	if q.Push(99) {
		t.Error("Push after Discard was accepted")
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d after Discard", q.Len())
	}
	received := 0
	for range q.Out() {
		received++
	}
	// The delivery goroutine may hold one value when Discard runs.
	if received > 1 {
		t.Errorf("received %d values after Discard, want at most 1", received)
	}
}
