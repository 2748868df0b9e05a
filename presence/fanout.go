// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"sync"
	"sync/atomic"

	"github.com/strangers-chat/strangers/lib/queue"
)

// mailbox calls fn for every posted value, in order, on its own
// goroutine. Posting never blocks.
type mailbox[T any] struct {
	values  *queue.Unbounded[T]
	stopped atomic.Bool
}

func newMailbox[T any](fn func(T)) *mailbox[T] {
	box := &mailbox[T]{values: queue.New[T]()}
	go func() {
		for value := range box.values.Out() {
			if !box.stopped.Load() {
				fn(value)
			}
		}
	}()
	return box
}

func (m *mailbox[T]) post(value T) {
	m.values.Push(value)
}

// stop discards undelivered values. A call to fn already in progress
// completes.
func (m *mailbox[T]) stop() {
	m.stopped.Store(true)
	m.values.Discard()
}

// fanout is a set of mailboxes receiving the same values.
type fanout[T any] struct {
	mu    sync.Mutex
	next  int
	boxes map[int]*mailbox[T]
}

func newFanout[T any]() *fanout[T] {
	return &fanout[T]{boxes: make(map[int]*mailbox[T])}
}

// add registers fn. initial, when non-nil, is delivered first.
func (f *fanout[T]) add(fn func(T), initial *T) (unsubscribe func()) {
	box := newMailbox(fn)
	f.mu.Lock()
	f.next++
	key := f.next
	f.boxes[key] = box
	if initial != nil {
		box.post(*initial)
	}
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.boxes, key)
			f.mu.Unlock()
			box.stop()
		})
	}
}

// publish posts value to every mailbox. Callers that need a value per
// mailbox pass a producer through publishEach instead.
func (f *fanout[T]) publish(value T) {
	f.publishEach(func() T { return value })
}

// publishEach posts a fresh value from produce to every mailbox.
func (f *fanout[T]) publishEach(produce func() T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, box := range f.boxes {
		box.post(produce())
	}
}

// clear stops every mailbox.
func (f *fanout[T]) clear() {
	f.mu.Lock()
	boxes := f.boxes
	f.boxes = make(map[int]*mailbox[T])
	f.mu.Unlock()
	for _, box := range boxes {
		box.stop()
	}
}
