// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue provides an unbounded FIFO whose producers never block.
//
// Transport callbacks, session state changes and lobby snapshots are
// all produced while a mutex is held. A bounded channel would either
// block the producer under that lock or drop values the consumer must
// see, such as the final close event of a connection. [Unbounded]
// buffers instead and feeds one consumer channel in order.
package queue

import "sync"

// Unbounded buffers pushed values and delivers them on Out in push
// order. Out is closed after Close once every buffered value has been
// received, or right away after Discard.
type Unbounded[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
	out    chan T
}

// New starts the delivery goroutine. It exits once Out is closed.
func New[T any]() *Unbounded[T] {
	q := &Unbounded[T]{
		notify: make(chan struct{}, 1),
		out:    make(chan T),
	}
	go q.run()
	return q
}

// Out is the delivery channel.
func (q *Unbounded[T]) Out() <-chan T {
	return q.out
}

// Push appends value. Returns false after Close or Discard.
func (q *Unbounded[T]) Push(value T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, value)
	q.mu.Unlock()
	q.wake()
	return true
}

// Close stops accepting values. Buffered values are still delivered.
func (q *Unbounded[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Discard stops accepting values and drops the buffered ones. A value
// already handed to the delivery goroutine may still arrive.
func (q *Unbounded[T]) Discard() {
	q.mu.Lock()
	q.closed = true
	clear(q.items)
	q.items = nil
	q.mu.Unlock()
	q.wake()
}

// Len reports how many values are buffered.
func (q *Unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Unbounded[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Unbounded[T]) run() {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.mu.Unlock()
			<-q.notify
			q.mu.Lock()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			close(q.out)
			return
		}
		value := q.items[0]
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		q.out <- value
	}
}
