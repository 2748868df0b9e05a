// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"sync"

	"github.com/strangers-chat/strangers/lib/queue"
)

type connState int

const (
	statePending connState = iota
	stateOpen
	stateClosed
)

// connCore is the state machine shared by every Conn implementation:
// pending, then open, then closed, with the matching events.
type connCore struct {
	id       string
	remoteID string
	attrs    Attributes
	events   *queue.Unbounded[Event]

	mu    sync.Mutex
	state connState
}

func newConnCore(id, remoteID string, attrs Attributes) *connCore {
	return &connCore{
		id:       id,
		remoteID: remoteID,
		attrs:    attrs,
		events:   queue.New[Event](),
	}
}

func (c *connCore) ID() string             { return c.id }
func (c *connCore) RemoteID() string       { return c.remoteID }
func (c *connCore) Attributes() Attributes { return c.attrs }
func (c *connCore) Events() <-chan Event   { return c.events.Out() }

func (c *connCore) currentState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connCore) isOpen() bool { return c.currentState() == stateOpen }

// open moves a pending connection to open. Returns false if it was
// not pending.
func (c *connCore) open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != statePending {
		return false
	}
	c.state = stateOpen
	c.events.Push(Event{Kind: EventOpen})
	return true
}

// deliver posts inbound data on an open connection.
func (c *connCore) deliver(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return
	}
	c.events.Push(Event{Kind: EventData, Data: data})
}

// fail posts an error. The caller closes the connection afterwards when
// fatal is set.
func (c *connCore) fail(err error, fatal bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return
	}
	c.events.Push(Event{Kind: EventError, Err: err, Fatal: fatal})
}

// finish moves the connection to closed and ends the event stream.
// Returns false if it was already closed.
func (c *connCore) finish() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return false
	}
	c.state = stateClosed
	c.events.Push(Event{Kind: EventClose})
	c.events.Close()
	return true
}

// checkSendable returns the error Send reports for a connection that
// cannot carry data.
func (c *connCore) checkSendable() error {
	switch c.currentState() {
	case stateOpen:
		return nil
	case stateClosed:
		return newError(KindClosed, c.remoteID, fmt.Errorf("connection %s closed", c.id))
	default:
		return newError(KindNetwork, c.remoteID, fmt.Errorf("connection %s not open yet", c.id))
	}
}
