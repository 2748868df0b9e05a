// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
)

// ConnectionType tells the accepting side what a connection is for.
type ConnectionType string

const (
	// TypeRandom marks the matchmaker's connection for the main chat.
	TypeRandom ConnectionType = "random"

	// TypeDirect marks a social connection opened outside matchmaking.
	TypeDirect ConnectionType = "direct"
)

// Valid reports whether t is a known connection type.
func (t ConnectionType) Valid() bool {
	return t == TypeRandom || t == TypeDirect
}

// Attributes travel with a dial and are handed to the remote inbound
// handler before the connection opens.
type Attributes struct {
	Type ConnectionType
}

// EventKind identifies a connection event.
type EventKind int

const (
	// EventOpen is delivered once, when the connection can carry data.
	EventOpen EventKind = iota

	// EventData carries one inbound message.
	EventData

	// EventError reports a failure. Fatal errors are followed by
	// EventClose; others leave the connection as it was.
	EventError

	// EventClose is always the last event.
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventData:
		return "data"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one entry on a connection's event stream.
type Event struct {
	Kind  EventKind
	Data  []byte
	Err   error
	Fatal bool
}

// Conn is one point-to-point message channel to a remote endpoint.
type Conn interface {
	// ID identifies the connection. Both sides see the same id.
	ID() string

	// RemoteID is the endpoint id of the other side.
	RemoteID() string

	// Attributes are the values the dialer supplied.
	Attributes() Attributes

	// Events delivers the connection's lifecycle in order. The channel
	// is closed after EventClose. Consumers must drain it.
	Events() <-chan Event

	// Send transmits one message. It fails with an *Error when the
	// connection is not open.
	Send(data []byte) error

	// Close shuts the connection down. Safe to call more than once.
	Close() error
}

// InboundHandler is called once per inbound connection, before it
// opens. Closing the conn inside the handler rejects it.
type InboundHandler func(Conn)

// Endpoint is a registered transport identity.
type Endpoint interface {
	// ID is the identity other endpoints dial.
	ID() string

	// Dial starts an outbound connection and returns it while still
	// pending. Malformed targets fail immediately with
	// KindInvalidTarget; everything else is reported on the conn's
	// event stream.
	Dial(remoteID string, attributes Attributes) (Conn, error)

	// Disconnected receives an error whenever the signaling path is
	// lost. Established connections are unaffected.
	Disconnected() <-chan error

	// Reconnect restores the signaling path after a loss.
	Reconnect(ctx context.Context) error

	// Close closes every connection and releases the identity. Safe to
	// call more than once.
	Close() error
}

// Provider creates endpoints.
type Provider interface {
	// Register creates an endpoint, blocking until the identity is
	// confirmed. inbound receives every connection other endpoints
	// open to it.
	Register(ctx context.Context, inbound InboundHandler) (Endpoint, error)
}

// maxIDLength bounds endpoint ids so they fit comfortably in signaling
// keys.
const maxIDLength = 128

// ValidateTarget checks a dial target against the dialing endpoint's
// own id.
func ValidateTarget(selfID, remoteID string) error {
	if remoteID == "" {
		return newError(KindInvalidTarget, remoteID, fmt.Errorf("empty peer id"))
	}
	if remoteID == selfID {
		return newError(KindInvalidTarget, remoteID, fmt.Errorf("cannot dial own id"))
	}
	if len(remoteID) > maxIDLength {
		return newError(KindInvalidTarget, remoteID, fmt.Errorf("peer id longer than %d bytes", maxIDLength))
	}
	for _, r := range remoteID {
		if !validIDRune(r) {
			return newError(KindInvalidTarget, remoteID, fmt.Errorf("peer id contains %q", r))
		}
	}
	return nil
}

func validIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.', r == '=':
		return true
	}
	return false
}
