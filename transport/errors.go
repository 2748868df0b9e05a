// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
)

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	KindInvalidTarget   ErrorKind = "invalid-target"
	KindPeerUnavailable ErrorKind = "peer-unavailable"
	KindTimeout         ErrorKind = "timeout"
	KindSignalingLost   ErrorKind = "signaling-lost"
	KindNetwork         ErrorKind = "network"
	KindUnsupported     ErrorKind = "unsupported"
	KindClosed          ErrorKind = "closed"
)

// ErrClosed is returned by operations on a closed connection or
// endpoint. It matches any *Error of KindClosed under errors.Is.
var ErrClosed = &Error{Kind: KindClosed}

// Error is the error type of every transport failure.
type Error struct {
	Kind ErrorKind

	// Peer is the remote endpoint id, empty when the failure is not
	// about a particular peer.
	Peer string

	Err error
}

func newError(kind ErrorKind, peer string, err error) *Error {
	return &Error{Kind: kind, Peer: peer, Err: err}
}

func (e *Error) Error() string {
	message := string(e.Kind)
	if e.Peer != "" {
		message = fmt.Sprintf("%s (peer %s)", message, e.Peer)
	}
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err,
// ErrClosed) works for any closed error.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && other.Peer == "" && other.Err == nil
}

// KindOf returns the kind of the first *Error in err's chain, or the
// empty kind when there is none.
func KindOf(err error) ErrorKind {
	var transportError *Error
	if errors.As(err, &transportError) {
		return transportError.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
