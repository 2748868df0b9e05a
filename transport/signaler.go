// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"time"

	"github.com/strangers-chat/strangers/lib/schema"
)

// Signaler exchanges WebRTC session descriptions between endpoints.
// The production implementation stores them as Matrix room state;
// tests use an in-process map.
//
// Signaling is vanilla ICE: every candidate is gathered before the SDP
// is published, so a connection needs exactly one round-trip (offer,
// then answer).
type Signaler interface {
	// Publish stores a signal where its recipient can find it.
	Publish(ctx context.Context, signal SignalMessage) error

	// Poll returns the signals addressed to peerID that this signaler
	// has not returned before.
	Poll(ctx context.Context, peerID string) ([]SignalMessage, error)
}

// SignalMessage is one offer or answer.
type SignalMessage struct {
	ConnectionID string
	From         string
	To           string

	// Type is schema.SignalOffer or schema.SignalAnswer.
	Type string

	// Label is the offer's data channel label, which carries the
	// connection type.
	Label string

	// SDP is the complete session description with every ICE candidate
	// embedded.
	SDP string

	// Timestamp is the creation time, RFC 3339 with nanoseconds.
	Timestamp string
}

// stateKey is where the signal lives in a keyed store.
func (m SignalMessage) stateKey() string {
	return schema.SignalStateKey(m.From, m.To, m.ConnectionID)
}

func signalTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// seenTracker remembers the newest timestamp handled per key so a
// polling reader returns each signal once.
type seenTracker map[string]time.Time

// newer reports whether timestamp is newer than the last one recorded
// for key, and records it if so.
func (s seenTracker) newer(key, timestamp string) bool {
	parsed, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return false
	}
	if last, ok := s[key]; ok && !parsed.After(last) {
		return false
	}
	s[key] = parsed
	return true
}
