// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"strings"
)

// Signal types.
const (
	SignalOffer  = "offer"
	SignalAnswer = "answer"
)

// SignalContent is the content of an EventTypeSignal state event. The
// same struct carries offers and answers; Type tells them apart.
type SignalContent struct {
	ConnectionID string `json:"connection_id"`
	From         string `json:"from"`
	To           string `json:"to"`
	Type         string `json:"type"`

	// Label is the data channel label of the offer. The answerer reads
	// it to learn the connection attributes before accepting.
	Label string `json:"label,omitempty"`

	// SDP is the complete session description including every
	// gathered ICE candidate.
	SDP string `json:"sdp"`

	// Timestamp is RFC 3339 with nanoseconds. A reader that has
	// already handled a newer signal for the same key ignores older
	// ones.
	Timestamp string `json:"timestamp"`
}

// SignalStateKey builds the state key for a signal from one peer to
// another on one connection.
func SignalStateKey(from, to, connectionID string) string {
	return from + "|" + to + "|" + connectionID
}

// ParseSignalStateKey splits a key built by SignalStateKey.
func ParseSignalStateKey(key string) (from, to, connectionID string, err error) {
	parts := strings.Split(key, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed signal state key %q", key)
	}
	return parts[0], parts[1], parts[2], nil
}
