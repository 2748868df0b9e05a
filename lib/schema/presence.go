// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// PresenceStatus is a peer's lobby status.
type PresenceStatus string

const (
	// StatusWaiting peers are eligible for random matching.
	StatusWaiting PresenceStatus = "waiting"
	// StatusPaired peers are in a random chat.
	StatusPaired PresenceStatus = "paired"
	// StatusBusy peers are online but not looking for a match.
	StatusBusy PresenceStatus = "busy"
)

// IsKnown reports whether s is one of the defined statuses.
func (s PresenceStatus) IsKnown() bool {
	switch s {
	case StatusWaiting, StatusPaired, StatusBusy:
		return true
	}
	return false
}

// PresenceContent is the content of an EventTypePresence state event.
type PresenceContent struct {
	PeerID string         `json:"peerId"`
	Status PresenceStatus `json:"status"`

	// Timestamp is the ms-epoch time the current status was first
	// published. Matchmaking orders waiters by it.
	Timestamp int64 `json:"timestamp"`

	// RefreshedAt is the ms-epoch time of the last heartbeat. Readers
	// drop records whose heartbeat is too old.
	RefreshedAt int64 `json:"refreshed_at,omitempty"`

	Profile *Profile `json:"profile,omitempty"`
}

// Left reports whether the content is the empty record a peer writes
// when leaving the lobby.
func (c PresenceContent) Left() bool {
	return c.PeerID == "" && c.Status == ""
}
