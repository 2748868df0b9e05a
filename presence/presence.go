// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package presence implements the shared lobby: every client publishes
// one record (status, first-publish time, profile) and receives the
// complete set of records whenever any of them changes.
//
// [MemoryTopic] keeps the lobby inside one process. [MatrixChannel]
// stores each record as a Matrix room state event, keeps it alive with
// a heartbeat and polls the room for the others. Both also implement
// [Broadcaster], the lobby-wide chat.
package presence

import (
	"context"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/strangers-chat/strangers/lib/schema"
)

// Status is a peer's lobby status.
type Status = schema.PresenceStatus

const (
	StatusWaiting = schema.StatusWaiting
	StatusPaired  = schema.StatusPaired
	StatusBusy    = schema.StatusBusy
)

// Record is one participant's published state.
type Record struct {
	PeerID string
	Status Status

	// Timestamp is the ms-epoch time the current status was first
	// published. Republishing the same status keeps it.
	Timestamp int64

	Profile *schema.Profile
}

// Snapshot is the complete lobby keyed by peer id. Receivers own the
// snapshot they are given.
type Snapshot map[string]Record

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	clone := make(Snapshot, len(s))
	for id, record := range s {
		record.Profile = record.Profile.Clone()
		clone[id] = record
	}
	return clone
}

// Others returns every record except selfID's, ordered by peer id.
func (s Snapshot) Others(selfID string) []Record {
	records := make([]Record, 0, len(s))
	for id, record := range s {
		if id != selfID {
			records = append(records, record)
		}
	}
	slices.SortFunc(records, func(a, b Record) int {
		return strings.Compare(a.PeerID, b.PeerID)
	})
	return records
}

// Equal reports whether two snapshots hold the same records.
func (s Snapshot) Equal(other Snapshot) bool {
	return maps.EqualFunc(s, other, func(a, b Record) bool {
		return a.PeerID == b.PeerID &&
			a.Status == b.Status &&
			a.Timestamp == b.Timestamp &&
			reflect.DeepEqual(a.Profile, b.Profile)
	})
}

// Channel is one client's handle on the lobby.
type Channel interface {
	// Join publishes the first record for selfID and starts receiving
	// snapshots.
	Join(ctx context.Context, selfID string, status Status, profile *schema.Profile) error

	// Publish replaces this client's record.
	Publish(ctx context.Context, status Status, profile *schema.Profile) error

	// Subscribe registers fn for every snapshot, starting with the
	// current one if there is any. Calls to fn are sequential and in
	// order; fn runs on a goroutine owned by the channel.
	Subscribe(fn func(Snapshot)) (unsubscribe func())

	// Leave removes this client's record and ends every subscription.
	Leave(ctx context.Context) error
}

// Broadcast is one line of the lobby chat.
type Broadcast struct {
	// PeerID is the sender's peer id, empty when the line came from a
	// client that does not set one.
	PeerID string

	// Sender is the transport-level sender (a Matrix user id, or the
	// peer id in memory).
	Sender string

	Text      string
	Timestamp time.Time
}

// Broadcaster is implemented by channels that also carry the lobby
// chat.
type Broadcaster interface {
	SendBroadcast(ctx context.Context, text string) error
	SubscribeBroadcast(fn func(Broadcast)) (unsubscribe func())
}

// stamp returns the Timestamp for a new publication: kept when the
// status is unchanged, now otherwise.
func stamp(previous Record, hadPrevious bool, status Status, now time.Time) int64 {
	if hadPrevious && previous.Status == status {
		return previous.Timestamp
	}
	return now.UnixMilli()
}
