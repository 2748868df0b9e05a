// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"

	"github.com/strangers-chat/strangers/lib/queue"
	"github.com/strangers-chat/strangers/lib/schema"
	"github.com/strangers-chat/strangers/presence"
)

// EventKind identifies what changed.
type EventKind int

const (
	EventModeChanged EventKind = iota
	EventMessageAdded
	EventMessageUpdated
	EventIndicatorsChanged
	EventProfileReceived
	EventDirectOpened
	EventDirectClosed
	EventDirectMessageReceived
	EventReactionReceived
	EventFriendRequestReceived
	EventFriendAccepted
	EventVanishModeChanged
	EventNoticeChanged
	EventPresenceChanged
	EventBroadcastReceived
)

var eventKindNames = [...]string{
	EventModeChanged:           "mode-changed",
	EventMessageAdded:          "message-added",
	EventMessageUpdated:        "message-updated",
	EventIndicatorsChanged:     "indicators-changed",
	EventProfileReceived:       "profile-received",
	EventDirectOpened:          "direct-opened",
	EventDirectClosed:          "direct-closed",
	EventDirectMessageReceived: "direct-message-received",
	EventReactionReceived:      "reaction-received",
	EventFriendRequestReceived: "friend-request-received",
	EventFriendAccepted:        "friend-accepted",
	EventVanishModeChanged:     "vanish-mode-changed",
	EventNoticeChanged:         "notice-changed",
	EventPresenceChanged:       "presence-changed",
	EventBroadcastReceived:     "broadcast-received",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one observable change. Only the fields relevant to Kind are
// set.
type Event struct {
	Kind EventKind

	Mode Mode

	// Message is the added or updated message: a main chat message, or
	// the direct message for EventDirectMessageReceived.
	Message Message

	// PeerID is the remote peer for direct, profile, reaction and
	// friend events.
	PeerID string

	// Main is set when the event concerns the main chat.
	Main bool

	MessageID  string
	Emoji      string
	Profile    *schema.Profile
	Indicators Indicators
	Notice     Notice
	Vanish     bool
	Online     int
	Broadcast  presence.Broadcast
}

// worker runs submitted functions one at a time in submission order.
// Lobby calls go through it so a Leave never overtakes the Join or
// Publish before it.
type worker struct {
	jobs *queue.Unbounded[func()]
	done chan struct{}
}

func newWorker() *worker {
	w := &worker{jobs: queue.New[func()](), done: make(chan struct{})}
	go func() {
		defer close(w.done)
		for job := range w.jobs.Out() {
			job()
		}
	}()
	return w
}

func (w *worker) submit(job func()) {
	w.jobs.Push(job)
}

// stop runs the jobs already submitted, then returns.
func (w *worker) stop() {
	w.jobs.Close()
	<-w.done
}
