// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Matrix event types used in the lobby room.
const (
	// EventTypePresence is one peer's lobby record.
	//
	// State key: the peer id.
	// Content: PresenceContent, or {} once the peer has left.
	EventTypePresence = "chat.strangers.presence"

	// EventTypeSignal carries a WebRTC offer or answer between two
	// peers. The offerer gathers all ICE candidates before publishing
	// (vanilla ICE) so one event holds the complete SDP.
	//
	// State key: "<from>|<to>|<connection-id>". Peer ids never contain
	// '|', so the key splits unambiguously.
	// Content: SignalContent.
	EventTypeSignal = "chat.strangers.signal"

	// EventTypeMessage is the standard timeline message, used for the
	// lobby broadcast chat.
	EventTypeMessage = "m.room.message"

	// MsgTypeText is the msgtype of a plain text m.room.message.
	MsgTypeText = "m.text"
)

// MessageContent is the body of an m.room.message timeline event.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`

	// PeerID is the sender's peer id, so lobby readers can open a
	// direct chat with whoever wrote the line. Absent on messages
	// from ordinary Matrix clients.
	PeerID string `json:"chat.strangers.peer_id,omitempty"`
}
