// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"slices"
	"time"

	"github.com/strangers-chat/strangers/store"
	"github.com/strangers-chat/strangers/wire"
)

// Sender says who wrote a message.
type Sender string

const (
	SenderMe       Sender = "me"
	SenderStranger Sender = "stranger"
	SenderSystem   Sender = "system"
)

// MessageStatus tracks delivery of this client's own messages.
type MessageStatus string

const (
	StatusSent MessageStatus = "sent"
	StatusSeen MessageStatus = "seen"
)

type Reaction struct {
	Emoji  string
	Sender Sender
}

// Message is one chat line. The sender's copy and the receiver's copy
// share only ID.
type Message struct {
	ID        string
	Sender    Sender
	Kind      wire.DataType
	Payload   string
	Timestamp time.Time
	Reactions []Reaction
	Edited    bool
	Vanish    bool
	Status    MessageStatus
}

func (m Message) clone() Message {
	m.Reactions = slices.Clone(m.Reactions)
	return m
}

// addReaction appends reaction unless the same sender already used the
// same emoji. Reports whether it was added.
func (m *Message) addReaction(reaction Reaction) bool {
	if slices.Contains(m.Reactions, reaction) {
		return false
	}
	m.Reactions = append(m.Reactions, reaction)
	return true
}

// stored converts a direct chat message for the history store.
func (m Message) stored() store.Message {
	reactions := make([]store.Reaction, len(m.Reactions))
	for i, reaction := range m.Reactions {
		reactions[i] = store.Reaction{Emoji: reaction.Emoji, Sender: string(reaction.Sender)}
	}
	return store.Message{
		ID:        m.ID,
		Sender:    string(m.Sender),
		Kind:      string(m.Kind),
		Payload:   m.Payload,
		Timestamp: m.Timestamp.UnixMilli(),
		Reactions: reactions,
		Edited:    m.Edited,
	}
}

// Indicators are the remote side's activity flags in the main chat.
type Indicators struct {
	Typing    bool
	Recording bool
}

// NoticeKind classifies a user-visible notice.
type NoticeKind string

const (
	NoticePeerUnavailable NoticeKind = "peer-unavailable"
	NoticeTimeout         NoticeKind = "timeout"
	NoticeSignaling       NoticeKind = "signaling"
	NoticeNetwork         NoticeKind = "network"
	NoticeFatal           NoticeKind = "fatal"
	NoticeInfo            NoticeKind = "info"
)

// Notice is the banner shown to the user. Transient notices expire on
// their own; the others stay until dismissed or replaced.
type Notice struct {
	Kind      NoticeKind
	Text      string
	Transient bool
	Expires   time.Time
}
