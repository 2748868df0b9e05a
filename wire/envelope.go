// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"

	"github.com/strangers-chat/strangers/lib/schema"
)

// Tag is the "type" field of a frame.
type Tag string

const (
	TagMessage       Tag = "message"
	TagSeen          Tag = "seen"
	TagTyping        Tag = "typing"
	TagRecording     Tag = "recording"
	TagDisconnect    Tag = "disconnect"
	TagProfile       Tag = "profile"
	TagProfileUpdate Tag = "profile_update"
	TagVanishMode    Tag = "vanish_mode"
	TagReaction      Tag = "reaction"
	TagEditMessage   Tag = "edit_message"
	TagFriendRequest Tag = "friend_request"
	TagFriendAccept  Tag = "friend_accept"
)

// DataType is the content kind of a chat message.
type DataType string

const (
	DataText  DataType = "text"
	DataImage DataType = "image"
	DataAudio DataType = "audio"
)

// Valid reports whether d is a known content kind.
func (d DataType) Valid() bool {
	switch d {
	case DataText, DataImage, DataAudio:
		return true
	}
	return false
}

// Envelope is one decoded frame. The concrete type is one of the
// variants below; switch on it.
type Envelope interface {
	Tag() Tag
	envelope()
}

// Message is a chat message. Payload is the text, or base64 data for
// images and audio.
type Message struct {
	ID       string
	DataType DataType
	Payload  string
}

// Seen acknowledges delivery of the message with MessageID.
type Seen struct {
	MessageID string
}

// Typing reports whether the sender is composing text.
type Typing struct {
	Active bool
}

// Recording reports whether the sender is recording audio.
type Recording struct {
	Active bool
}

// Disconnect announces the sender is leaving the chat.
type Disconnect struct{}

// Profile announces the sender's profile. Update distinguishes a
// profile_update (sent after an edit) from the announcement sent on
// connection open; receivers treat both the same.
type Profile struct {
	Profile *schema.Profile
	Update  bool
}

// VanishMode mirrors the sender's vanish-mode preference.
type VanishMode struct {
	Enabled bool
}

// Reaction adds Emoji to the message with MessageID.
type Reaction struct {
	MessageID string
	Emoji     string
}

// EditMessage replaces the text of the message with MessageID. An empty
// MessageID comes from peers that predate message ids.
type EditMessage struct {
	MessageID string
	Text      string
}

// FriendRequest asks the receiver to become friends. Profile is the
// sender's, so the request can be displayed later.
type FriendRequest struct {
	Profile *schema.Profile
}

// FriendAccept accepts an earlier FriendRequest.
type FriendAccept struct {
	Profile *schema.Profile
}

// Unknown is a frame whose tag this version does not recognize.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Message) Tag() Tag       { return TagMessage }
func (Seen) Tag() Tag          { return TagSeen }
func (Typing) Tag() Tag        { return TagTyping }
func (Recording) Tag() Tag     { return TagRecording }
func (Disconnect) Tag() Tag    { return TagDisconnect }
func (VanishMode) Tag() Tag    { return TagVanishMode }
func (Reaction) Tag() Tag      { return TagReaction }
func (EditMessage) Tag() Tag   { return TagEditMessage }
func (FriendRequest) Tag() Tag { return TagFriendRequest }
func (FriendAccept) Tag() Tag  { return TagFriendAccept }
func (u Unknown) Tag() Tag     { return Tag(u.Type) }

func (p Profile) Tag() Tag {
	if p.Update {
		return TagProfileUpdate
	}
	return TagProfile
}

func (Message) envelope()       {}
func (Seen) envelope()          {}
func (Typing) envelope()        {}
func (Recording) envelope()     {}
func (Disconnect) envelope()    {}
func (Profile) envelope()       {}
func (VanishMode) envelope()    {}
func (Reaction) envelope()      {}
func (EditMessage) envelope()   {}
func (FriendRequest) envelope() {}
func (FriendAccept) envelope()  {}
func (Unknown) envelope()       {}
