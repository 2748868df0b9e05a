// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/strangers-chat/strangers/lib/schema"
)

// frame is the JSON shape shared by every tag.
type frame struct {
	Type      Tag             `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	DataType  DataType        `json:"dataType,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	ID        string          `json:"id,omitempty"`
}

// ErrMissingTag is returned by Decode for an object without "type".
var ErrMissingTag = errors.New("wire: frame has no type")

// Encode serializes an envelope. Unknown envelopes re-encode their raw
// bytes unchanged.
func Encode(envelope Envelope) ([]byte, error) {
	if unknown, ok := envelope.(Unknown); ok {
		if len(unknown.Raw) == 0 {
			return nil, fmt.Errorf("wire: unknown frame %q has no raw bytes", unknown.Type)
		}
		return unknown.Raw, nil
	}

	f := frame{Type: envelope.Tag()}
	var payload any
	switch e := envelope.(type) {
	case Message:
		if e.ID == "" {
			return nil, fmt.Errorf("wire: message without id")
		}
		f.ID, f.DataType, payload = e.ID, e.DataType, e.Payload
	case Seen:
		f.MessageID = e.MessageID
	case Typing:
		payload = e.Active
	case Recording:
		payload = e.Active
	case Disconnect:
	case Profile:
		payload = e.Profile
	case VanishMode:
		payload = e.Enabled
	case Reaction:
		f.MessageID, payload = e.MessageID, e.Emoji
	case EditMessage:
		f.MessageID, payload = e.MessageID, e.Text
	case FriendRequest:
		payload = e.Profile
	case FriendAccept:
		payload = e.Profile
	default:
		return nil, fmt.Errorf("wire: cannot encode %T", envelope)
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("wire: encoding %s payload: %w", f.Type, err)
		}
		f.Payload = raw
	}
	return json.Marshal(f)
}

// Decode parses one frame. Unrecognized tags yield Unknown and no
// error.
func Decode(data []byte) (Envelope, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("wire: malformed frame: %w", err)
	}
	if f.Type == "" {
		return nil, ErrMissingTag
	}

	switch f.Type {
	case TagMessage:
		text, err := decodePayload[string](f)
		if err != nil {
			return nil, err
		}
		dataType := f.DataType
		if dataType == "" {
			dataType = DataText
		}
		if !dataType.Valid() {
			return nil, fmt.Errorf("wire: message %q has unknown dataType %q", f.ID, dataType)
		}
		return Message{ID: f.ID, DataType: dataType, Payload: text}, nil

	case TagSeen:
		messageID := f.MessageID
		if messageID == "" {
			// Some peers put the acknowledged id in the payload.
			fromPayload, err := decodePayload[string](f)
			if err != nil {
				return nil, err
			}
			messageID = fromPayload
		}
		return Seen{MessageID: messageID}, nil

	case TagTyping:
		active, err := decodePayload[bool](f)
		return Typing{Active: active}, err

	case TagRecording:
		active, err := decodePayload[bool](f)
		return Recording{Active: active}, err

	case TagDisconnect:
		return Disconnect{}, nil

	case TagProfile, TagProfileUpdate:
		profile, err := decodePayload[*schema.Profile](f)
		if err != nil {
			return nil, err
		}
		return Profile{Profile: profile, Update: f.Type == TagProfileUpdate}, nil

	case TagVanishMode:
		enabled, err := decodePayload[bool](f)
		return VanishMode{Enabled: enabled}, err

	case TagReaction:
		emoji, err := decodePayload[string](f)
		if err != nil {
			return nil, err
		}
		if f.MessageID == "" || emoji == "" {
			return nil, fmt.Errorf("wire: reaction needs messageId and emoji")
		}
		return Reaction{MessageID: f.MessageID, Emoji: emoji}, nil

	case TagEditMessage:
		text, err := decodePayload[string](f)
		if err != nil {
			return nil, err
		}
		return EditMessage{MessageID: f.MessageID, Text: text}, nil

	case TagFriendRequest:
		profile, err := decodePayload[*schema.Profile](f)
		return FriendRequest{Profile: profile}, err

	case TagFriendAccept:
		profile, err := decodePayload[*schema.Profile](f)
		return FriendAccept{Profile: profile}, err

	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Type: string(f.Type), Raw: raw}, nil
	}
}

// decodePayload unmarshals the payload into T. A missing payload is
// T's zero value.
func decodePayload[T any](f frame) (T, error) {
	var value T
	if len(f.Payload) == 0 || string(f.Payload) == "null" {
		return value, nil
	}
	if err := json.Unmarshal(f.Payload, &value); err != nil {
		return value, fmt.Errorf("wire: %s payload: %w", f.Type, err)
	}
	return value, nil
}
