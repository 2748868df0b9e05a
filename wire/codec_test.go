// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/strangers-chat/strangers/lib/schema"
)

func TestDecodeFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Envelope
	}{
		{"text message", `{"type":"message","id":"m1","dataType":"text","payload":"hi"}`,
			Message{ID: "m1", DataType: DataText, Payload: "hi"}},
		{"message defaults to text", `{"type":"message","id":"m2","payload":"yo"}`,
			Message{ID: "m2", DataType: DataText, Payload: "yo"}},
		{"image message", `{"type":"message","id":"m3","dataType":"image","payload":"aGk="}`,
			Message{ID: "m3", DataType: DataImage, Payload: "aGk="}},
		{"seen by messageId", `{"type":"seen","messageId":"m1"}`, Seen{MessageID: "m1"}},
		{"seen by payload", `{"type":"seen","payload":"m1"}`, Seen{MessageID: "m1"}},
		{"typing on", `{"type":"typing","payload":true}`, Typing{Active: true}},
		{"typing without payload", `{"type":"typing"}`, Typing{Active: false}},
		{"recording", `{"type":"recording","payload":true}`, Recording{Active: true}},
		{"disconnect", `{"type":"disconnect"}`, Disconnect{}},
		{"profile", `{"type":"profile","payload":{"username":"ana","age":22}}`,
			Profile{Profile: &schema.Profile{Username: "ana", Age: 22}}},
		{"profile update", `{"type":"profile_update","payload":{"username":"ana"}}`,
			Profile{Profile: &schema.Profile{Username: "ana"}, Update: true}},
		{"vanish", `{"type":"vanish_mode","payload":true}`, VanishMode{Enabled: true}},
		{"reaction", `{"type":"reaction","messageId":"m1","payload":"👍"}`, Reaction{MessageID: "m1", Emoji: "👍"}},
		{"edit", `{"type":"edit_message","messageId":"m1","payload":"fixed"}`, EditMessage{MessageID: "m1", Text: "fixed"}},
		{"legacy edit", `{"type":"edit_message","payload":"fixed"}`, EditMessage{Text: "fixed"}},
		{"friend request", `{"type":"friend_request","payload":{"username":"kai"}}`,
			FriendRequest{Profile: &schema.Profile{Username: "kai"}}},
		{"friend accept without profile", `{"type":"friend_accept"}`, FriendAccept{}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Decode([]byte(test.frame))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got, test.want) {
				t.Fatalf("Decode = %#v, want %#v", got, test.want)
			}
		})
	}
}

func TestDecodeUnknownTagIsIgnorable(t *testing.T) {
	frame := []byte(`{"type":"sticker","payload":{"pack":"cats"}}`)
	envelope, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	unknown, ok := envelope.(Unknown)
	if !ok {
		t.Fatalf("Decode = %T, want Unknown", envelope)
	}
	if unknown.Tag() != "sticker" {
		t.Errorf("Tag = %q", unknown.Tag())
	}
	reencoded, err := Encode(unknown)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(reencoded) != string(frame) {
		t.Errorf("re-encoded %s, want original bytes", reencoded)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `hello`},
		{"wrong payload shape", `{"type":"typing","payload":"yes"}`},
		{"reaction without target", `{"type":"reaction","payload":"👍"}`},
		{"bad data type", `{"type":"message","id":"m","dataType":"video","payload":"x"}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Decode([]byte(test.frame)); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := Decode([]byte(`{"payload":1}`)); !errors.Is(err, ErrMissingTag) {
		t.Fatalf("missing tag error = %v", err)
	}
}

func TestEncodeUsesWireFieldNames(t *testing.T) {
	tests := []struct {
		envelope Envelope
		want     map[string]any
	}{
		{Message{ID: "m1", DataType: DataAudio, Payload: "AAAA"},
			map[string]any{"type": "message", "id": "m1", "dataType": "audio", "payload": "AAAA"}},
		{Reaction{MessageID: "m1", Emoji: "🔥"},
			map[string]any{"type": "reaction", "messageId": "m1", "payload": "🔥"}},
		{Seen{MessageID: "m9"}, map[string]any{"type": "seen", "messageId": "m9"}},
		{Typing{Active: false}, map[string]any{"type": "typing", "payload": false}},
		{Disconnect{}, map[string]any{"type": "disconnect"}},
		{Profile{Profile: &schema.Profile{Username: "z"}, Update: true},
			map[string]any{"type": "profile_update", "payload": map[string]any{"username": "z"}}},
	}
	for _, test := range tests {
		t.Run(string(test.envelope.Tag()), func(t *testing.T) {
			data, err := Encode(test.envelope)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !reflect.DeepEqual(got, test.want) {
				t.Fatalf("Encode = %s, want %v", data, test.want)
			}
		})
	}
}

func TestEncodeRejectsMessageWithoutID(t *testing.T) {
	if _, err := Encode(Message{Payload: "x"}); err == nil {
		t.Fatal("expected error for message without id")
	}
}
