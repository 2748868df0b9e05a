// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/strangers-chat/strangers/lib/schema"
	"github.com/strangers-chat/strangers/presence"
	"github.com/strangers-chat/strangers/session"
	"github.com/strangers-chat/strangers/wire"
)

func TestFormatMessage(t *testing.T) {
	lines := newTranscript(&bytes.Buffer{})
	tests := []struct {
		name    string
		message session.Message
		updated bool
		want    string
	}{
		{
			name:    "system",
			message: session.Message{ID: "x", Sender: session.SenderSystem, Payload: "You disconnected."},
			want:    "* You disconnected.",
		},
		{
			name:    "stranger text",
			message: session.Message{ID: "0123456789", Sender: session.SenderStranger, Kind: wire.DataText, Payload: "hi"},
			want:    "[01234567] Sam: hi",
		},
		{
			name: "own seen edited",
			message: session.Message{
				ID: "m1", Sender: session.SenderMe, Kind: wire.DataText, Payload: "hey",
				Edited: true, Status: session.StatusSeen,
				Reactions: []session.Reaction{{Emoji: "👍", Sender: session.SenderStranger}},
			},
			updated: true,
			want:    "[m1] you: hey (edited, seen, 👍)",
		},
		{
			name:    "image",
			message: session.Message{ID: "m2", Sender: session.SenderStranger, Kind: wire.DataImage, Payload: "aGVsbG8="},
			want:    "[m2] Sam: [image, 8 bytes]",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := lines.formatMessage(test.message, "Sam", test.updated); got != test.want {
				t.Errorf("formatMessage = %q, want %q", got, test.want)
			}
		})
	}
}

func TestShowEvents(t *testing.T) {
	var out bytes.Buffer
	lines := newTranscript(&out)

	lines.show(session.Event{Kind: session.EventModeChanged, Mode: session.ModeWaiting}, "Stranger")
	lines.show(session.Event{Kind: session.EventIndicatorsChanged, Indicators: session.Indicators{Typing: true}}, "Sam")
	lines.show(session.Event{Kind: session.EventIndicatorsChanged}, "Sam")
	lines.show(session.Event{Kind: session.EventNoticeChanged, Notice: session.Notice{Text: "Stranger disconnected."}}, "Sam")
	lines.show(session.Event{Kind: session.EventNoticeChanged}, "Sam")
	lines.show(session.Event{
		Kind:    session.EventFriendRequestReceived,
		PeerID:  "peer-9",
		Profile: &schema.Profile{Username: "nine"},
	}, "Sam")
	lines.show(session.Event{
		Kind:      session.EventBroadcastReceived,
		Broadcast: presence.Broadcast{Sender: "peer-3", Text: "anyone?"},
	}, "Sam")

	want := []string{
		"* Waiting for a stranger…",
		"Sam is typing…",
		"! Stranger disconnected.",
		"* nine wants to be friends. /accept peer-9",
		"[lobby peer-3] anyone?",
	}
	got := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("transcript:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}
