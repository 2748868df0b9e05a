// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/strangers-chat/strangers/lib/schema"
	"github.com/strangers-chat/strangers/notify"
	"github.com/strangers-chat/strangers/transport"
	"github.com/strangers-chat/strangers/wire"
)

func TestMainOpenSeedsGreetingAndAnnouncesProfile(t *testing.T) {
	u := newUnit(t)
	_, conn := u.install(RoleMain, "peer-z")

	if u.Mode() != ModeConnected {
		t.Fatalf("mode = %s, want connected", u.Mode())
	}
	messages := u.Messages()
	if len(messages) != 1 || messages[0].Sender != SenderSystem || messages[0].Payload != greeting(nil) {
		t.Fatalf("messages = %+v, want greeting", messages)
	}
	announced, ok := conn.lastSent().(wire.Profile)
	if !ok || announced.Profile.Username != "me" || announced.Update {
		t.Errorf("sent %+v, want profile announcement", conn.lastSent())
	}
}

func TestRouterMessageAndSeen(t *testing.T) {
	u := newUnit(t)
	main, conn := u.install(RoleMain, "peer-z")

	u.deliver(t, main, wire.Message{ID: "m1", DataType: wire.DataText, Payload: "hi"})
	received := u.message(t, "m1")
	if received.Sender != SenderStranger || received.Payload != "hi" || received.Kind != wire.DataText {
		t.Errorf("received = %+v", received)
	}
	if seen, ok := conn.lastSent().(wire.Seen); !ok || seen.MessageID != "m1" {
		t.Errorf("acknowledgment = %+v, want seen m1", conn.lastSent())
	}

	sent, ok := u.SendText("hello back")
	if !ok {
		t.Fatal("SendText reported no connection")
	}
	if sent.Status != StatusSent || sent.Sender != SenderMe {
		t.Errorf("sent = %+v", sent)
	}
	if message, ok := conn.lastSent().(wire.Message); !ok || message.ID != sent.ID || message.Payload != "hello back" {
		t.Errorf("wire message = %+v", conn.lastSent())
	}

	u.deliver(t, main, wire.Seen{MessageID: sent.ID})
	if status := u.message(t, sent.ID).Status; status != StatusSeen {
		t.Errorf("status after seen = %s", status)
	}
}

func TestRouterReactionDeduplicates(t *testing.T) {
	u := newUnit(t)
	main, conn := u.install(RoleMain, "peer-z")

	sent, ok := u.SendText("hello")
	if !ok {
		t.Fatal("SendText failed")
	}
	for range 2 {
		u.deliver(t, main, wire.Reaction{MessageID: sent.ID, Emoji: "👍"})
	}
	want := []Reaction{{Emoji: "👍", Sender: SenderStranger}}
	if got := u.message(t, sent.ID).Reactions; !slices.Equal(got, want) {
		t.Fatalf("reactions = %+v, want %+v", got, want)
	}
	eventually(t, "one reaction event per frame", func() bool {
		return u.events.count(EventReactionReceived) == 2
	})

	if !u.React(sent.ID, "👍") {
		t.Fatal("React returned false for a new reaction")
	}
	if reaction, ok := conn.lastSent().(wire.Reaction); !ok || reaction.MessageID != sent.ID {
		t.Errorf("wire reaction = %+v", conn.lastSent())
	}
	if u.React(sent.ID, "👍") {
		t.Error("React repeated an existing reaction")
	}
	if got := u.message(t, sent.ID).Reactions; len(got) != 2 {
		t.Errorf("reactions = %+v, want stranger and me", got)
	}
	if u.React("missing", "👍") {
		t.Error("React succeeded for an unknown message")
	}
}

func TestRouterEditByID(t *testing.T) {
	u := newUnit(t)
	main, _ := u.install(RoleMain, "peer-z")

	u.deliver(t, main, wire.Message{ID: "m1", DataType: wire.DataText, Payload: "helo"})
	u.deliver(t, main, wire.EditMessage{MessageID: "m1", Text: "hello"})
	edited := u.message(t, "m1")
	if edited.ID != "m1" || edited.Payload != "hello" || !edited.Edited {
		t.Errorf("edited = %+v", edited)
	}

	before := u.Messages()
	u.deliver(t, main, wire.EditMessage{MessageID: "unknown", Text: "nope"})
	if after := u.Messages(); len(after) != len(before) || after[1].Payload != "hello" {
		t.Errorf("unknown id changed messages: %+v", after)
	}

	// The stranger cannot edit this user's messages.
	mine, _ := u.SendText("mine")
	u.deliver(t, main, wire.EditMessage{MessageID: mine.ID, Text: "hijacked"})
	if got := u.message(t, mine.ID); got.Payload != "mine" || got.Edited {
		t.Errorf("own message after remote edit = %+v", got)
	}
}

func TestRouterLegacyEditFallback(t *testing.T) {
	tests := []struct {
		name     string
		fallback bool
		want     string
	}{
		{name: "enabled", fallback: true, want: "second!"},
		{name: "disabled", fallback: false, want: "second"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			u := newUnit(t, func(config *Config) { config.LegacyEditFallback = test.fallback })
			main, _ := u.install(RoleMain, "peer-z")
			u.deliver(t, main, wire.Message{ID: "m1", DataType: wire.DataText, Payload: "first"})
			u.deliver(t, main, wire.Message{ID: "m2", DataType: wire.DataText, Payload: "second"})
			u.deliver(t, main, wire.Message{ID: "m3", DataType: wire.DataImage, Payload: "aW1n"})

			u.deliver(t, main, wire.EditMessage{Text: "second!"})

			if got := u.message(t, "m2").Payload; got != test.want {
				t.Errorf("m2 = %q, want %q", got, test.want)
			}
			if got := u.message(t, "m1").Payload; got != "first" {
				t.Errorf("m1 = %q, want untouched", got)
			}
		})
	}
}

func TestOwnEdit(t *testing.T) {
	u := newUnit(t)
	main, conn := u.install(RoleMain, "peer-z")

	sent, _ := u.SendText("teh")
	if !u.Edit(sent.ID, "the") {
		t.Fatal("Edit failed")
	}
	if got := u.message(t, sent.ID); got.Payload != "the" || !got.Edited || got.ID != sent.ID {
		t.Errorf("after edit = %+v", got)
	}
	if edit, ok := conn.lastSent().(wire.EditMessage); !ok || edit.MessageID != sent.ID || edit.Text != "the" {
		t.Errorf("wire edit = %+v", conn.lastSent())
	}

	u.deliver(t, main, wire.Message{ID: "theirs", DataType: wire.DataText, Payload: "x"})
	if u.Edit("theirs", "y") {
		t.Error("Edit changed the stranger's message")
	}
	if u.Edit("unknown", "y") {
		t.Error("Edit succeeded for an unknown id")
	}
}

func TestIndicatorsClearAfterInactivity(t *testing.T) {
	u := newUnit(t)
	main, _ := u.install(RoleMain, "peer-z")

	u.deliver(t, main, wire.Typing{Active: true})
	if !u.Indicators().Typing {
		t.Fatal("typing not set")
	}
	u.clock.Advance(3 * time.Second)
	u.deliver(t, main, wire.Typing{Active: true})
	u.clock.Advance(3 * time.Second)
	if !u.Indicators().Typing {
		t.Fatal("typing cleared although refreshed within the timeout")
	}
	u.clock.Advance(time.Second)
	if u.Indicators().Typing {
		t.Fatal("typing still set after the timeout")
	}

	u.deliver(t, main, wire.Recording{Active: true})
	u.deliver(t, main, wire.Typing{Active: true})
	u.deliver(t, main, wire.Message{ID: "m1", DataType: wire.DataText, Payload: "done"})
	if got := u.Indicators(); got != (Indicators{}) {
		t.Errorf("indicators after message = %+v, want cleared", got)
	}

	u.deliver(t, main, wire.Recording{Active: true})
	u.deliver(t, main, wire.Recording{Active: false})
	if u.Indicators().Recording {
		t.Error("recording still set after an explicit stop")
	}
	// The cancelled timer must not fire into a later indicator.
	u.deliver(t, main, wire.Recording{Active: true})
	u.clock.Advance(DefaultIndicatorTimeout - time.Millisecond)
	if !u.Indicators().Recording {
		t.Error("recording cleared early")
	}
}

func TestIndicatorsIgnoredOnDirect(t *testing.T) {
	u := newUnit(t)
	direct, _ := u.install(RoleDirect, "friend")
	u.deliver(t, direct, wire.Typing{Active: true})
	u.deliver(t, direct, wire.VanishMode{Enabled: true})
	if u.Indicators().Typing || u.VanishMode() {
		t.Error("direct connection changed main chat state")
	}
}

func TestProfilePatchesGreeting(t *testing.T) {
	u := newUnit(t)
	main, _ := u.install(RoleMain, "peer-z")

	u.deliver(t, main, wire.Profile{Profile: &schema.Profile{Username: "zoe", Interests: []string{"go"}}})

	if got := u.Messages()[0].Payload; got != "You're now chatting with zoe. Say hi!" {
		t.Errorf("greeting = %q", got)
	}
	if got := u.RemoteProfile(); got == nil || got.Username != "zoe" {
		t.Errorf("remote profile = %+v", got)
	}
	recents := u.Store().Recents()
	if len(recents) != 1 || recents[0].PeerID != "peer-z" || recents[0].Name() != "zoe" {
		t.Errorf("recents = %+v", recents)
	}
	eventually(t, "profile event", func() bool {
		event, ok := u.events.last(EventProfileReceived)
		return ok && event.Main && event.PeerID == "peer-z"
	})
}

func TestProfileUpdateRefreshesFriend(t *testing.T) {
	u := newUnit(t)
	u.Store().AddFriend("friend", &schema.Profile{Username: "old"})
	direct, _ := u.install(RoleDirect, "friend")

	u.deliver(t, direct, wire.Profile{Profile: &schema.Profile{Username: "new"}, Update: true})

	if friends := u.Store().Friends(); len(friends) != 1 || friends[0].Name() != "new" {
		t.Errorf("friends = %+v", friends)
	}
	if got := direct.Profile(); got == nil || got.Username != "new" {
		t.Errorf("connection profile = %+v", got)
	}
}

func TestVanishModeMirrorsRemote(t *testing.T) {
	u := newUnit(t)
	main, conn := u.install(RoleMain, "peer-z")

	u.deliver(t, main, wire.VanishMode{Enabled: true})
	if !u.VanishMode() || !u.Store().VanishMode() {
		t.Fatal("vanish mode not mirrored")
	}
	u.deliver(t, main, wire.Message{ID: "m1", DataType: wire.DataText, Payload: "secret"})
	if !u.message(t, "m1").Vanish {
		t.Error("message received in vanish mode not marked")
	}

	u.SetVanishMode(false)
	if mode, ok := conn.lastSent().(wire.VanishMode); !ok || mode.Enabled {
		t.Errorf("wire vanish = %+v", conn.lastSent())
	}
	if u.Store().VanishMode() {
		t.Error("local vanish preference not stored")
	}
}

func TestDirectFramesGoToHistory(t *testing.T) {
	u := newUnit(t)
	direct, conn := u.install(RoleDirect, "friend")
	u.deliver(t, direct, wire.Profile{Profile: &schema.Profile{Username: "fran"}})

	u.deliver(t, direct, wire.Message{ID: "d1", DataType: wire.DataText, Payload: "hey"})
	u.deliver(t, direct, wire.Reaction{MessageID: "d1", Emoji: "🎉"})
	u.deliver(t, direct, wire.EditMessage{MessageID: "d1", Text: "hey there"})

	if len(u.Messages()) != 0 {
		t.Errorf("direct message reached the main chat: %+v", u.Messages())
	}
	history := u.Store().History("friend")
	if len(history) != 1 {
		t.Fatalf("history = %+v", history)
	}
	if got := history[0]; got.Payload != "hey there" || !got.Edited || len(got.Reactions) != 1 || got.Sender != string(SenderStranger) {
		t.Errorf("stored message = %+v", got)
	}
	eventually(t, "direct message event", func() bool {
		event, ok := u.events.last(EventDirectMessageReceived)
		return ok && event.PeerID == "friend" && event.Message.ID == "d1"
	})

	notes := u.notes.all()
	if kinds := u.notes.kinds(); !slices.Equal(kinds, []notify.Kind{notify.KindDirectMessage, notify.KindReaction}) {
		t.Fatalf("notification kinds = %v", kinds)
	}
	if notes[0].Title != "fran" || notes[0].Body != "hey" {
		t.Errorf("direct message notification = %+v", notes[0])
	}

	sent, ok := u.SendDirect("friend", wire.DataText, "reply")
	if !ok {
		t.Fatal("SendDirect failed")
	}
	if message, ok := conn.lastSent().(wire.Message); !ok || message.ID != sent.ID {
		t.Errorf("wire message = %+v", conn.lastSent())
	}
	if history := u.Store().History("friend"); len(history) != 2 || history[1].Sender != string(SenderMe) {
		t.Errorf("history after send = %+v", history)
	}
	if !u.ReactDirect("friend", "d1", "❤️") {
		t.Error("ReactDirect failed")
	}
	if _, ok := u.SendDirect("nobody", wire.DataText, "x"); ok {
		t.Error("SendDirect succeeded without a connection")
	}
}

func TestFriendRequestFlow(t *testing.T) {
	u := newUnit(t)
	direct, conn := u.install(RoleDirect, "friend")

	u.deliver(t, direct, wire.FriendRequest{Profile: &schema.Profile{Username: "fran"}})
	requests := u.Store().PendingRequests()
	if len(requests) != 1 || requests[0].PeerID != "friend" {
		t.Fatalf("pending requests = %+v", requests)
	}
	eventually(t, "friend request event", func() bool {
		return u.events.count(EventFriendRequestReceived) == 1
	})

	if !u.AcceptFriendRequest("friend") {
		t.Fatal("AcceptFriendRequest failed")
	}
	if accept, ok := conn.lastSent().(wire.FriendAccept); !ok || accept.Profile.Username != "me" {
		t.Errorf("wire accept = %+v", conn.lastSent())
	}
	if !u.Store().IsFriend("friend") || len(u.Store().PendingRequests()) != 0 {
		t.Error("accepting did not move the request to friends")
	}
	if u.AcceptFriendRequest("friend") {
		t.Error("accepted a request twice")
	}

	other, _ := u.install(RoleDirect, "other")
	if !u.SendFriendRequest("other") {
		t.Fatal("SendFriendRequest failed")
	}
	u.deliver(t, other, wire.FriendAccept{Profile: &schema.Profile{Username: "otto"}})
	if !u.Store().IsFriend("other") {
		t.Error("friend accept not stored")
	}
	if kinds := u.notes.kinds(); !slices.Contains(kinds, notify.KindFriendRequest) || !slices.Contains(kinds, notify.KindFriendAccepted) {
		t.Errorf("notification kinds = %v", kinds)
	}
}

func TestFriendRequestOverMainChat(t *testing.T) {
	u := newUnit(t)
	_, conn := u.install(RoleMain, "peer-z")
	if !u.SendFriendRequest("peer-z") {
		t.Fatal("SendFriendRequest to the main partner failed")
	}
	if _, ok := conn.lastSent().(wire.FriendRequest); !ok {
		t.Errorf("sent %+v", conn.lastSent())
	}
	if u.SendFriendRequest("stranger-nobody-knows") {
		t.Error("SendFriendRequest succeeded without a connection")
	}
}

func TestUnknownAndMalformedFramesAreIgnored(t *testing.T) {
	u := newUnit(t)
	main, _ := u.install(RoleMain, "peer-z")
	before := u.Messages()

	u.deliverRaw(main, []byte(`{"type":"sticker","payload":"cat"}`))
	u.deliverRaw(main, []byte(`not json`))
	u.deliverRaw(main, []byte(`{"payload":"no type"}`))

	if after := u.Messages(); len(after) != len(before) {
		t.Errorf("messages changed: %+v", after)
	}
	if u.Mode() != ModeConnected {
		t.Errorf("mode = %s", u.Mode())
	}
}

func TestRemoteDisconnectEndsMainChat(t *testing.T) {
	u := newUnit(t)
	main, conn := u.install(RoleMain, "peer-z")
	u.deliver(t, main, wire.Typing{Active: true})

	u.deliver(t, main, wire.Disconnect{})

	if u.Mode() != ModeDisconnected {
		t.Errorf("mode = %s, want disconnected", u.Mode())
	}
	if u.Main() != nil {
		t.Error("main slot still held")
	}
	if !conn.isClosed() {
		t.Error("connection not closed")
	}
	if u.Indicators().Typing {
		t.Error("typing indicator survived the disconnect")
	}
	messages := u.Messages()
	if last := messages[len(messages)-1]; last.Sender != SenderSystem || last.Payload != "Stranger disconnected." {
		t.Errorf("last message = %+v", last)
	}
	if _, ok := u.SendText("anyone?"); ok {
		t.Error("SendText succeeded after disconnect")
	}
}

func TestRemoteDisconnectOnDirect(t *testing.T) {
	u := newUnit(t)
	u.install(RoleMain, "peer-z")
	direct, _ := u.install(RoleDirect, "friend")

	u.deliver(t, direct, wire.Disconnect{})

	if u.Direct("friend") != nil {
		t.Error("direct connection still registered")
	}
	eventually(t, "direct-closed event", func() bool {
		return u.events.count(EventDirectClosed) == 1
	})
	if u.Mode() != ModeConnected {
		t.Errorf("mode = %s, want connected", u.Mode())
	}
}

func TestSendWithoutConnectionIsNoop(t *testing.T) {
	u := newUnit(t)
	if _, ok := u.SendText("hello"); ok {
		t.Error("SendText succeeded while idle")
	}
	if _, ok := u.SendImage("aW1n"); ok {
		t.Error("SendImage succeeded while idle")
	}
	if u.SetTyping(true) || u.SetRecording(true) {
		t.Error("indicator sent while idle")
	}
	if len(u.Messages()) != 0 {
		t.Errorf("messages = %+v", u.Messages())
	}
}

func TestConnectionErrors(t *testing.T) {
	u := newUnit(t)
	main, conn := u.install(RoleMain, "peer-z")

	u.handleConnEvent(main, transport.Event{Kind: transport.EventError, Err: errors.New("jitter")})
	notice, ok := u.Notice()
	if !ok || notice.Kind != NoticeNetwork || !notice.Transient {
		t.Fatalf("notice = %+v, %v", notice, ok)
	}
	if !main.Open() || u.Mode() != ModeConnected {
		t.Error("non-fatal error broke the connection")
	}

	unsupported := &transport.Error{Kind: transport.KindUnsupported}
	u.handleConnEvent(main, transport.Event{Kind: transport.EventError, Err: unsupported, Fatal: true})
	if u.Mode() != ModeError {
		t.Errorf("mode = %s, want error", u.Mode())
	}
	notice, ok = u.Notice()
	if !ok || notice.Kind != NoticeFatal || notice.Transient {
		t.Errorf("notice = %+v", notice)
	}
	if !conn.isClosed() || u.Main() != nil {
		t.Error("fatal error left the main connection registered")
	}
}

func TestNoticeLifecycle(t *testing.T) {
	u := newUnit(t)

	u.mu.Lock()
	u.setNoticeLocked(NoticeNetwork, "first", true)
	u.mu.Unlock()
	u.clock.Advance(DefaultNoticeDuration / 2)

	// Replacing the notice restarts the expiry.
	u.mu.Lock()
	u.setNoticeLocked(NoticePeerUnavailable, "second", true)
	u.mu.Unlock()
	u.clock.Advance(DefaultNoticeDuration / 2)
	if notice, ok := u.Notice(); !ok || notice.Text != "second" {
		t.Fatalf("notice = %+v, %v; want second still shown", notice, ok)
	}
	u.clock.Advance(DefaultNoticeDuration / 2)
	if _, ok := u.Notice(); ok {
		t.Fatal("transient notice did not expire")
	}

	u.mu.Lock()
	u.setNoticeLocked(NoticeSignaling, "persistent", false)
	u.mu.Unlock()
	u.clock.Advance(time.Minute)
	if _, ok := u.Notice(); !ok {
		t.Fatal("persistent notice expired")
	}
	u.DismissNotice()
	if _, ok := u.Notice(); ok {
		t.Fatal("DismissNotice left the notice")
	}
}
