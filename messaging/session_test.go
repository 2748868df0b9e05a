// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package messaging_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/strangers-chat/strangers/lib/schema"
	"github.com/strangers-chat/strangers/messaging"
	"github.com/strangers-chat/strangers/messaging/messagingtest"
)

func TestRegisterGuestAndJoinByAlias(t *testing.T) {
	homeserver := messagingtest.New(t)
	roomID := homeserver.CreateRoom("#lobby:test.local")
	ctx := context.Background()

	session, err := homeserver.Client(t).RegisterGuest(ctx)
	if err != nil {
		t.Fatalf("RegisterGuest: %v", err)
	}
	if session.UserID() == "" || session.DeviceID() == "" {
		t.Fatalf("guest session missing ids: %q %q", session.UserID(), session.DeviceID())
	}

	joined, err := session.JoinRoom(ctx, "#lobby:test.local")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if joined != roomID {
		t.Errorf("JoinRoom = %q, want %q", joined, roomID)
	}

	resolved, err := session.ResolveAlias(ctx, "#lobby:test.local")
	if err != nil {
		t.Fatalf("ResolveAlias: %v", err)
	}
	if resolved != roomID {
		t.Errorf("ResolveAlias = %q, want %q", resolved, roomID)
	}
}

func TestRegisterGuestDisabled(t *testing.T) {
	homeserver := messagingtest.New(t)
	homeserver.DisableGuests()

	_, err := homeserver.Client(t).RegisterGuest(context.Background())
	if !messaging.IsMatrixError(err, messaging.ErrCodeGuestAccessForbidden) {
		t.Fatalf("RegisterGuest error = %v, want M_GUEST_ACCESS_FORBIDDEN", err)
	}
}

func TestLogin(t *testing.T) {
	homeserver := messagingtest.New(t)
	userID := homeserver.AddAccount("alice", "hunter2")
	client := homeserver.Client(t)
	ctx := context.Background()

	if _, err := client.Login(ctx, "alice", "wrong"); !messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
		t.Fatalf("bad password error = %v, want M_FORBIDDEN", err)
	}
	if _, err := client.Login(ctx, "", "x"); err == nil {
		t.Fatal("empty username should fail")
	}

	session, err := client.Login(ctx, "alice", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	whoami, err := session.WhoAmI(ctx)
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if whoami.UserID != userID {
		t.Errorf("WhoAmI = %q, want %q", whoami.UserID, userID)
	}

	if err := session.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := session.WhoAmI(ctx); !messaging.IsMatrixError(err, messaging.ErrCodeUnknownToken) {
		t.Fatalf("WhoAmI after logout = %v, want M_UNKNOWN_TOKEN", err)
	}
}

func TestStateEvents(t *testing.T) {
	homeserver := messagingtest.New(t)
	roomID := homeserver.CreateRoom("")
	session := homeserver.Session(t, "bob", roomID)
	ctx := context.Background()

	key := schema.SignalStateKey("a", "b", "c1")
	content := schema.SignalContent{ConnectionID: "c1", From: "a", To: "b", Type: schema.SignalOffer, SDP: "v=0"}
	if _, err := session.SendStateEvent(ctx, roomID, schema.EventTypeSignal, key, content); err != nil {
		t.Fatalf("SendStateEvent: %v", err)
	}

	events, err := session.GetRoomState(ctx, roomID)
	if err != nil {
		t.Fatalf("GetRoomState: %v", err)
	}
	if len(events) != 1 || events[0].StateKeyOrEmpty() != key {
		t.Fatalf("room state = %+v", events)
	}
	var decoded schema.SignalContent
	if err := json.Unmarshal(events[0].Content, &decoded); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if decoded.SDP != "v=0" {
		t.Errorf("SDP = %q", decoded.SDP)
	}
}

func TestNonMemberCannotWriteState(t *testing.T) {
	homeserver := messagingtest.New(t)
	roomID := homeserver.CreateRoom("")
	outsider := homeserver.Session(t, "eve", "")

	_, err := outsider.SendStateEvent(context.Background(), roomID, schema.EventTypePresence, "x", map[string]any{})
	if !messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
		t.Fatalf("error = %v, want M_FORBIDDEN", err)
	}
}

func TestSyncDeliversNewTimelineEvents(t *testing.T) {
	homeserver := messagingtest.New(t)
	roomID := homeserver.CreateRoom("")
	reader := homeserver.Session(t, "reader", roomID)
	writer := homeserver.Session(t, "writer", roomID)
	ctx := context.Background()

	initial, err := reader.Sync(ctx, messaging.SyncOptions{})
	if err != nil {
		t.Fatalf("initial Sync: %v", err)
	}

	done := make(chan *messaging.SyncResponse, 1)
	go func() {
		response, err := reader.Sync(ctx, messaging.SyncOptions{Since: initial.NextBatch, Timeout: 5000})
		if err != nil {
			t.Errorf("long-poll Sync: %v", err)
		}
		done <- response
	}()

	message := schema.MessageContent{MsgType: schema.MsgTypeText, Body: "hello lobby", PeerID: "peer-w"}
	if _, err := writer.SendEvent(ctx, roomID, schema.EventTypeMessage, message); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}

	var response *messaging.SyncResponse
	select {
	case response = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("long-poll sync did not return")
	}
	if response == nil {
		t.Fatal("sync failed")
	}
	events := response.Rooms.Join[roomID].Timeline.Events
	if len(events) != 1 || events[0].Type != schema.EventTypeMessage {
		t.Fatalf("timeline = %+v", events)
	}
	var content schema.MessageContent
	if err := json.Unmarshal(events[0].Content, &content); err != nil {
		t.Fatalf("decoding message: %v", err)
	}
	if content.Body != "hello lobby" || content.PeerID != "peer-w" {
		t.Errorf("content = %+v", content)
	}
	if response.NextBatch == initial.NextBatch {
		t.Error("next_batch did not advance")
	}
}

func TestTURNCredentials(t *testing.T) {
	homeserver := messagingtest.New(t)
	session := homeserver.Session(t, "t", "")
	ctx := context.Background()

	if _, err := session.TURNCredentials(ctx); !messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
		t.Fatalf("unconfigured TURN error = %v, want M_NOT_FOUND", err)
	}

	homeserver.SetTURN(&messaging.TURNCredentialsResponse{
		Username: "1700000000:t",
		Password: "secret",
		URIs:     []string{"turn:turn.test.local:3478?transport=udp"},
		TTL:      86400,
	})
	credentials, err := session.TURNCredentials(ctx)
	if err != nil {
		t.Fatalf("TURNCredentials: %v", err)
	}
	if len(credentials.URIs) != 1 || credentials.Password != "secret" {
		t.Errorf("credentials = %+v", credentials)
	}
}

func TestInjectedFailuresAreTransient(t *testing.T) {
	homeserver := messagingtest.New(t)
	roomID := homeserver.CreateRoom("")
	session := homeserver.Session(t, "f", roomID)
	ctx := context.Background()

	homeserver.FailNext(1)
	_, err := session.GetRoomState(ctx, roomID)
	if !messaging.IsTransient(err) {
		t.Fatalf("injected failure should be transient, got %v", err)
	}
	if _, err := session.GetRoomState(ctx, roomID); err != nil {
		t.Fatalf("request after injected failure: %v", err)
	}

	homeserver.SetOffline(true)
	if _, err := session.GetRoomState(ctx, roomID); err == nil {
		t.Fatal("offline homeserver should fail")
	}
	homeserver.SetOffline(false)
	if _, err := session.GetRoomState(ctx, roomID); err != nil {
		t.Fatalf("back online: %v", err)
	}
}
