// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "encoding/json"

// AuthResponse is returned by register and login.
type AuthResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

// LoginRequest is the body of a password login.
type LoginRequest struct {
	Type                     string          `json:"type"`
	Identifier               LoginIdentifier `json:"identifier"`
	Password                 string          `json:"password"`
	InitialDeviceDisplayName string          `json:"initial_device_display_name,omitempty"`
}

// LoginIdentifier names the account for password login.
type LoginIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// Event is a Matrix event as returned by /state and /sync.
type Event struct {
	EventID        string          `json:"event_id"`
	Type           string          `json:"type"`
	Sender         string          `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
	RoomID         string          `json:"room_id,omitempty"`
	StateKey       *string         `json:"state_key,omitempty"`
	Unsigned       *EventUnsigned  `json:"unsigned,omitempty"`
}

// EventUnsigned holds optional unsigned data attached to events.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// StateKeyOrEmpty returns the state key, or "" for timeline events.
func (e Event) StateKeyOrEmpty() string {
	if e.StateKey == nil {
		return ""
	}
	return *e.StateKey
}

// SyncOptions configures a /sync request.
type SyncOptions struct {
	Since      string // next_batch from the previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds
	SetTimeout bool   // send timeout even when it is 0
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the subset of /sync the client reads.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection groups joined rooms by room id.
type RoomsSection struct {
	Join map[string]JoinedRoom `json:"join"`
}

// JoinedRoom holds the sync data for one joined room.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection is the timeline slice of a joined room.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// SendEventResponse is returned by event and state sends.
type SendEventResponse struct {
	EventID string `json:"event_id"`
}

// JoinRoomResponse is returned by /join.
type JoinRoomResponse struct {
	RoomID string `json:"room_id"`
}

// ResolveAliasResponse is returned by the directory endpoint.
type ResolveAliasResponse struct {
	RoomID  string   `json:"room_id"`
	Servers []string `json:"servers"`
}

// WhoAmIResponse is returned by /account/whoami.
type WhoAmIResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
	IsGuest  bool   `json:"is_guest,omitempty"`
}

// TURNCredentialsResponse is returned by /voip/turnServer.
type TURNCredentialsResponse struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	URIs     []string `json:"uris"`
	// TTL is the credential lifetime in seconds.
	TTL int `json:"ttl"`
}
