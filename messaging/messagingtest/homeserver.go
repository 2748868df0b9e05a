// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package messagingtest provides an in-process Matrix homeserver for
// tests. It implements the endpoints the messaging package calls:
// guest registration, password login, join/leave, room state, timeline
// sends, /sync with long-polling, and TURN credentials.
//
// Rooms, users and events live in memory. Failure injection
// ([Homeserver.FailNext], [Homeserver.SetOffline]) lets tests exercise
// signaling loss and lobby outages without a network.
package messagingtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/strangers-chat/strangers/messaging"
)

// ServerName is the server part of every id the homeserver issues.
const ServerName = "test.local"

type stateKey struct {
	eventType string
	key       string
}

type room struct {
	id       string
	members  map[string]bool
	state    map[stateKey]messaging.Event
	timeline []sequencedEvent
}

type sequencedEvent struct {
	sequence int
	event    messaging.Event
}

type account struct {
	userID   string
	password string
}

// Homeserver is a fake Matrix homeserver backed by httptest.Server.
type Homeserver struct {
	server *httptest.Server

	mu            sync.Mutex
	tokens        map[string]string // access token -> user id
	accounts      map[string]account
	rooms         map[string]*room
	aliases       map[string]string
	sequence      int
	changed       chan struct{}
	guestsAllowed bool
	turn          *messaging.TURNCredentialsResponse
	failNext      int
	offline       bool
	requests      map[string]int
}

// New starts a homeserver that is closed when the test ends.
func New(t testing.TB) *Homeserver {
	t.Helper()
	h := &Homeserver{
		tokens:        make(map[string]string),
		accounts:      make(map[string]account),
		rooms:         make(map[string]*room),
		aliases:       make(map[string]string),
		changed:       make(chan struct{}),
		guestsAllowed: true,
		requests:      make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /_matrix/client/v3/register", h.handleRegister)
	mux.HandleFunc("POST /_matrix/client/v3/login", h.handleLogin)
	mux.HandleFunc("POST /_matrix/client/v3/logout", h.authenticated(h.handleLogout))
	mux.HandleFunc("GET /_matrix/client/v3/account/whoami", h.authenticated(h.handleWhoAmI))
	mux.HandleFunc("POST /_matrix/client/v3/join/{room}", h.authenticated(h.handleJoin))
	mux.HandleFunc("POST /_matrix/client/v3/rooms/{room}/leave", h.authenticated(h.handleLeave))
	mux.HandleFunc("GET /_matrix/client/v3/directory/room/{alias}", h.authenticated(h.handleResolveAlias))
	mux.HandleFunc("PUT /_matrix/client/v3/rooms/{room}/send/{type}/{txn}", h.authenticated(h.handleSend))
	mux.HandleFunc("PUT /_matrix/client/v3/rooms/{room}/state/{type}/{key...}", h.authenticated(h.handlePutState))
	mux.HandleFunc("GET /_matrix/client/v3/rooms/{room}/state", h.authenticated(h.handleGetState))
	mux.HandleFunc("GET /_matrix/client/v3/sync", h.authenticated(h.handleSync))
	mux.HandleFunc("GET /_matrix/client/v3/voip/turnServer", h.authenticated(h.handleTURN))

	h.server = httptest.NewServer(h.counting(mux))
	t.Cleanup(h.server.Close)
	return h
}

// URL is the homeserver base URL.
func (h *Homeserver) URL() string {
	return h.server.URL
}

// Client returns a messaging.Client pointed at the homeserver.
func (h *Homeserver) Client(t testing.TB) *messaging.Client {
	t.Helper()
	client, err := messaging.NewClient(messaging.ClientConfig{HomeserverURL: h.URL()})
	if err != nil {
		t.Fatalf("messaging.NewClient: %v", err)
	}
	return client
}

// CreateRoom creates a room with the given alias ("#lobby:test.local")
// and returns its id. An empty alias creates an unaliased room.
func (h *Homeserver) CreateRoom(alias string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sequence++
	roomID := fmt.Sprintf("!room%d:%s", h.sequence, ServerName)
	h.rooms[roomID] = &room{
		id:      roomID,
		members: make(map[string]bool),
		state:   make(map[stateKey]messaging.Event),
	}
	if alias != "" {
		h.aliases[alias] = roomID
	}
	return roomID
}

// AddAccount registers a password account.
func (h *Homeserver) AddAccount(localpart, password string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	userID := "@" + localpart + ":" + ServerName
	h.accounts[localpart] = account{userID: userID, password: password}
	return userID
}

// Session returns a session for a fresh user already joined to roomID.
func (h *Homeserver) Session(t testing.TB, localpart, roomID string) *messaging.DirectSession {
	t.Helper()
	userID := "@" + localpart + ":" + ServerName
	token := "token-" + localpart

	h.mu.Lock()
	h.tokens[token] = userID
	if r, ok := h.rooms[roomID]; ok {
		r.members[userID] = true
	}
	h.mu.Unlock()

	return h.Client(t).SessionFromToken(userID, token)
}

// DisableGuests makes guest registration fail with M_GUEST_ACCESS_FORBIDDEN.
func (h *Homeserver) DisableGuests() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.guestsAllowed = false
}

// SetTURN configures the /voip/turnServer response. Nil answers 404.
func (h *Homeserver) SetTURN(response *messaging.TURNCredentialsResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turn = response
}

// FailNext makes the next n authenticated requests fail with 500.
func (h *Homeserver) FailNext(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failNext = n
}

// SetOffline makes every authenticated request fail with 503 until
// cleared.
func (h *Homeserver) SetOffline(offline bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offline = offline
}

// RequestCount returns how many requests matched the method and path
// prefix, e.g. ("GET", "/_matrix/client/v3/rooms/").
func (h *Homeserver) RequestCount(method, pathPrefix string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for key, count := range h.requests {
		if strings.HasPrefix(key, method+" "+pathPrefix) {
			total += count
		}
	}
	return total
}

// StateEvent returns the current content of one state event.
func (h *Homeserver) StateEvent(roomID, eventType, key string) (json.RawMessage, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return nil, false
	}
	event, ok := r.state[stateKey{eventType, key}]
	return event.Content, ok
}

// Timeline returns the timeline events of a room in order.
func (h *Homeserver) Timeline(roomID string) []messaging.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	events := make([]messaging.Event, len(r.timeline))
	for i, sequenced := range r.timeline {
		events[i] = sequenced.event
	}
	return events
}

func (h *Homeserver) counting(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		h.mu.Lock()
		h.requests[request.Method+" "+request.URL.Path]++
		h.mu.Unlock()
		next.ServeHTTP(writer, request)
	})
}

type authenticatedHandler func(writer http.ResponseWriter, request *http.Request, userID string)

func (h *Homeserver) authenticated(handler authenticatedHandler) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		token := strings.TrimPrefix(request.Header.Get("Authorization"), "Bearer ")

		h.mu.Lock()
		userID, ok := h.tokens[token]
		offline := h.offline
		failing := h.failNext > 0
		if failing {
			h.failNext--
		}
		h.mu.Unlock()

		switch {
		case offline:
			writeError(writer, http.StatusServiceUnavailable, messaging.ErrCodeUnknown, "homeserver offline")
		case failing:
			writeError(writer, http.StatusInternalServerError, messaging.ErrCodeUnknown, "injected failure")
		case !ok:
			writeError(writer, http.StatusUnauthorized, messaging.ErrCodeUnknownToken, "unknown access token")
		default:
			handler(writer, request, userID)
		}
	}
}

func (h *Homeserver) handleRegister(writer http.ResponseWriter, request *http.Request) {
	if request.URL.Query().Get("kind") != "guest" {
		writeError(writer, http.StatusForbidden, messaging.ErrCodeForbidden, "registration is disabled")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.guestsAllowed {
		writeError(writer, http.StatusForbidden, messaging.ErrCodeGuestAccessForbidden, "guest access is disabled")
		return
	}
	h.sequence++
	userID := fmt.Sprintf("@%d:%s", h.sequence, ServerName)
	token := fmt.Sprintf("guest-token-%d", h.sequence)
	h.tokens[token] = userID
	writeJSON(writer, messaging.AuthResponse{
		UserID:      userID,
		AccessToken: token,
		DeviceID:    fmt.Sprintf("GUEST%d", h.sequence),
	})
}

func (h *Homeserver) handleLogin(writer http.ResponseWriter, request *http.Request) {
	var login messaging.LoginRequest
	if err := json.NewDecoder(request.Body).Decode(&login); err != nil {
		writeError(writer, http.StatusBadRequest, "M_BAD_JSON", err.Error())
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	acct, ok := h.accounts[login.Identifier.User]
	if !ok || acct.password != login.Password || login.Type != "m.login.password" {
		writeError(writer, http.StatusForbidden, messaging.ErrCodeForbidden, "invalid username or password")
		return
	}
	h.sequence++
	token := fmt.Sprintf("login-token-%d", h.sequence)
	h.tokens[token] = acct.userID
	writeJSON(writer, messaging.AuthResponse{
		UserID:      acct.userID,
		AccessToken: token,
		DeviceID:    fmt.Sprintf("DEVICE%d", h.sequence),
	})
}

func (h *Homeserver) handleLogout(writer http.ResponseWriter, request *http.Request, _ string) {
	token := strings.TrimPrefix(request.Header.Get("Authorization"), "Bearer ")
	h.mu.Lock()
	delete(h.tokens, token)
	h.mu.Unlock()
	writeJSON(writer, struct{}{})
}

func (h *Homeserver) handleWhoAmI(writer http.ResponseWriter, _ *http.Request, userID string) {
	writeJSON(writer, messaging.WhoAmIResponse{UserID: userID})
}

func (h *Homeserver) handleJoin(writer http.ResponseWriter, request *http.Request, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	target := request.PathValue("room")
	if resolved, ok := h.aliases[target]; ok {
		target = resolved
	}
	r, ok := h.rooms[target]
	if !ok {
		writeError(writer, http.StatusNotFound, messaging.ErrCodeNotFound, "no such room")
		return
	}
	r.members[userID] = true
	writeJSON(writer, messaging.JoinRoomResponse{RoomID: r.id})
}

func (h *Homeserver) handleLeave(writer http.ResponseWriter, request *http.Request, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[request.PathValue("room")]; ok {
		delete(r.members, userID)
	}
	writeJSON(writer, struct{}{})
}

func (h *Homeserver) handleResolveAlias(writer http.ResponseWriter, request *http.Request, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	roomID, ok := h.aliases[request.PathValue("alias")]
	if !ok {
		writeError(writer, http.StatusNotFound, messaging.ErrCodeNotFound, "alias not found")
		return
	}
	writeJSON(writer, messaging.ResolveAliasResponse{RoomID: roomID, Servers: []string{ServerName}})
}

// memberRoom returns the room if userID is joined to it, writing the
// error response otherwise. Caller holds h.mu.
func (h *Homeserver) memberRoom(writer http.ResponseWriter, roomID, userID string) (*room, bool) {
	r, ok := h.rooms[roomID]
	if !ok {
		writeError(writer, http.StatusNotFound, messaging.ErrCodeNotFound, "no such room")
		return nil, false
	}
	if !r.members[userID] {
		writeError(writer, http.StatusForbidden, messaging.ErrCodeForbidden, "not a member of the room")
		return nil, false
	}
	return r, true
}

func (h *Homeserver) handleSend(writer http.ResponseWriter, request *http.Request, userID string) {
	var content json.RawMessage
	if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
		writeError(writer, http.StatusBadRequest, "M_BAD_JSON", err.Error())
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.memberRoom(writer, request.PathValue("room"), userID)
	if !ok {
		return
	}
	event := h.newEventLocked(r, request.PathValue("type"), userID, content, nil)
	writeJSON(writer, messaging.SendEventResponse{EventID: event.EventID})
}

func (h *Homeserver) handlePutState(writer http.ResponseWriter, request *http.Request, userID string) {
	var content json.RawMessage
	if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
		writeError(writer, http.StatusBadRequest, "M_BAD_JSON", err.Error())
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.memberRoom(writer, request.PathValue("room"), userID)
	if !ok {
		return
	}
	key := request.PathValue("key")
	event := h.newEventLocked(r, request.PathValue("type"), userID, content, &key)
	r.state[stateKey{event.Type, key}] = event
	writeJSON(writer, messaging.SendEventResponse{EventID: event.EventID})
}

func (h *Homeserver) handleGetState(writer http.ResponseWriter, request *http.Request, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.memberRoom(writer, request.PathValue("room"), userID)
	if !ok {
		return
	}
	events := make([]messaging.Event, 0, len(r.state))
	for _, event := range r.state {
		events = append(events, event)
	}
	writeJSON(writer, events)
}

func (h *Homeserver) handleSync(writer http.ResponseWriter, request *http.Request, userID string) {
	query := request.URL.Query()
	since := 0
	if raw := query.Get("since"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(writer, http.StatusBadRequest, "M_INVALID_PARAM", "bad since token")
			return
		}
		since = parsed
	}
	timeout := 0
	if raw := query.Get("timeout"); raw != "" {
		timeout, _ = strconv.Atoi(raw)
	}
	deadline := time.After(time.Duration(timeout) * time.Millisecond) //nolint:realclock long-poll emulation

	for {
		h.mu.Lock()
		response, fresh := h.syncLocked(userID, since)
		changed := h.changed
		h.mu.Unlock()

		if fresh || timeout == 0 || query.Get("since") == "" {
			writeJSON(writer, response)
			return
		}
		select {
		case <-changed:
		case <-deadline:
			writeJSON(writer, response)
			return
		case <-request.Context().Done():
			return
		}
	}
}

// syncLocked builds a sync response with the timeline events newer than
// since for every room userID has joined. Caller holds h.mu.
func (h *Homeserver) syncLocked(userID string, since int) (messaging.SyncResponse, bool) {
	response := messaging.SyncResponse{
		NextBatch: strconv.Itoa(h.sequence),
		Rooms:     messaging.RoomsSection{Join: make(map[string]messaging.JoinedRoom)},
	}
	fresh := false
	for roomID, r := range h.rooms {
		if !r.members[userID] {
			continue
		}
		var joined messaging.JoinedRoom
		for _, sequenced := range r.timeline {
			if sequenced.sequence > since {
				joined.Timeline.Events = append(joined.Timeline.Events, sequenced.event)
				fresh = true
			}
		}
		response.Rooms.Join[roomID] = joined
	}
	return response, fresh
}

// newEventLocked records an event on the room timeline. Caller holds h.mu.
func (h *Homeserver) newEventLocked(r *room, eventType, sender string, content json.RawMessage, key *string) messaging.Event {
	h.sequence++
	event := messaging.Event{
		EventID:        fmt.Sprintf("$event%d", h.sequence),
		Type:           eventType,
		Sender:         sender,
		OriginServerTS: time.Now().UnixMilli(),
		Content:        content,
		RoomID:         r.id,
		StateKey:       key,
	}
	r.timeline = append(r.timeline, sequencedEvent{sequence: h.sequence, event: event})
	close(h.changed)
	h.changed = make(chan struct{})
	return event
}

func (h *Homeserver) handleTURN(writer http.ResponseWriter, _ *http.Request, _ string) {
	h.mu.Lock()
	turn := h.turn
	h.mu.Unlock()
	if turn == nil {
		writeError(writer, http.StatusNotFound, messaging.ErrCodeNotFound, "TURN is not configured")
		return
	}
	writeJSON(writer, turn)
}

func writeJSON(writer http.ResponseWriter, value any) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(value)
}

func writeError(writer http.ResponseWriter, status int, code, message string) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(messaging.MatrixError{Code: code, Message: message})
}
