// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/strangers-chat/strangers/lib/clock"
	"github.com/strangers-chat/strangers/lib/schema"
	"github.com/strangers-chat/strangers/notify"
	"github.com/strangers-chat/strangers/presence"
	"github.com/strangers-chat/strangers/transport"
	"github.com/strangers-chat/strangers/wire"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const waitTimeout = 5 * time.Second

// eventually polls cond until it holds or the wait times out.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// recorder drains a client's event stream and keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func record(client *Client) *recorder {
	r := &recorder{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for event := range client.Events() {
			r.mu.Lock()
			r.events = append(r.events, event)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for index := len(r.events) - 1; index >= 0; index-- {
		if r.events[index].Kind == kind {
			return r.events[index], true
		}
	}
	return Event{}, false
}

// modes lists the mode changes in order.
func (r *recorder) modes() []Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	var modes []Mode
	for _, event := range r.events {
		if event.Kind == EventModeChanged {
			modes = append(modes, event.Mode)
		}
	}
	return modes
}

// currentIdentity is the client's registration, nil when it has none.
func currentIdentity(client *Client) *identity {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.identity
}

// flakyLobby fails the next failJoins lobby joins.
type flakyLobby struct {
	*presence.MemoryMember
	failJoins atomic.Int32
}

func (l *flakyLobby) Join(ctx context.Context, selfID string, status presence.Status, profile *schema.Profile) error {
	if l.failJoins.Add(-1) >= 0 {
		return errors.New("lobby unavailable")
	}
	return l.MemoryMember.Join(ctx, selfID, status, profile)
}

// notifications records everything handed to the notification sink.
type notifications struct {
	mu   sync.Mutex
	seen []notify.Notification
}

func (n *notifications) Notify(notification notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, notification)
}

func (n *notifications) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]notify.Kind, len(n.seen))
	for i, notification := range n.seen {
		kinds[i] = notification.Kind
	}
	return kinds
}

func (n *notifications) all() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.seen...)
}

// harness is a memory network and lobby shared by the clients of one
// test.
type harness struct {
	t       *testing.T
	network *transport.MemoryNetwork
	topic   *presence.MemoryTopic
	clock   *clock.FakeClock
}

func newHarness(t *testing.T) *harness {
	fake := clock.Fake(epoch)
	return &harness{
		t:       t,
		network: transport.NewMemoryNetwork(),
		topic:   presence.NewMemoryTopic(fake),
		clock:   fake,
	}
}

// client creates a client with the fixed peer id. Its profile username
// is the id.
func (h *harness) client(id string, options ...func(*Config)) (*Client, *recorder) {
	h.t.Helper()
	config := Config{
		Provider:           h.network.Provider(id),
		Presence:           h.topic.Member(),
		Clock:              h.clock,
		Profile:            &schema.Profile{Username: id},
		LegacyEditFallback: true,
	}
	for _, option := range options {
		option(&config)
	}
	client, err := New(config)
	if err != nil {
		h.t.Fatalf("New(%s): %v", id, err)
	}
	events := record(client)
	h.t.Cleanup(func() {
		client.Close()
		<-events.done
	})
	return client, events
}

func connect(t *testing.T, client *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func ensureIdentity(t *testing.T, client *Client) string {
	t.Helper()
	id, err := client.EnsureIdentity(context.Background())
	if err != nil {
		t.Fatalf("EnsureIdentity: %v", err)
	}
	return id
}

// pair connects two clients: alpha waits first, so beta dials it.
func (h *harness) pair(options ...func(*Config)) (alpha, beta *Client, alphaEvents, betaEvents *recorder) {
	h.t.Helper()
	alpha, alphaEvents = h.client("peer-a", options...)
	connect(h.t, alpha)
	h.clock.Advance(time.Second)
	beta, betaEvents = h.client("peer-b", options...)
	connect(h.t, beta)
	eventually(h.t, "both sides connected", func() bool {
		return alpha.Mode() == ModeConnected && beta.Mode() == ModeConnected
	})
	return alpha, beta, alphaEvents, betaEvents
}

// scriptedChannel is a presence channel whose snapshots are delivered
// by the test.
type scriptedChannel struct {
	mu          sync.Mutex
	selfID      string
	status      presence.Status
	joined      bool
	subscribers map[int]func(presence.Snapshot)
	next        int
}

func newScriptedChannel() *scriptedChannel {
	return &scriptedChannel{subscribers: make(map[int]func(presence.Snapshot))}
}

func (s *scriptedChannel) Join(ctx context.Context, selfID string, status presence.Status, profile *schema.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfID, s.status, s.joined = selfID, status, true
	return nil
}

func (s *scriptedChannel) Publish(ctx context.Context, status presence.Status, profile *schema.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	return nil
}

func (s *scriptedChannel) Subscribe(fn func(presence.Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	key := s.next
	s.subscribers[key] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, key)
	}
}

func (s *scriptedChannel) Leave(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = false
	clear(s.subscribers)
	return nil
}

func (s *scriptedChannel) currentStatus() presence.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// deliver hands snapshot to every subscriber on the calling goroutine.
func (s *scriptedChannel) deliver(snapshot presence.Snapshot) {
	s.mu.Lock()
	subscribers := make([]func(presence.Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.mu.Unlock()
	for _, fn := range subscribers {
		fn(snapshot)
	}
}

func waiting(peerID string, timestamp int64) presence.Record {
	return presence.Record{PeerID: peerID, Status: presence.StatusWaiting, Timestamp: timestamp}
}

func lobby(records ...presence.Record) presence.Snapshot {
	snapshot := make(presence.Snapshot, len(records))
	for _, record := range records {
		snapshot[record.PeerID] = record
	}
	return snapshot
}

// fakeConn is a transport.Conn that records what the client sends.
type fakeConn struct {
	id       string
	remoteID string
	attrs    transport.Attributes
	events   chan transport.Event

	mu     sync.Mutex
	sent   []wire.Envelope
	closed bool
}

func (f *fakeConn) ID() string                       { return f.id }
func (f *fakeConn) RemoteID() string                 { return f.remoteID }
func (f *fakeConn) Attributes() transport.Attributes { return f.attrs }
func (f *fakeConn) Events() <-chan transport.Event   { return f.events }

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	envelope, err := wire.Decode(data)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, envelope)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) sentTags() []wire.Tag {
	f.mu.Lock()
	defer f.mu.Unlock()
	tags := make([]wire.Tag, len(f.sent))
	for i, envelope := range f.sent {
		tags[i] = envelope.Tag()
	}
	return tags
}

func (f *fakeConn) lastSent() wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

// unit is a client whose connections are installed by hand, so frames
// can be delivered synchronously.
type unit struct {
	*Client
	clock  *clock.FakeClock
	events *recorder
	notes  *notifications
}

func newUnit(t *testing.T, options ...func(*Config)) *unit {
	t.Helper()
	fake := clock.Fake(epoch)
	notes := &notifications{}
	config := Config{
		Provider:           transport.NewMemoryNetwork(),
		Presence:           presence.NewMemoryTopic(fake).Member(),
		Clock:              fake,
		Notifier:           notes,
		Profile:            &schema.Profile{Username: "me"},
		LegacyEditFallback: true,
	}
	for _, option := range options {
		option(&config)
	}
	client, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := record(client)
	t.Cleanup(func() {
		client.Close()
		<-events.done
	})
	return &unit{Client: client, clock: fake, events: events, notes: notes}
}

// install puts an open connection to peer in the slot for role.
func (u *unit) install(role Role, peer string) (*Connection, *fakeConn) {
	conn := &fakeConn{
		id:       "conn-" + peer,
		remoteID: peer,
		attrs:    transport.Attributes{Type: transport.TypeRandom},
		events:   make(chan transport.Event),
	}
	if role == RoleDirect {
		conn.attrs.Type = transport.TypeDirect
	}
	connection := &Connection{client: u.Client, conn: conn, role: role}
	u.mu.Lock()
	defer u.mu.Unlock()
	switch role {
	case RoleMain:
		u.mode = ModeWaiting
		u.main = connection
	case RoleDirect:
		u.directs[peer] = connection
	}
	u.handleOpenLocked(connection)
	return connection, conn
}

// deliver feeds one frame from connection.
func (u *unit) deliver(t *testing.T, connection *Connection, envelope wire.Envelope) {
	t.Helper()
	data, err := wire.Encode(envelope)
	if err != nil {
		t.Fatalf("Encode(%T): %v", envelope, err)
	}
	u.deliverRaw(connection, data)
}

func (u *unit) deliverRaw(connection *Connection, data []byte) {
	u.handleConnEvent(connection, transport.Event{Kind: transport.EventData, Data: data})
}

func (u *unit) message(t *testing.T, id string) Message {
	t.Helper()
	for _, message := range u.Messages() {
		if message.ID == id {
			return message
		}
	}
	t.Fatalf("no message %q in %+v", id, u.Messages())
	return Message{}
}
