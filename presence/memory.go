// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/strangers-chat/strangers/lib/clock"
	"github.com/strangers-chat/strangers/lib/schema"
)

// ErrNotJoined is returned by operations that need a joined channel.
var ErrNotJoined = errors.New("presence: not joined")

// MemoryTopic is an in-process lobby. Each client takes its own
// [MemoryMember] handle; every member sees the same snapshots in the
// same order.
type MemoryTopic struct {
	clock clock.Clock

	mu         sync.Mutex
	records    map[string]Record
	snapshots  *fanout[Snapshot]
	broadcasts *fanout[Broadcast]
}

// NewMemoryTopic creates an empty lobby. A nil clock uses real time.
func NewMemoryTopic(clk clock.Clock) *MemoryTopic {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryTopic{
		clock:      clk,
		records:    make(map[string]Record),
		snapshots:  newFanout[Snapshot](),
		broadcasts: newFanout[Broadcast](),
	}
}

// Member returns a new client handle.
func (t *MemoryTopic) Member() *MemoryMember {
	return &MemoryMember{topic: t}
}

// Snapshot returns the current lobby.
func (t *MemoryTopic) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot(t.records).Clone()
}

func (t *MemoryTopic) put(selfID string, status Status, profile *schema.Profile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	previous, ok := t.records[selfID]
	t.records[selfID] = Record{
		PeerID:    selfID,
		Status:    status,
		Timestamp: stamp(previous, ok, status, t.clock.Now()),
		Profile:   profile.Clone(),
	}
	t.publishLocked()
}

func (t *MemoryTopic) remove(selfID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[selfID]; !ok {
		return
	}
	delete(t.records, selfID)
	t.publishLocked()
}

func (t *MemoryTopic) publishLocked() {
	current := Snapshot(t.records)
	t.snapshots.publishEach(current.Clone)
}

func (t *MemoryTopic) subscribe(fn func(Snapshot)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	initial := Snapshot(t.records).Clone()
	return t.snapshots.add(fn, &initial)
}

// MemoryMember is one client's handle on a MemoryTopic.
type MemoryMember struct {
	topic *MemoryTopic

	mu            sync.Mutex
	selfID        string
	joined        bool
	subscriptions []func()
}

var (
	_ Channel     = (*MemoryMember)(nil)
	_ Broadcaster = (*MemoryMember)(nil)
)

func (m *MemoryMember) Join(ctx context.Context, selfID string, status Status, profile *schema.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if selfID == "" {
		return fmt.Errorf("presence: empty peer id")
	}
	m.mu.Lock()
	if m.joined {
		m.mu.Unlock()
		return fmt.Errorf("presence: already joined as %s", m.selfID)
	}
	m.selfID = selfID
	m.joined = true
	m.mu.Unlock()

	m.topic.put(selfID, status, profile)
	return nil
}

func (m *MemoryMember) Publish(ctx context.Context, status Status, profile *schema.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	selfID, ok := m.self()
	if !ok {
		return ErrNotJoined
	}
	m.topic.put(selfID, status, profile)
	return nil
}

func (m *MemoryMember) Subscribe(fn func(Snapshot)) func() {
	unsubscribe := m.topic.subscribe(fn)
	m.mu.Lock()
	m.subscriptions = append(m.subscriptions, unsubscribe)
	m.mu.Unlock()
	return unsubscribe
}

func (m *MemoryMember) Leave(ctx context.Context) error {
	m.mu.Lock()
	selfID, joined := m.selfID, m.joined
	subscriptions := m.subscriptions
	m.joined = false
	m.subscriptions = nil
	m.mu.Unlock()

	for _, unsubscribe := range subscriptions {
		unsubscribe()
	}
	if joined {
		m.topic.remove(selfID)
	}
	return nil
}

func (m *MemoryMember) SendBroadcast(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	selfID, ok := m.self()
	if !ok {
		return ErrNotJoined
	}
	m.topic.broadcasts.publish(Broadcast{
		PeerID:    selfID,
		Sender:    selfID,
		Text:      text,
		Timestamp: m.topic.clock.Now(),
	})
	return nil
}

func (m *MemoryMember) SubscribeBroadcast(fn func(Broadcast)) func() {
	unsubscribe := m.topic.broadcasts.add(fn, nil)
	m.mu.Lock()
	m.subscriptions = append(m.subscriptions, unsubscribe)
	m.mu.Unlock()
	return unsubscribe
}

func (m *MemoryMember) self() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selfID, m.joined
}
