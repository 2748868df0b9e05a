// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package store keeps the client's local, best-effort state: recently
// met peers, friends, incoming friend requests, per-peer direct chat
// history and the vanish-mode setting.
//
// Storage failures never reach callers. A failed read returns the empty
// value and a failed write is dropped; both are logged. The chat keeps
// working without its history.
package store

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/strangers-chat/strangers/lib/clock"
	"github.com/strangers-chat/strangers/lib/schema"
)

// MaxRecents caps the recents list.
const MaxRecents = 50

// DefaultHistoryLimit is the per-peer history cap when Config leaves it
// zero.
const DefaultHistoryLimit = 200

const (
	keyRecents  = "recents"
	keyFriends  = "friends"
	keyPending  = "friend_requests"
	keyVanish   = "settings/vanish_mode"
	historyRoot = "history/"
)

// Peer is an entry in one of the peer lists.
type Peer struct {
	PeerID  string          `cbor:"peer_id"`
	Profile *schema.Profile `cbor:"profile,omitempty"`

	// AddedAt is the ms-epoch time the peer entered the list, or was
	// last met for recents.
	AddedAt int64 `cbor:"added_at"`
}

// Name returns the peer's username, or its id.
func (p Peer) Name() string {
	return p.Profile.DisplayName(p.PeerID)
}

// Reaction is one emoji on a stored message.
type Reaction struct {
	Emoji  string `cbor:"emoji"`
	Sender string `cbor:"sender"`
}

// Message is one line of direct chat history.
type Message struct {
	ID        string     `cbor:"id"`
	Sender    string     `cbor:"sender"`
	Kind      string     `cbor:"kind"`
	Payload   string     `cbor:"payload"`
	Timestamp int64      `cbor:"ts"`
	Reactions []Reaction `cbor:"reactions,omitempty"`
	Edited    bool       `cbor:"edited,omitempty"`
}

// Config configures a Store.
type Config struct {
	// KV is the backing storage. Nil keeps everything in memory.
	KV KV

	Logger *slog.Logger
	Clock  clock.Clock

	// HistoryLimit is the number of messages kept per peer.
	HistoryLimit int
}

// Store is safe for concurrent use. Read-modify-write operations are
// serialized.
type Store struct {
	kv           KV
	logger       *slog.Logger
	clock        clock.Clock
	historyLimit int

	mu sync.Mutex
}

func New(config Config) *Store {
	if config.KV == nil {
		config.KV = NewMemoryKV()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultHistoryLimit
	}
	return &Store{
		kv:           config.KV,
		logger:       config.Logger.With("component", "store"),
		clock:        config.Clock,
		historyLimit: config.HistoryLimit,
	}
}

// load reads and decodes key. Missing, unreadable and corrupt values
// all come back as the zero value.
func load[T any](s *Store, key string) T {
	var value T
	text, ok, err := s.kv.Get(key)
	if err != nil {
		s.logger.Warn("reading local state failed", "key", key, "error", err)
		return value
	}
	if !ok || text == "" {
		return value
	}
	if err := decodeValue(text, &value); err != nil {
		s.logger.Warn("discarding corrupt local state", "key", key, "error", err)
		var zero T
		return zero
	}
	return value
}

func (s *Store) save(key string, value any) {
	text, err := encodeValue(value)
	if err != nil {
		s.logger.Warn("encoding local state failed", "key", key, "error", err)
		return
	}
	if err := s.kv.Set(key, text); err != nil {
		s.logger.Warn("writing local state failed", "key", key, "error", err)
	}
}

// Recents returns the recently met peers, most recent first.
func (s *Store) Recents() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return load[[]Peer](s, keyRecents)
}

// AddRecent moves peerID to the front of the recents list, replacing
// its stored profile when profile is non-nil.
func (s *Store) AddRecent(peerID string, profile *schema.Profile) {
	if peerID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recents := load[[]Peer](s, keyRecents)
	entry := Peer{PeerID: peerID, Profile: profile.Clone(), AddedAt: s.clock.Now().UnixMilli()}
	if index := indexOf(recents, peerID); index >= 0 {
		if entry.Profile == nil {
			entry.Profile = recents[index].Profile
		}
		recents = slices.Delete(recents, index, index+1)
	}
	recents = slices.Insert(recents, 0, entry)
	if len(recents) > MaxRecents {
		recents = recents[:MaxRecents]
	}
	s.save(keyRecents, recents)
}

// Friends returns the friend list in the order friends were added.
func (s *Store) Friends() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return load[[]Peer](s, keyFriends)
}

// AddFriend adds peerID, or refreshes the profile of an existing
// friend.
func (s *Store) AddFriend(peerID string, profile *schema.Profile) {
	if peerID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(keyFriends, peerID, profile)
}

func (s *Store) RemoveFriend(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(keyFriends, peerID)
}

func (s *Store) IsFriend(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexOf(load[[]Peer](s, keyFriends), peerID) >= 0
}

// PendingRequests returns friend requests not yet accepted.
func (s *Store) PendingRequests() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return load[[]Peer](s, keyPending)
}

func (s *Store) AddPendingRequest(peerID string, profile *schema.Profile) {
	if peerID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(keyPending, peerID, profile)
}

func (s *Store) RemovePendingRequest(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(keyPending, peerID)
}

func (s *Store) upsert(key, peerID string, profile *schema.Profile) {
	peers := load[[]Peer](s, key)
	if index := indexOf(peers, peerID); index >= 0 {
		if profile != nil {
			peers[index].Profile = profile.Clone()
		}
	} else {
		peers = append(peers, Peer{PeerID: peerID, Profile: profile.Clone(), AddedAt: s.clock.Now().UnixMilli()})
	}
	s.save(key, peers)
}

func (s *Store) remove(key, peerID string) {
	peers := load[[]Peer](s, key)
	index := indexOf(peers, peerID)
	if index < 0 {
		return
	}
	s.save(key, slices.Delete(peers, index, index+1))
}

func indexOf(peers []Peer, peerID string) int {
	return slices.IndexFunc(peers, func(p Peer) bool { return p.PeerID == peerID })
}

// History returns the direct chat history with peerID, oldest first.
func (s *Store) History(peerID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return load[[]Message](s, historyRoot+peerID)
}

// AppendHistory adds message to peerID's history, dropping the oldest
// messages beyond the history limit.
func (s *Store) AppendHistory(peerID string, message Message) {
	if peerID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := historyRoot + peerID
	history := append(load[[]Message](s, key), message)
	if excess := len(history) - s.historyLimit; excess > 0 {
		history = history[excess:]
	}
	s.save(key, history)
}

// ApplyReaction adds reaction to the stored message unless the same
// sender already reacted with the same emoji. It reports whether the
// history changed.
func (s *Store) ApplyReaction(peerID, messageID string, reaction Reaction) bool {
	return s.updateMessage(peerID, messageID, func(message *Message) bool {
		if slices.Contains(message.Reactions, reaction) {
			return false
		}
		message.Reactions = append(message.Reactions, reaction)
		return true
	})
}

// ApplyEdit replaces the text of the stored message and marks it
// edited. Unknown ids change nothing.
func (s *Store) ApplyEdit(peerID, messageID, text string) bool {
	return s.updateMessage(peerID, messageID, func(message *Message) bool {
		message.Payload = text
		message.Edited = true
		return true
	})
}

func (s *Store) updateMessage(peerID, messageID string, update func(*Message) bool) bool {
	if messageID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := historyRoot + peerID
	history := load[[]Message](s, key)
	index := slices.IndexFunc(history, func(m Message) bool { return m.ID == messageID })
	if index < 0 || !update(&history[index]) {
		return false
	}
	s.save(key, history)
	return true
}

// VanishMode returns the saved vanish-mode preference.
func (s *Store) VanishMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return load[bool](s, keyVanish)
}

func (s *Store) SetVanishMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.save(keyVanish, enabled)
}
