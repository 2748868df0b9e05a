// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package session is the client-side coordinator of a stranger chat.
//
// A [Client] owns one transport identity, through which it holds a
// single main connection (the current random match) and any number of
// direct connections (the social hub). It joins the presence lobby,
// picks a partner from each snapshot, routes inbound frames to chat
// state and reports every change on [Client.Events].
//
// All state changes are serialized by one mutex: connection events,
// presence snapshots, timers and caller operations each run to
// completion before the next one starts. Timers carry a generation and
// do nothing once superseded.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/strangers-chat/strangers/lib/clock"
	"github.com/strangers-chat/strangers/lib/queue"
	"github.com/strangers-chat/strangers/lib/schema"
	"github.com/strangers-chat/strangers/notify"
	"github.com/strangers-chat/strangers/presence"
	"github.com/strangers-chat/strangers/store"
	"github.com/strangers-chat/strangers/transport"
)

// Mode is the state of the main chat.
type Mode string

const (
	// ModeIdle: no identity.
	ModeIdle Mode = "idle"
	// ModeSearching: identity acquired, lobby join in flight.
	ModeSearching Mode = "searching"
	// ModeWaiting: published as waiting, looking for a match.
	ModeWaiting      Mode = "waiting"
	ModeConnected    Mode = "connected"
	ModeDisconnected Mode = "disconnected"
	ModeError        Mode = "error"
)

// Defaults for zero Config durations.
const (
	DefaultSafetyTimeout      = 5 * time.Second
	DefaultIndicatorTimeout   = 4 * time.Second
	DefaultNoticeDuration     = 5 * time.Second
	DefaultFailedPeerCooldown = 30 * time.Second
)

// reconnectTimeout bounds the automatic signaling reconnect attempt.
const reconnectTimeout = 10 * time.Second

var (
	// ErrClosed is returned by operations on a closed Client.
	ErrClosed = errors.New("session: client closed")

	// ErrBroadcastUnsupported is returned by Broadcast when the
	// presence channel has no lobby chat.
	ErrBroadcastUnsupported = errors.New("session: presence channel does not carry lobby chat")
)

type Config struct {
	Provider transport.Provider
	Presence presence.Channel

	// Store keeps recents, friends and direct history. Nil keeps them
	// in memory.
	Store *store.Store

	Notifier notify.Sink
	Clock    clock.Clock
	Logger   *slog.Logger

	// Profile is announced to every peer and published in the lobby.
	Profile *schema.Profile

	// SafetyTimeout is how long a matchmaker dial may stay pending.
	SafetyTimeout time.Duration

	// IndicatorTimeout clears a typing or recording indicator that was
	// not refreshed.
	IndicatorTimeout time.Duration

	// NoticeDuration is the lifetime of transient notices.
	NoticeDuration time.Duration

	// FailedPeerCooldown keeps the matchmaker away from a peer whose
	// dial just failed.
	FailedPeerCooldown time.Duration

	// LegacyEditFallback applies an edit without a message id to the
	// stranger's latest text message.
	LegacyEditFallback bool
}

// Client is one user's chat session. Create it with New.
type Client struct {
	provider transport.Provider
	lobby    presence.Channel
	store    *store.Store
	notifier notify.Sink
	clock    clock.Clock
	logger   *slog.Logger

	safetyTimeout      time.Duration
	indicatorTimeout   time.Duration
	noticeDuration     time.Duration
	failedPeerCooldown time.Duration
	legacyEditFallback bool

	events     *queue.Unbounded[Event]
	lobbyCalls *worker

	// identityMu serializes identity creation so concurrent callers
	// share one registration.
	identityMu sync.Mutex

	mu     sync.Mutex
	closed bool
	mode   Mode

	profile *schema.Profile

	identity *identity

	// generation changes whenever a main session starts or ends.
	// Snapshot deliveries and lobby jobs from an older generation are
	// ignored.
	generation    uint64
	inLobby       bool
	subscriptions []func()
	snapshot      presence.Snapshot

	// starting is set while a session start waits for registration.
	starting bool

	// Connection registry.
	main    *Connection
	directs map[string]*Connection

	// Matchmaker.
	matching bool
	safety   debounce
	cooldown map[string]time.Time

	// Main chat.
	messages      []Message
	greetingID    string
	remoteProfile *schema.Profile
	indicators    Indicators
	typing        debounce
	recording     debounce
	vanish        bool

	notice      *Notice
	noticeTimer debounce
}

// New validates config and returns an idle client.
func New(config Config) (*Client, error) {
	if config.Provider == nil {
		return nil, fmt.Errorf("session: Provider is required")
	}
	if config.Presence == nil {
		return nil, fmt.Errorf("session: Presence is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Store == nil {
		config.Store = store.New(store.Config{Logger: config.Logger, Clock: config.Clock})
	}
	if config.Notifier == nil {
		config.Notifier = notify.Discard
	}

	client := &Client{
		provider:           config.Provider,
		lobby:              config.Presence,
		store:              config.Store,
		notifier:           config.Notifier,
		clock:              config.Clock,
		logger:             config.Logger.With("component", "session"),
		safetyTimeout:      durationOr(config.SafetyTimeout, DefaultSafetyTimeout),
		indicatorTimeout:   durationOr(config.IndicatorTimeout, DefaultIndicatorTimeout),
		noticeDuration:     durationOr(config.NoticeDuration, DefaultNoticeDuration),
		failedPeerCooldown: durationOr(config.FailedPeerCooldown, DefaultFailedPeerCooldown),
		legacyEditFallback: config.LegacyEditFallback,
		events:             queue.New[Event](),
		lobbyCalls:         newWorker(),
		mode:               ModeIdle,
		profile:            config.Profile.Clone(),
		directs:            make(map[string]*Connection),
		cooldown:           make(map[string]time.Time),
	}
	client.vanish = client.store.VanishMode()
	return client, nil
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

// Events returns the change stream. It must be drained; it is closed
// by Close once every event has been received.
func (c *Client) Events() <-chan Event {
	return c.events.Out()
}

func (c *Client) emitLocked(event Event) {
	c.events.Push(event)
}

func (c *Client) setModeLocked(mode Mode) {
	if c.mode == mode {
		return
	}
	c.logger.Info("mode changed", "from", c.mode, "to", mode)
	c.mode = mode
	c.emitLocked(Event{Kind: EventModeChanged, Mode: mode})
}

// Mode returns the main chat mode.
func (c *Client) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SelfID returns this client's peer id, empty without an identity.
func (c *Client) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfIDLocked()
}

func (c *Client) selfIDLocked() string {
	if c.identity == nil {
		return ""
	}
	return c.identity.endpoint.ID()
}

// Messages returns a copy of the main chat transcript.
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	messages := make([]Message, len(c.messages))
	for i, message := range c.messages {
		messages[i] = message.clone()
	}
	return messages
}

// RemoteProfile returns the main partner's profile, nil until it
// announced one.
func (c *Client) RemoteProfile() *schema.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteProfile.Clone()
}

func (c *Client) Indicators() Indicators {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indicators
}

func (c *Client) VanishMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vanish
}

// Notice returns the current notice, if any.
func (c *Client) Notice() (Notice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notice == nil {
		return Notice{}, false
	}
	return *c.notice, true
}

// Matching reports whether a matchmaker dial is in flight or
// established.
func (c *Client) Matching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matching
}

// Main returns the main connection, nil when the slot is empty.
func (c *Client) Main() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.main
}

// Direct returns the direct connection to peerID, nil if none.
func (c *Client) Direct(peerID string) *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directs[peerID]
}

// DirectPeers returns the peers with a direct connection, sorted.
func (c *Client) DirectPeers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.directs))
}

// Store returns the local store.
func (c *Client) Store() *store.Store {
	return c.store
}

// Close tears down the main session, every direct connection and the
// identity, and ends the event stream. Pending lobby calls complete
// before Close returns.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.endMainLocked(true)
	for _, connection := range c.directs {
		c.evictLocked(connection)
	}
	c.teardownIdentityLocked()
	c.clearNoticeLocked()
	c.setModeLocked(ModeIdle)
	c.mu.Unlock()

	c.lobbyCalls.stop()
	c.events.Close()
	c.logger.Info("session closed")
	return nil
}
