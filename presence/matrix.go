// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/strangers-chat/strangers/lib/clock"
	"github.com/strangers-chat/strangers/lib/schema"
	"github.com/strangers-chat/strangers/messaging"
)

// Defaults for the zero values of MatrixConfig's intervals.
const (
	DefaultPollInterval      = 2 * time.Second
	DefaultHeartbeatInterval = 20 * time.Second
	DefaultStaleAfter        = 60 * time.Second
)

// syncTimeout is the /sync long-poll duration of the lobby chat reader.
const syncTimeout = 30 * time.Second

// MatrixConfig configures a MatrixChannel.
type MatrixConfig struct {
	// Session must already be joined to RoomID.
	Session messaging.Session
	RoomID  string

	Clock  clock.Clock
	Logger *slog.Logger

	// PollInterval is how often the room state is read.
	PollInterval time.Duration

	// HeartbeatInterval is how often this client refreshes its record
	// when nothing else changed.
	HeartbeatInterval time.Duration

	// StaleAfter drops records whose last heartbeat is older than this,
	// which covers clients that crashed without leaving.
	StaleAfter time.Duration
}

// MatrixChannel keeps the lobby in Matrix room state: one
// schema.EventTypePresence event per peer, keyed by peer id.
type MatrixChannel struct {
	session messaging.Session
	roomID  string
	clock   clock.Clock
	logger  *slog.Logger

	pollInterval      time.Duration
	heartbeatInterval time.Duration
	staleAfter        time.Duration

	snapshots  *fanout[Snapshot]
	broadcasts *fanout[Broadcast]

	// writeMu serializes writes of this client's record.
	writeMu sync.Mutex

	mu            sync.Mutex
	joined        bool
	own           schema.PresenceContent
	lastWrite     time.Time
	last          Snapshot
	haveLast      bool
	pollFailures  int
	cancel        context.CancelFunc
	done          sync.WaitGroup
	subscriptions []func()
}

var (
	_ Channel     = (*MatrixChannel)(nil)
	_ Broadcaster = (*MatrixChannel)(nil)
)

// NewMatrixChannel validates config and returns an unjoined channel.
func NewMatrixChannel(config MatrixConfig) (*MatrixChannel, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("presence: Session is required")
	}
	if config.RoomID == "" {
		return nil, fmt.Errorf("presence: RoomID is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	channel := &MatrixChannel{
		session:           config.Session,
		roomID:            config.RoomID,
		clock:             config.Clock,
		logger:            config.Logger.With("component", "presence", "room", config.RoomID),
		pollInterval:      orDefault(config.PollInterval, DefaultPollInterval),
		heartbeatInterval: orDefault(config.HeartbeatInterval, DefaultHeartbeatInterval),
		staleAfter:        orDefault(config.StaleAfter, DefaultStaleAfter),
		snapshots:         newFanout[Snapshot](),
		broadcasts:        newFanout[Broadcast](),
	}
	if channel.staleAfter <= channel.heartbeatInterval {
		return nil, fmt.Errorf("presence: StaleAfter (%s) must exceed HeartbeatInterval (%s)", channel.staleAfter, channel.heartbeatInterval)
	}
	return channel, nil
}

func orDefault(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

// Join writes this client's record, reads the lobby once and starts
// the background poll and lobby chat readers.
func (c *MatrixChannel) Join(ctx context.Context, selfID string, status Status, profile *schema.Profile) error {
	if selfID == "" {
		return fmt.Errorf("presence: empty peer id")
	}
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return fmt.Errorf("presence: already joined as %s", c.own.PeerID)
	}
	now := c.clock.Now()
	c.own = schema.PresenceContent{
		PeerID:      selfID,
		Status:      status,
		Timestamp:   now.UnixMilli(),
		RefreshedAt: now.UnixMilli(),
		Profile:     profile.Clone(),
	}
	c.joined = true
	c.haveLast = false
	c.pollFailures = 0
	c.mu.Unlock()

	if err := c.writeOwn(ctx); err != nil {
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		return fmt.Errorf("publishing presence: %w", err)
	}
	if err := c.poll(ctx); err != nil {
		c.logger.Warn("initial lobby read failed", "error", err)
	}

	// Lobby chat starts from now: the first sync only fixes the
	// position.
	since := ""
	if response, err := c.session.Sync(ctx, messaging.SyncOptions{}); err != nil {
		c.logger.Warn("initial lobby chat sync failed", "error", err)
	} else {
		since = response.NextBatch
	}

	loopContext, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.done.Add(2)
	go c.pollLoop(loopContext)
	go c.syncLoop(loopContext, since)

	c.logger.Info("joined lobby", "peer", selfID, "status", status)
	return nil
}

// Publish replaces this client's record. The Timestamp is kept when
// the status is unchanged.
func (c *MatrixChannel) Publish(ctx context.Context, status Status, profile *schema.Profile) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	now := c.clock.Now()
	previous := Record{Status: c.own.Status, Timestamp: c.own.Timestamp}
	c.own.Timestamp = stamp(previous, true, status, now)
	c.own.Status = status
	c.own.RefreshedAt = now.UnixMilli()
	c.own.Profile = profile.Clone()
	c.mu.Unlock()

	if err := c.writeOwn(ctx); err != nil {
		return fmt.Errorf("publishing presence: %w", err)
	}
	return nil
}

func (c *MatrixChannel) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	var initial *Snapshot
	if c.haveLast {
		snapshot := c.last.Clone()
		initial = &snapshot
	}
	unsubscribe := c.snapshots.add(fn, initial)
	c.subscriptions = append(c.subscriptions, unsubscribe)
	c.mu.Unlock()
	return unsubscribe
}

// Leave stops the background readers and replaces this client's record
// with empty content.
func (c *MatrixChannel) Leave(ctx context.Context) error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return nil
	}
	c.joined = false
	selfID := c.own.PeerID
	cancel := c.cancel
	subscriptions := c.subscriptions
	c.subscriptions = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.done.Wait()
	for _, unsubscribe := range subscriptions {
		unsubscribe()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.session.SendStateEvent(ctx, c.roomID, schema.EventTypePresence, selfID, struct{}{}); err != nil {
		return fmt.Errorf("clearing presence: %w", err)
	}
	c.logger.Info("left lobby", "peer", selfID)
	return nil
}

// SendBroadcast posts a line to the lobby chat.
func (c *MatrixChannel) SendBroadcast(ctx context.Context, text string) error {
	c.mu.Lock()
	joined, selfID := c.joined, c.own.PeerID
	c.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}
	content := schema.MessageContent{MsgType: schema.MsgTypeText, Body: text, PeerID: selfID}
	if _, err := c.session.SendEvent(ctx, c.roomID, schema.EventTypeMessage, content); err != nil {
		return fmt.Errorf("sending lobby message: %w", err)
	}
	return nil
}

func (c *MatrixChannel) SubscribeBroadcast(fn func(Broadcast)) func() {
	unsubscribe := c.broadcasts.add(fn, nil)
	c.mu.Lock()
	c.subscriptions = append(c.subscriptions, unsubscribe)
	c.mu.Unlock()
	return unsubscribe
}

func (c *MatrixChannel) writeOwn(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	content := c.own
	content.Profile = c.own.Profile.Clone()
	c.mu.Unlock()

	if _, err := c.session.SendStateEvent(ctx, c.roomID, schema.EventTypePresence, content.PeerID, content); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastWrite = c.clock.Now()
	c.mu.Unlock()
	return nil
}

func (c *MatrixChannel) pollLoop(ctx context.Context) {
	defer c.done.Done()
	ticker := c.clock.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if c.heartbeatDue() {
			c.mu.Lock()
			c.own.RefreshedAt = c.clock.Now().UnixMilli()
			c.mu.Unlock()
			if err := c.writeOwn(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("presence heartbeat failed", "error", err)
			}
		}

		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			c.pollFailures++
			failures := c.pollFailures
			c.mu.Unlock()
			c.logger.Warn("reading lobby failed", "failures", failures, "error", err)
		}
	}
}

func (c *MatrixChannel) heartbeatDue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Now().Sub(c.lastWrite) >= c.heartbeatInterval
}

// poll reads the room state and delivers a snapshot when the live set
// of records differs from the last one delivered.
func (c *MatrixChannel) poll(ctx context.Context) error {
	events, err := c.session.GetRoomState(ctx, c.roomID)
	if err != nil {
		return err
	}

	now := c.clock.Now().UnixMilli()
	staleBefore := now - c.staleAfter.Milliseconds()
	snapshot := make(Snapshot)
	for _, event := range events {
		if event.Type != schema.EventTypePresence {
			continue
		}
		var content schema.PresenceContent
		if err := json.Unmarshal(event.Content, &content); err != nil {
			continue
		}
		if content.Left() || !content.Status.IsKnown() {
			continue
		}
		// A record must sit under its own peer id.
		if content.PeerID != event.StateKeyOrEmpty() {
			continue
		}
		refreshed := content.RefreshedAt
		if refreshed == 0 {
			refreshed = content.Timestamp
		}
		if refreshed < staleBefore {
			continue
		}
		snapshot[content.PeerID] = Record{
			PeerID:    content.PeerID,
			Status:    content.Status,
			Timestamp: content.Timestamp,
			Profile:   content.Profile,
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollFailures = 0
	if !c.joined {
		return nil
	}
	if c.haveLast && c.last.Equal(snapshot) {
		return nil
	}
	c.last = snapshot
	c.haveLast = true
	c.snapshots.publishEach(snapshot.Clone)
	return nil
}

// syncLoop follows the room timeline for lobby chat lines. Without a
// starting position the first sync only establishes one, so history is
// never replayed.
func (c *MatrixChannel) syncLoop(ctx context.Context, since string) {
	defer c.done.Done()

	initial := since == ""
	for ctx.Err() == nil {
		options := messaging.SyncOptions{Since: since}
		if !initial {
			options.Timeout = int(syncTimeout.Milliseconds())
		}
		response, err := c.session.Sync(ctx, options)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("lobby chat sync failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-c.clock.After(c.pollInterval):
			}
			continue
		}
		since = response.NextBatch
		if initial {
			initial = false
			continue
		}

		room, ok := response.Rooms.Join[c.roomID]
		if !ok {
			continue
		}
		for _, event := range room.Timeline.Events {
			if event.Type != schema.EventTypeMessage || event.StateKey != nil {
				continue
			}
			var content schema.MessageContent
			if err := json.Unmarshal(event.Content, &content); err != nil || content.MsgType != schema.MsgTypeText {
				continue
			}
			c.broadcasts.publish(Broadcast{
				PeerID:    content.PeerID,
				Sender:    event.Sender,
				Text:      content.Body,
				Timestamp: time.UnixMilli(event.OriginServerTS),
			})
		}
	}
}
