// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/strangers-chat/strangers/lib/schema"
	"github.com/strangers-chat/strangers/presence"
	"github.com/strangers-chat/strangers/wire"
)

// lobbyCallTimeout bounds each presence call made in the background.
const lobbyCallTimeout = 10 * time.Second

// errSuperseded ends a lobby join whose session was replaced while the
// join was in flight.
var errSuperseded = errors.New("session: superseded")

// Connect starts looking for a stranger: it acquires an identity, joins
// the lobby as waiting and returns once the join completed. Calling it
// while a session is already active does nothing; after a disconnect or
// an error it starts a fresh session.
func (c *Client) Connect(ctx context.Context) error {
	return c.start(ctx, false)
}

// FindNewStranger ends the current main session, if any, and starts a
// new one. The identity is recreated unless a direct connection still
// uses it.
func (c *Client) FindNewStranger(ctx context.Context) error {
	return c.start(ctx, true)
}

func (c *Client) start(ctx context.Context, restart bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !restart {
		if c.starting {
			c.mu.Unlock()
			return nil
		}
		switch c.mode {
		case ModeSearching, ModeWaiting, ModeConnected:
			c.mu.Unlock()
			return nil
		case ModeDisconnected, ModeError:
			// Leaving a finished session starts a fresh one.
			restart = true
		}
	}
	c.endMainLocked(c.mode == ModeConnected)
	if restart && len(c.directs) == 0 {
		c.teardownIdentityLocked()
	}
	c.resetChatLocked()
	c.clearNoticeLocked()
	clear(c.cooldown)
	if c.identity != nil {
		c.setModeLocked(ModeSearching)
	} else {
		c.setModeLocked(ModeIdle)
	}
	c.starting = true
	generation := c.generation
	c.mu.Unlock()

	id, err := c.ensureIdentity(ctx)

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		c.logger.Debug("session start superseded during registration")
		return err
	}
	c.starting = false
	if err != nil {
		if !errors.Is(err, ErrClosed) {
			c.failLocked(NoticeSignaling, "Could not register with the matchmaking server.", err, false)
		}
		c.mu.Unlock()
		return err
	}
	c.setModeLocked(ModeSearching)
	selfID := id.endpoint.ID()
	profile := c.profile.Clone()
	c.inLobby = true
	result := make(chan error, 1)
	c.lobbyCalls.submit(func() {
		result <- c.joinLobby(generation, selfID, profile)
	})
	c.mu.Unlock()

	select {
	case err := <-result:
		if errors.Is(err, errSuperseded) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// joinLobby runs on the lobby worker.
func (c *Client) joinLobby(generation uint64, selfID string, profile *schema.Profile) error {
	c.mu.Lock()
	current := generation == c.generation
	c.mu.Unlock()
	if !current {
		return errSuperseded
	}

	ctx, cancel := context.WithTimeout(context.Background(), lobbyCallTimeout)
	defer cancel()
	if err := c.lobby.Join(ctx, selfID, presence.StatusWaiting, profile); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if generation == c.generation {
			c.inLobby = false
			c.failLocked(NoticeSignaling, "Could not join the lobby.", err, false)
		}
		return fmt.Errorf("joining lobby: %w", err)
	}

	subscriptions := []func(){
		c.lobby.Subscribe(func(snapshot presence.Snapshot) {
			c.handleSnapshot(generation, snapshot)
		}),
	}
	if broadcaster, ok := c.lobby.(presence.Broadcaster); ok {
		subscriptions = append(subscriptions, broadcaster.SubscribeBroadcast(func(broadcast presence.Broadcast) {
			c.handleBroadcast(generation, broadcast)
		}))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		for _, unsubscribe := range subscriptions {
			unsubscribe()
		}
		return errSuperseded
	}
	c.subscriptions = subscriptions
	c.logger.Info("joined lobby", "peer", selfID)
	if c.mode == ModeSearching {
		c.setModeLocked(ModeWaiting)
	}
	c.evaluateMatchLocked()
	return nil
}

// endMainLocked ends the main session: timers, lobby membership and
// the main connection. Direct connections are untouched. When
// sendDisconnect is set an open partner is told first.
func (c *Client) endMainLocked(sendDisconnect bool) {
	c.generation++
	c.starting = false
	c.safety.stop()
	c.clearIndicatorsLocked()

	for _, unsubscribe := range c.subscriptions {
		unsubscribe()
	}
	c.subscriptions = nil
	c.snapshot = nil

	if c.inLobby {
		c.inLobby = false
		c.lobbyCalls.submit(func() {
			ctx, cancel := context.WithTimeout(context.Background(), lobbyCallTimeout)
			defer cancel()
			if err := c.lobby.Leave(ctx); err != nil {
				c.logger.Warn("leaving lobby failed", "error", err)
			}
		})
	}

	if c.main != nil {
		if sendDisconnect && c.main.open {
			c.sendLocked(c.main, wire.Disconnect{})
		}
		c.evictLocked(c.main)
	}
	c.matching = false
}

// Disconnect ends the main chat. The partner is told, the lobby is
// left and direct connections stay up.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	wasConnected := c.mode == ModeConnected
	c.endMainLocked(true)
	if wasConnected {
		c.appendSystemLocked(newMessageID(), "You disconnected.")
	}
	if c.mode != ModeIdle {
		c.setModeLocked(ModeDisconnected)
	}
}

// endChatLocked moves an open main chat to disconnected after the
// partner left. The lobby membership stays, marked busy, until the
// user looks for someone new.
func (c *Client) endChatLocked(text string) {
	c.clearIndicatorsLocked()
	c.setModeLocked(ModeDisconnected)
	c.appendSystemLocked(newMessageID(), text)
	c.publishStatusLocked(presenceStatus(ModeDisconnected))
}

func (c *Client) handleSnapshot(generation uint64, snapshot presence.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return
	}
	c.snapshot = snapshot
	c.emitLocked(Event{Kind: EventPresenceChanged, Online: len(snapshot)})
	c.evaluateMatchLocked()
}

func (c *Client) handleBroadcast(generation uint64, broadcast presence.Broadcast) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return
	}
	c.emitLocked(Event{Kind: EventBroadcastReceived, PeerID: broadcast.PeerID, Broadcast: broadcast})
}

// evaluateMatchLocked dials the oldest waiter when that is someone
// else. When this client is the oldest waiter it waits to be dialed.
func (c *Client) evaluateMatchLocked() {
	if c.mode != ModeWaiting || c.matching || c.main != nil || c.identity == nil || c.snapshot == nil {
		return
	}
	selfID := c.selfIDLocked()
	for {
		candidate, ok := c.pickCandidateLocked(selfID)
		if !ok || candidate.PeerID == selfID {
			return
		}
		c.logger.Info("dialing oldest waiter", "peer", candidate.PeerID, "waiting_since", candidate.Timestamp)
		if _, err := c.dialLocked(candidate.PeerID, RoleMain); err != nil {
			c.logger.Warn("matchmaker dial failed", "peer", candidate.PeerID, "error", err)
			c.cooldown[candidate.PeerID] = c.clock.Now().Add(c.failedPeerCooldown)
			kind, text := dialFailure(err, "That stranger is no longer available. Still looking…")
			c.setNoticeLocked(kind, text, true)
			continue
		}
		c.matching = true
		return
	}
}

// pickCandidateLocked returns the oldest waiting record, counting this
// client's own record but skipping peers on cooldown.
func (c *Client) pickCandidateLocked(selfID string) (presence.Record, bool) {
	now := c.clock.Now()
	var waiting []presence.Record
	for id, record := range c.snapshot {
		if record.Status != presence.StatusWaiting {
			continue
		}
		if id != selfID {
			if until, ok := c.cooldown[id]; ok {
				if now.Before(until) {
					continue
				}
				delete(c.cooldown, id)
			}
		}
		waiting = append(waiting, record)
	}
	if len(waiting) == 0 {
		return presence.Record{}, false
	}
	slices.SortFunc(waiting, func(a, b presence.Record) int {
		return cmp.Or(cmp.Compare(a.Timestamp, b.Timestamp), cmp.Compare(a.PeerID, b.PeerID))
	})
	return waiting[0], true
}

func (c *Client) safetyExpired(connection *Connection, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.safety.current(seq) || connection.evicted || connection.open {
		return
	}
	c.logger.Warn("match did not open in time", "peer", connection.PeerID(), "timeout", c.safetyTimeout)
	c.evictLocked(connection)
	c.matchFailedLocked(connection.PeerID(), NoticeTimeout, "The match did not connect in time. Still looking…")
}

// matchFailedLocked puts peer on cooldown and tries the next
// candidate. The snapshot is evaluated again when the cooldown ends, in
// case no newer snapshot arrives by then.
func (c *Client) matchFailedLocked(peer string, kind NoticeKind, text string) {
	c.matching = false
	c.safety.stop()
	c.cooldown[peer] = c.clock.Now().Add(c.failedPeerCooldown)
	c.setNoticeLocked(kind, text, true)

	generation := c.generation
	c.clock.AfterFunc(c.failedPeerCooldown, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if generation != c.generation {
			return
		}
		c.evaluateMatchLocked()
	})
	c.evaluateMatchLocked()
}

// publishStatusLocked republishes the lobby record on the worker.
func (c *Client) publishStatusLocked(status presence.Status) {
	if !c.inLobby {
		return
	}
	generation := c.generation
	profile := c.profile.Clone()
	c.lobbyCalls.submit(func() {
		c.mu.Lock()
		current := generation == c.generation
		c.mu.Unlock()
		if !current {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), lobbyCallTimeout)
		defer cancel()
		if err := c.lobby.Publish(ctx, status, profile); err != nil {
			c.logger.Warn("publishing presence failed", "status", status, "error", err)
		}
	})
}

// presenceStatus is the lobby status for a mode.
func presenceStatus(mode Mode) presence.Status {
	switch mode {
	case ModeConnected:
		return presence.StatusPaired
	case ModeDisconnected:
		return presence.StatusBusy
	}
	return presence.StatusWaiting
}

// OnlinePeers returns the latest lobby snapshot without this client,
// ordered by peer id.
func (c *Client) OnlinePeers() []presence.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Others(c.selfIDLocked())
}

// Broadcast sends text to the lobby chat.
func (c *Client) Broadcast(ctx context.Context, text string) error {
	broadcaster, ok := c.lobby.(presence.Broadcaster)
	if !ok {
		return ErrBroadcastUnsupported
	}
	c.mu.Lock()
	inLobby := c.inLobby
	c.mu.Unlock()
	if !inLobby {
		return fmt.Errorf("session: not in the lobby")
	}
	if err := broadcaster.SendBroadcast(ctx, text); err != nil {
		return fmt.Errorf("sending lobby broadcast: %w", err)
	}
	return nil
}
