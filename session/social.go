// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"

	"github.com/strangers-chat/strangers/store"
	"github.com/strangers-chat/strangers/wire"
)

// DialDirect returns the direct connection to peerID, dialing it when
// there is none. Repeated calls share one connection until it closes.
func (c *Client) DialDirect(ctx context.Context, peerID string) (*Connection, error) {
	if _, err := c.ensureIdentity(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if existing := c.directs[peerID]; existing != nil {
		return existing, nil
	}
	connection, err := c.dialLocked(peerID, RoleDirect)
	if err != nil {
		kind, text := dialFailure(err, fmt.Sprintf("Could not reach %s.", peerID))
		c.setNoticeLocked(kind, text, true)
		return nil, err
	}
	return connection, nil
}

// SendDirect sends a message over the direct connection to peerID and
// records it in that peer's history.
func (c *Client) SendDirect(peerID string, kind wire.DataType, payload string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	message := Message{
		ID:        newMessageID(),
		Sender:    SenderMe,
		Kind:      kind,
		Payload:   payload,
		Timestamp: c.clock.Now(),
		Status:    StatusSent,
	}
	if !c.sendLocked(c.directs[peerID], wire.Message{ID: message.ID, DataType: kind, Payload: payload}) {
		return Message{}, false
	}
	c.store.AppendHistory(peerID, message.stored())
	return message.clone(), true
}

// ReactDirect reacts to a message in peerID's history.
func (c *Client) ReactDirect(peerID, messageID, emoji string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if emoji == "" {
		return false
	}
	if !c.sendLocked(c.directs[peerID], wire.Reaction{MessageID: messageID, Emoji: emoji}) {
		return false
	}
	c.store.ApplyReaction(peerID, messageID, store.Reaction{Emoji: emoji, Sender: string(SenderMe)})
	return true
}

// CloseDirect tells peerID goodbye and closes the direct connection.
// The main chat is not affected.
func (c *Client) CloseDirect(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	connection := c.directs[peerID]
	if connection == nil {
		return
	}
	c.sendLocked(connection, wire.Disconnect{})
	c.evictLocked(connection)
}

// SendFriendRequest asks peerID to become friends, over the direct
// connection or over the main chat when peerID is the current partner.
func (c *Client) SendFriendRequest(peerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(c.peerConnectionLocked(peerID), wire.FriendRequest{Profile: c.profile.Clone()})
}

// AcceptFriendRequest accepts a pending request from peerID. The
// friendship is stored even when peerID cannot be told right now.
func (c *Client) AcceptFriendRequest(peerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var pending *store.Peer
	for _, request := range c.store.PendingRequests() {
		if request.PeerID == peerID {
			pending = &request
			break
		}
	}
	if pending == nil {
		return false
	}
	c.store.AddFriend(peerID, pending.Profile)
	c.store.RemovePendingRequest(peerID)
	c.sendLocked(c.peerConnectionLocked(peerID), wire.FriendAccept{Profile: c.profile.Clone()})
	return true
}

// RemoveFriend forgets peerID as a friend.
func (c *Client) RemoveFriend(peerID string) {
	c.store.RemoveFriend(peerID)
}

// peerConnectionLocked resolves the live connection to peerID,
// preferring the direct one.
func (c *Client) peerConnectionLocked(peerID string) *Connection {
	if connection := c.directs[peerID]; connection != nil && connection.open {
		return connection
	}
	if c.main != nil && c.main.PeerID() == peerID {
		return c.main
	}
	return nil
}
