// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"

	"github.com/strangers-chat/strangers/lib/schema"
	"github.com/strangers-chat/strangers/notify"
	"github.com/strangers-chat/strangers/store"
	"github.com/strangers-chat/strangers/wire"
)

// handleDataLocked dispatches one inbound frame from connection.
// Frames that do not decode, and frames with tags this version does not
// know, are dropped.
func (c *Client) handleDataLocked(connection *Connection, data []byte) {
	envelope, err := wire.Decode(data)
	if err != nil {
		c.logger.Debug("dropping undecodable frame", "peer", connection.PeerID(), "error", err)
		return
	}
	isMain := connection == c.main
	peer := connection.PeerID()

	switch e := envelope.(type) {
	case wire.Message:
		c.routeMessageLocked(connection, isMain, e)

	case wire.Seen:
		if !isMain {
			return
		}
		if index := c.findMessageLocked(e.MessageID); index >= 0 && c.messages[index].Sender == SenderMe {
			if c.messages[index].Status != StatusSeen {
				c.messages[index].Status = StatusSeen
				c.emitMessageUpdatedLocked(index)
			}
		}

	case wire.Reaction:
		c.routeReactionLocked(peer, isMain, e)

	case wire.EditMessage:
		c.routeEditLocked(peer, isMain, e)

	case wire.Typing:
		if isMain {
			c.setIndicatorLocked(&c.indicators.Typing, &c.typing, e.Active)
		}

	case wire.Recording:
		if isMain {
			c.setIndicatorLocked(&c.indicators.Recording, &c.recording, e.Active)
		}

	case wire.Profile:
		c.routeProfileLocked(connection, isMain, e.Profile)

	case wire.VanishMode:
		if !isMain || c.vanish == e.Enabled {
			return
		}
		c.vanish = e.Enabled
		c.store.SetVanishMode(e.Enabled)
		c.emitLocked(Event{Kind: EventVanishModeChanged, Vanish: e.Enabled, Main: true})
		c.appendSystemLocked(newMessageID(), vanishText(e.Enabled, "The stranger"))

	case wire.FriendRequest:
		c.store.AddPendingRequest(peer, e.Profile)
		c.emitLocked(Event{Kind: EventFriendRequestReceived, PeerID: peer, Profile: e.Profile.Clone(), Main: isMain})
		c.notify(notify.KindFriendRequest, peer, e.Profile, "sent you a friend request", "")

	case wire.FriendAccept:
		c.store.AddFriend(peer, e.Profile)
		c.store.RemovePendingRequest(peer)
		c.emitLocked(Event{Kind: EventFriendAccepted, PeerID: peer, Profile: e.Profile.Clone(), Main: isMain})
		c.notify(notify.KindFriendAccepted, peer, e.Profile, "accepted your friend request", "")

	case wire.Disconnect:
		c.logger.Info("peer disconnected", "peer", peer, "role", connection.role)
		c.handleCloseLocked(connection, nil)

	case wire.Unknown:
		c.logger.Debug("ignoring unknown frame", "peer", peer, "type", e.Type)
	}
}

func (c *Client) routeMessageLocked(connection *Connection, isMain bool, e wire.Message) {
	message := Message{
		ID:        e.ID,
		Sender:    SenderStranger,
		Kind:      e.DataType,
		Payload:   e.Payload,
		Timestamp: c.clock.Now(),
	}
	if isMain {
		c.clearIndicatorsLocked()
		message.Vanish = c.vanish
		c.messages = append(c.messages, message)
		c.emitLocked(Event{Kind: EventMessageAdded, Message: message.clone(), Main: true})
		c.sendLocked(connection, wire.Seen{MessageID: e.ID})
		return
	}

	peer := connection.PeerID()
	c.store.AppendHistory(peer, message.stored())
	c.emitLocked(Event{Kind: EventDirectMessageReceived, PeerID: peer, Message: message.clone()})
	c.notify(notify.KindDirectMessage, peer, connection.profile, "", previewText(message))
}

func (c *Client) routeReactionLocked(peer string, isMain bool, e wire.Reaction) {
	reaction := Reaction{Emoji: e.Emoji, Sender: SenderStranger}
	if isMain {
		if index := c.findMessageLocked(e.MessageID); index >= 0 {
			if c.messages[index].addReaction(reaction) {
				c.emitMessageUpdatedLocked(index)
			}
		}
	} else {
		c.store.ApplyReaction(peer, e.MessageID, store.Reaction{Emoji: e.Emoji, Sender: string(SenderStranger)})
	}
	c.emitLocked(Event{Kind: EventReactionReceived, PeerID: peer, MessageID: e.MessageID, Emoji: e.Emoji, Main: isMain})
	if !isMain {
		c.notify(notify.KindReaction, peer, c.knownProfileLocked(peer), "reacted "+e.Emoji, "")
	}
}

// routeEditLocked applies a stranger's edit. Only the stranger's own
// messages can be edited; an unknown id is ignored.
func (c *Client) routeEditLocked(peer string, isMain bool, e wire.EditMessage) {
	if !isMain {
		if e.MessageID != "" && c.store.ApplyEdit(peer, e.MessageID, e.Text) {
			c.emitLocked(Event{Kind: EventMessageUpdated, PeerID: peer, MessageID: e.MessageID})
		}
		return
	}

	index := -1
	switch {
	case e.MessageID != "":
		index = c.findMessageLocked(e.MessageID)
	case c.legacyEditFallback:
		index = c.lastStrangerTextLocked()
	}
	if index < 0 || c.messages[index].Sender != SenderStranger || c.messages[index].Kind != wire.DataText {
		return
	}
	c.messages[index].Payload = e.Text
	c.messages[index].Edited = true
	c.emitMessageUpdatedLocked(index)
}

func (c *Client) routeProfileLocked(connection *Connection, isMain bool, profile *schema.Profile) {
	peer := connection.PeerID()
	connection.profile = profile.Clone()
	if isMain {
		c.remoteProfile = profile.Clone()
		if index := c.findMessageLocked(c.greetingID); index >= 0 {
			c.messages[index].Payload = greeting(profile)
			c.emitMessageUpdatedLocked(index)
		}
	}
	c.emitLocked(Event{Kind: EventProfileReceived, PeerID: peer, Profile: profile.Clone(), Main: isMain})
	c.store.AddRecent(peer, profile)
	if c.store.IsFriend(peer) && profile != nil {
		c.store.AddFriend(peer, profile)
	}
}

func (c *Client) findMessageLocked(id string) int {
	if id == "" {
		return -1
	}
	for index := len(c.messages) - 1; index >= 0; index-- {
		if c.messages[index].ID == id {
			return index
		}
	}
	return -1
}

func (c *Client) lastStrangerTextLocked() int {
	for index := len(c.messages) - 1; index >= 0; index-- {
		if c.messages[index].Sender == SenderStranger && c.messages[index].Kind == wire.DataText {
			return index
		}
	}
	return -1
}

func (c *Client) emitMessageUpdatedLocked(index int) {
	message := c.messages[index].clone()
	c.emitLocked(Event{Kind: EventMessageUpdated, Message: message, MessageID: message.ID, Main: true})
}

// knownProfileLocked returns the best profile we have for peer: the one
// announced on a live connection, else the stored one.
func (c *Client) knownProfileLocked(peer string) *schema.Profile {
	if connection := c.directs[peer]; connection != nil && connection.profile != nil {
		return connection.profile
	}
	if c.main != nil && c.main.PeerID() == peer && c.main.profile != nil {
		return c.main.profile
	}
	for _, recent := range c.store.Recents() {
		if recent.PeerID == peer {
			return recent.Profile
		}
	}
	return nil
}

// notify hands a notification to the sink. The title is the peer's
// display name followed by action when action is set.
func (c *Client) notify(kind notify.Kind, peer string, profile *schema.Profile, action, body string) {
	title := profile.DisplayName(peer)
	if action != "" {
		title = fmt.Sprintf("%s %s", title, action)
	}
	c.notifier.Notify(notify.Notification{Kind: kind, PeerID: peer, Title: title, Body: body})
}

func greeting(profile *schema.Profile) string {
	if profile == nil || profile.Username == "" {
		return "You're now chatting with a random stranger. Say hi!"
	}
	return fmt.Sprintf("You're now chatting with %s. Say hi!", profile.Username)
}

func vanishText(enabled bool, who string) string {
	if enabled {
		return who + " turned on vanish mode."
	}
	return who + " turned off vanish mode."
}

func previewText(message Message) string {
	switch message.Kind {
	case wire.DataImage:
		return "sent an image"
	case wire.DataAudio:
		return "sent a voice message"
	}
	return message.Payload
}
