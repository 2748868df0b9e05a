// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"slices"

	"github.com/google/uuid"

	"github.com/strangers-chat/strangers/lib/schema"
	"github.com/strangers-chat/strangers/wire"
)

func newMessageID() string {
	return uuid.NewString()
}

// SendText sends text to the main partner and returns the local copy.
// It reports false, and sends nothing, when there is no open main
// connection.
func (c *Client) SendText(text string) (Message, bool) {
	return c.send(wire.DataText, text)
}

// SendImage sends a base64-encoded image.
func (c *Client) SendImage(data string) (Message, bool) {
	return c.send(wire.DataImage, data)
}

// SendAudio sends base64-encoded audio.
func (c *Client) SendAudio(data string) (Message, bool) {
	return c.send(wire.DataAudio, data)
}

func (c *Client) send(kind wire.DataType, payload string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	message := Message{
		ID:        newMessageID(),
		Sender:    SenderMe,
		Kind:      kind,
		Payload:   payload,
		Timestamp: c.clock.Now(),
		Vanish:    c.vanish,
		Status:    StatusSent,
	}
	if !c.sendLocked(c.main, wire.Message{ID: message.ID, DataType: kind, Payload: payload}) {
		return Message{}, false
	}
	c.messages = append(c.messages, message)
	c.emitLocked(Event{Kind: EventMessageAdded, Message: message.clone(), Main: true})
	return message.clone(), true
}

// SetTyping tells the main partner whether this user is typing.
func (c *Client) SetTyping(active bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(c.main, wire.Typing{Active: active})
}

// SetRecording tells the main partner whether this user is recording.
func (c *Client) SetRecording(active bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(c.main, wire.Recording{Active: active})
}

// React adds emoji to a main chat message and tells the partner. A
// reaction this user already made is not repeated.
func (c *Client) React(messageID, emoji string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	index := c.findMessageLocked(messageID)
	if index < 0 || emoji == "" {
		return false
	}
	reaction := Reaction{Emoji: emoji, Sender: SenderMe}
	if slices.Contains(c.messages[index].Reactions, reaction) {
		return false
	}
	if !c.sendLocked(c.main, wire.Reaction{MessageID: messageID, Emoji: emoji}) {
		return false
	}
	c.messages[index].addReaction(reaction)
	c.emitMessageUpdatedLocked(index)
	return true
}

// Edit replaces the text of one of this user's own text messages.
func (c *Client) Edit(messageID, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	index := c.findMessageLocked(messageID)
	if index < 0 {
		return false
	}
	message := &c.messages[index]
	if message.Sender != SenderMe || message.Kind != wire.DataText {
		return false
	}
	if !c.sendLocked(c.main, wire.EditMessage{MessageID: messageID, Text: text}) {
		return false
	}
	message.Payload = text
	message.Edited = true
	c.emitMessageUpdatedLocked(index)
	return true
}

// SetVanishMode stores the preference and mirrors it to the main
// partner when there is one.
func (c *Client) SetVanishMode(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vanish == enabled {
		return
	}
	c.vanish = enabled
	c.store.SetVanishMode(enabled)
	c.emitLocked(Event{Kind: EventVanishModeChanged, Vanish: enabled})
	if c.sendLocked(c.main, wire.VanishMode{Enabled: enabled}) {
		c.appendSystemLocked(newMessageID(), vanishText(enabled, "You"))
	}
}

// UpdateProfile replaces this user's profile, republishes the lobby
// record and announces the change on every open connection.
func (c *Client) UpdateProfile(profile *schema.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = profile.Clone()
	c.publishStatusLocked(presenceStatus(c.mode))

	update := wire.Profile{Profile: profile.Clone(), Update: true}
	c.sendLocked(c.main, update)
	for _, connection := range c.directs {
		c.sendLocked(connection, update)
	}
}

// Profile returns this user's profile.
func (c *Client) Profile() *schema.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile.Clone()
}

// sendLocked encodes envelope and sends it on connection. It reports
// false when connection is gone, not open yet or the send failed.
func (c *Client) sendLocked(connection *Connection, envelope wire.Envelope) bool {
	if connection == nil || connection.evicted || !connection.open {
		return false
	}
	data, err := wire.Encode(envelope)
	if err != nil {
		c.logger.Error("encoding frame failed", "type", envelope.Tag(), "error", err)
		return false
	}
	if err := connection.conn.Send(data); err != nil {
		c.logger.Warn("send failed",
			"peer", connection.PeerID(),
			"role", connection.role,
			"type", envelope.Tag(),
			"error", err,
		)
		return false
	}
	return true
}

func (c *Client) appendSystemLocked(id, text string) {
	message := Message{
		ID:        id,
		Sender:    SenderSystem,
		Kind:      wire.DataText,
		Payload:   text,
		Timestamp: c.clock.Now(),
	}
	c.messages = append(c.messages, message)
	c.emitLocked(Event{Kind: EventMessageAdded, Message: message.clone(), Main: true})
}

// resetChatLocked clears everything about the previous partner.
func (c *Client) resetChatLocked() {
	c.messages = nil
	c.greetingID = ""
	c.remoteProfile = nil
	c.clearIndicatorsLocked()
}

// setIndicatorLocked applies a typing or recording signal. An active
// signal clears itself unless repeated within the indicator timeout.
func (c *Client) setIndicatorLocked(flag *bool, timer *debounce, active bool) {
	if !active {
		timer.stop()
		if *flag {
			*flag = false
			c.emitIndicatorsLocked()
		}
		return
	}
	timer.arm(c.clock, c.indicatorTimeout, func(seq uint64) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !timer.current(seq) {
			return
		}
		timer.timer = nil
		if *flag {
			*flag = false
			c.emitIndicatorsLocked()
		}
	})
	if !*flag {
		*flag = true
		c.emitIndicatorsLocked()
	}
}

// clearIndicatorsLocked turns both indicators off.
func (c *Client) clearIndicatorsLocked() {
	c.typing.stop()
	c.recording.stop()
	if c.indicators != (Indicators{}) {
		c.indicators = Indicators{}
		c.emitIndicatorsLocked()
	}
}

func (c *Client) emitIndicatorsLocked() {
	c.emitLocked(Event{Kind: EventIndicatorsChanged, Indicators: c.indicators, Main: true})
}

// setNoticeLocked replaces the current notice. Transient notices expire
// after the notice duration.
func (c *Client) setNoticeLocked(kind NoticeKind, text string, transient bool) {
	c.noticeTimer.stop()
	notice := Notice{Kind: kind, Text: text, Transient: transient}
	if transient {
		notice.Expires = c.clock.Now().Add(c.noticeDuration)
		c.noticeTimer.arm(c.clock, c.noticeDuration, c.expireNotice)
	}
	c.notice = &notice
	c.emitLocked(Event{Kind: EventNoticeChanged, Notice: notice})
}

func (c *Client) expireNotice(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.noticeTimer.current(seq) {
		return
	}
	c.noticeTimer.timer = nil
	c.clearNoticeLocked()
}

func (c *Client) clearNoticeLocked() {
	c.noticeTimer.stop()
	if c.notice == nil {
		return
	}
	c.notice = nil
	c.emitLocked(Event{Kind: EventNoticeChanged})
}

// DismissNotice removes the current notice.
func (c *Client) DismissNotice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearNoticeLocked()
}
