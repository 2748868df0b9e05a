// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"

	"github.com/strangers-chat/strangers/lib/schema"
	"github.com/strangers-chat/strangers/transport"
	"github.com/strangers-chat/strangers/wire"
)

// Role is the slot a connection occupies.
type Role string

const (
	RoleMain   Role = "main"
	RoleDirect Role = "direct"
)

// Connection is a transport connection held by the registry. A
// Connection that has been evicted stays evicted; callers re-resolve
// through the Client instead of keeping one across operations.
type Connection struct {
	client   *Client
	conn     transport.Conn
	role     Role
	outbound bool

	// Guarded by client.mu.
	open    bool
	evicted bool
	profile *schema.Profile
	lastErr error
}

func (c *Connection) ID() string     { return c.conn.ID() }
func (c *Connection) PeerID() string { return c.conn.RemoteID() }
func (c *Connection) Role() Role     { return c.role }
func (c *Connection) Outbound() bool { return c.outbound }

// Open reports whether the connection is open and still registered.
func (c *Connection) Open() bool {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()
	return c.open && !c.evicted
}

// Profile returns the profile the peer announced on this connection.
func (c *Connection) Profile() *schema.Profile {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()
	return c.profile.Clone()
}

// attachLocked registers conn in the slot for role and starts
// consuming its events. The slot must be free.
func (c *Client) attachLocked(conn transport.Conn, role Role, outbound bool) *Connection {
	connection := &Connection{client: c, conn: conn, role: role, outbound: outbound}
	switch role {
	case RoleMain:
		c.main = connection
		c.safety.arm(c.clock, c.safetyTimeout, func(seq uint64) {
			c.safetyExpired(connection, seq)
		})
	case RoleDirect:
		c.directs[conn.RemoteID()] = connection
	}
	c.logger.Info("connection attached",
		"peer", conn.RemoteID(),
		"role", role,
		"outbound", outbound,
		"connection", conn.ID(),
	)
	go c.pump(connection)
	return connection
}

// pump feeds the connection's events into the session until the stream
// ends. It keeps draining after eviction.
func (c *Client) pump(connection *Connection) {
	for event := range connection.conn.Events() {
		c.handleConnEvent(connection, event)
	}
}

func (c *Client) handleConnEvent(connection *Connection, event transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if connection.evicted {
		return
	}
	switch event.Kind {
	case transport.EventOpen:
		c.handleOpenLocked(connection)
	case transport.EventData:
		c.handleDataLocked(connection, event.Data)
	case transport.EventError:
		c.handleErrorLocked(connection, event.Err, event.Fatal)
	case transport.EventClose:
		c.handleCloseLocked(connection, connection.lastErr)
	}
}

// acceptInbound is the endpoint's inbound handler. Closing conn here
// rejects it before it opens.
func (c *Client) acceptInbound(id *identity, conn transport.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reject := func(reason string) {
		c.logger.Info("inbound connection rejected",
			"peer", conn.RemoteID(),
			"type", conn.Attributes().Type,
			"reason", reason,
		)
		conn.Close()
		go drain(conn)
	}

	if c.closed || c.identity != id {
		reject("identity released")
		return
	}
	peer := conn.RemoteID()

	switch conn.Attributes().Type {
	case transport.TypeRandom:
		if c.mode != ModeSearching && c.mode != ModeWaiting {
			reject("not looking for a match")
			return
		}
		if c.main != nil {
			if !c.yieldLocked(c.main, peer) {
				reject("main slot taken")
				return
			}
			c.evictLocked(c.main)
		}
		c.attachLocked(conn, RoleMain, false)

	case transport.TypeDirect:
		if existing := c.directs[peer]; existing != nil {
			if !c.yieldLocked(existing, peer) {
				reject("direct connection exists")
				return
			}
			c.evictLocked(existing)
		}
		c.attachLocked(conn, RoleDirect, false)

	default:
		reject("unknown connection type")
	}
}

// yieldLocked decides a simultaneous dial: existing gives way to an
// inbound connection from peer only when existing is our own pending
// dial to the same peer and peer's id sorts first. Both sides reach the
// same answer, so exactly one of the two connections survives.
func (c *Client) yieldLocked(existing *Connection, peer string) bool {
	return !existing.open &&
		existing.outbound &&
		existing.PeerID() == peer &&
		peer < c.selfIDLocked()
}

func drain(conn transport.Conn) {
	for range conn.Events() {
	}
}

// evictLocked removes connection from its slot and closes it. Later
// events from it are ignored.
func (c *Client) evictLocked(connection *Connection) {
	if connection == nil || connection.evicted {
		return
	}
	connection.evicted = true
	switch connection.role {
	case RoleMain:
		if c.main == connection {
			c.main = nil
		}
		c.matching = false
		c.safety.stop()
	case RoleDirect:
		if c.directs[connection.PeerID()] == connection {
			delete(c.directs, connection.PeerID())
		}
		if connection.open {
			c.emitLocked(Event{Kind: EventDirectClosed, PeerID: connection.PeerID()})
		}
	}
	if err := connection.conn.Close(); err != nil {
		c.logger.Debug("closing connection failed", "peer", connection.PeerID(), "error", err)
	}
	c.logger.Info("connection evicted", "peer", connection.PeerID(), "role", connection.role)
}

func (c *Client) handleOpenLocked(connection *Connection) {
	if connection.open {
		return
	}
	connection.open = true
	c.logger.Info("connection open", "peer", connection.PeerID(), "role", connection.role)
	c.sendLocked(connection, wire.Profile{Profile: c.profile.Clone()})

	switch connection.role {
	case RoleMain:
		c.safety.stop()
		c.setModeLocked(ModeConnected)
		c.greetingID = newMessageID()
		c.appendSystemLocked(c.greetingID, greeting(nil))
		c.clearNoticeLocked()
		c.publishStatusLocked(presenceStatus(ModeConnected))
	case RoleDirect:
		c.emitLocked(Event{Kind: EventDirectOpened, PeerID: connection.PeerID()})
	}
}

// handleCloseLocked ends whatever connection was doing. cause is the
// fatal error that preceded the close, if any.
func (c *Client) handleCloseLocked(connection *Connection, cause error) {
	if connection.evicted {
		return
	}
	wasOpen := connection.open
	c.evictLocked(connection)

	switch {
	case connection.role == RoleMain && wasOpen:
		c.endChatLocked("Stranger disconnected.")
	case connection.role == RoleMain && connection.outbound:
		kind, text := dialFailure(cause, "That stranger is no longer available. Still looking…")
		c.matchFailedLocked(connection.PeerID(), kind, text)
	case connection.role == RoleMain:
		c.evaluateMatchLocked()
	case connection.role == RoleDirect && !wasOpen && connection.outbound:
		kind, text := dialFailure(cause, fmt.Sprintf("Could not reach %s.", connection.PeerID()))
		c.setNoticeLocked(kind, text, true)
	}
}

func (c *Client) handleErrorLocked(connection *Connection, err error, fatal bool) {
	c.logger.Warn("connection error",
		"peer", connection.PeerID(),
		"role", connection.role,
		"fatal", fatal,
		"error", err,
	)
	if !fatal {
		c.setNoticeLocked(NoticeNetwork, "Connection problem. Messages may be delayed.", true)
		return
	}
	if transport.IsKind(err, transport.KindUnsupported) {
		c.failLocked(NoticeFatal, "Peer connections are not supported here.", err, true)
		return
	}
	// EventClose follows.
	connection.lastErr = err
}

// dialFailure maps the error that ended a pending dial to a notice.
// fallback is the text for an unavailable peer.
func dialFailure(err error, fallback string) (NoticeKind, string) {
	switch transport.KindOf(err) {
	case transport.KindTimeout:
		return NoticeTimeout, "The connection attempt timed out."
	case transport.KindSignalingLost:
		return NoticeSignaling, "The matchmaking server is unreachable."
	case transport.KindNetwork:
		return NoticeNetwork, "A network error interrupted the connection."
	case transport.KindInvalidTarget:
		return NoticePeerUnavailable, "That peer id is not valid."
	}
	return NoticePeerUnavailable, fallback
}

// dialLocked opens an outbound connection of the given role and
// attaches it.
func (c *Client) dialLocked(peer string, role Role) (*Connection, error) {
	if c.identity == nil {
		return nil, errors.New("session: no identity")
	}
	connectionType := transport.TypeRandom
	if role == RoleDirect {
		connectionType = transport.TypeDirect
	}
	conn, err := c.identity.endpoint.Dial(peer, transport.Attributes{Type: connectionType})
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", peer, err)
	}
	return c.attachLocked(conn, role, true), nil
}
