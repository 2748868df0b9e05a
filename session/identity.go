// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"

	"github.com/strangers-chat/strangers/transport"
)

// identity is one registration with the transport. Every connection,
// main or direct, goes through its endpoint.
type identity struct {
	endpoint transport.Endpoint

	// done stops the signaling watcher.
	done chan struct{}
}

// EnsureIdentity returns this client's peer id, registering with the
// transport first if there is no identity yet. Concurrent callers share
// one registration.
func (c *Client) EnsureIdentity(ctx context.Context) (string, error) {
	id, err := c.ensureIdentity(ctx)
	if err != nil {
		return "", err
	}
	return id.endpoint.ID(), nil
}

func (c *Client) ensureIdentity(ctx context.Context) (*identity, error) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.identity != nil {
		id := c.identity
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	id := &identity{done: make(chan struct{})}
	endpoint, err := c.provider.Register(ctx, func(conn transport.Conn) {
		c.acceptInbound(id, conn)
	})
	if err != nil {
		return nil, fmt.Errorf("registering peer identity: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		endpoint.Close()
		return nil, ErrClosed
	}
	id.endpoint = endpoint
	c.identity = id
	go c.watchSignaling(id)
	c.logger.Info("peer identity registered", "peer", endpoint.ID())
	return id, nil
}

// watchSignaling reacts to the loss of the endpoint's signaling path:
// one reconnect attempt, then a persistent error.
func (c *Client) watchSignaling(id *identity) {
	for {
		var lost error
		select {
		case <-id.done:
			return
		case lost = <-id.endpoint.Disconnected():
		}
		c.logger.Warn("signaling connection lost", "peer", id.endpoint.ID(), "error", lost)

		ctx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
		err := id.endpoint.Reconnect(ctx)
		cancel()

		c.mu.Lock()
		if c.identity != id {
			c.mu.Unlock()
			return
		}
		if err == nil {
			c.logger.Info("signaling reconnected", "peer", id.endpoint.ID())
			c.setNoticeLocked(NoticeSignaling, "Reconnected to the matchmaking server.", true)
			c.mu.Unlock()
			continue
		}
		c.failLocked(NoticeSignaling, "Lost the connection to the matchmaking server.", err, true)
		c.mu.Unlock()
		return
	}
}

// teardownIdentityLocked closes the endpoint and evicts every
// connection. Safe without an identity.
func (c *Client) teardownIdentityLocked() {
	id := c.identity
	if id == nil {
		return
	}
	if c.main != nil {
		c.evictLocked(c.main)
	}
	for _, connection := range c.directs {
		c.evictLocked(connection)
	}
	c.identity = nil
	close(id.done)
	if err := id.endpoint.Close(); err != nil {
		c.logger.Warn("closing endpoint failed", "peer", id.endpoint.ID(), "error", err)
	}
	c.logger.Info("peer identity released", "peer", id.endpoint.ID())
}

// failLocked handles an unrecoverable failure: the main session ends,
// the mode becomes error and a persistent notice explains why. The
// identity goes too when dropIdentity is set.
func (c *Client) failLocked(kind NoticeKind, text string, err error, dropIdentity bool) {
	c.logger.Error(text, "error", err)
	c.endMainLocked(false)
	if dropIdentity {
		c.teardownIdentityLocked()
	}
	c.setModeLocked(ModeError)
	c.setNoticeLocked(kind, text, false)
}
