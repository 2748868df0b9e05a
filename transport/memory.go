// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryNetwork connects endpoints inside one process. Connections
// complete asynchronously, like a real network, so callers observe the
// same pending/open/close sequence. Test hooks simulate the failures a
// real signaling server and network produce.
type MemoryNetwork struct {
	mu        sync.Mutex
	endpoints map[string]*memoryEndpoint
	stalled   map[string]bool
	refuse    map[string]bool
	failures  map[string][]ErrorKind
}

var _ Provider = (*MemoryNetwork)(nil)

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		endpoints: make(map[string]*memoryEndpoint),
		stalled:   make(map[string]bool),
		refuse:    make(map[string]bool),
		failures:  make(map[string][]ErrorKind),
	}
}

// Register creates an endpoint with a random id.
func (n *MemoryNetwork) Register(ctx context.Context, inbound InboundHandler) (Endpoint, error) {
	return n.register(ctx, uuid.NewString(), inbound)
}

// Provider returns a Provider that registers the given id every time.
// The id must be released (its endpoint closed) before it can be
// registered again.
func (n *MemoryNetwork) Provider(id string) Provider {
	return fixedIDProvider{network: n, id: id}
}

type fixedIDProvider struct {
	network *MemoryNetwork
	id      string
}

func (p fixedIDProvider) Register(ctx context.Context, inbound InboundHandler) (Endpoint, error) {
	return p.network.register(ctx, p.id, inbound)
}

func (n *MemoryNetwork) register(ctx context.Context, id string, inbound InboundHandler) (Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if inbound == nil {
		return nil, fmt.Errorf("inbound handler is required")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if kind, ok := n.takeFailureLocked(id); ok {
		return nil, newError(kind, "", fmt.Errorf("registering %s: injected failure", id))
	}
	if _, exists := n.endpoints[id]; exists {
		return nil, newError(KindInvalidTarget, id, fmt.Errorf("id already registered"))
	}

	endpoint := &memoryEndpoint{
		network:      n,
		id:           id,
		inbound:      inbound,
		disconnected: make(chan error, 1),
		conns:        make(map[string]*memoryConn),
		signaling:    true,
	}
	n.endpoints[id] = endpoint
	return endpoint, nil
}

// Stall makes dials to id hang: the dialer's connection stays pending
// and the target never hears about it.
func (n *MemoryNetwork) Stall(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stalled[id] = true
}

// DropSignaling cuts the signaling path of endpoint id. Its open
// connections stay up, new dials fail with KindSignalingLost and the
// loss is posted to Disconnected.
func (n *MemoryNetwork) DropSignaling(id string) {
	endpoint := n.lookup(id)
	if endpoint == nil {
		return
	}
	endpoint.mu.Lock()
	endpoint.signaling = false
	endpoint.mu.Unlock()

	select {
	case endpoint.disconnected <- newError(KindSignalingLost, "", fmt.Errorf("signaling connection dropped")):
	default:
	}
}

// RefuseReconnect makes Reconnect on endpoint id fail while refuse is
// set.
func (n *MemoryNetwork) RefuseReconnect(id string, refuse bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refuse[id] = refuse
}

// FailNext makes the next registration of id, or the next dial made
// by endpoint id, fail with kind. Calls queue up.
func (n *MemoryNetwork) FailNext(id string, kind ErrorKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures[id] = append(n.failures[id], kind)
}

// InjectError posts err on every open connection of endpoint id. Fatal
// errors also close the connections.
func (n *MemoryNetwork) InjectError(id string, err error, fatal bool) {
	endpoint := n.lookup(id)
	if endpoint == nil {
		return
	}
	for _, conn := range endpoint.snapshot() {
		if !conn.isOpen() {
			continue
		}
		conn.fail(err, fatal)
		if fatal {
			conn.Close()
		}
	}
}

// ConnectionCount returns how many connections endpoint id holds,
// pending or open.
func (n *MemoryNetwork) ConnectionCount(id string) int {
	endpoint := n.lookup(id)
	if endpoint == nil {
		return 0
	}
	return len(endpoint.snapshot())
}

// Registered reports whether an endpoint with id exists.
func (n *MemoryNetwork) Registered(id string) bool {
	return n.lookup(id) != nil
}

func (n *MemoryNetwork) lookup(id string) *memoryEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[id]
}

func (n *MemoryNetwork) takeFailureLocked(id string) (ErrorKind, bool) {
	queued := n.failures[id]
	if len(queued) == 0 {
		return "", false
	}
	n.failures[id] = queued[1:]
	return queued[0], true
}

// connect runs the handshake for an outbound connection.
func (n *MemoryNetwork) connect(local *memoryEndpoint, conn *memoryConn) {
	n.mu.Lock()
	failure, failed := n.takeFailureLocked(local.id)
	remote := n.endpoints[conn.remoteID]
	stalled := n.stalled[conn.remoteID]
	n.mu.Unlock()

	switch {
	case failed:
		conn.abort(newError(failure, conn.remoteID, fmt.Errorf("injected failure")))
		return
	case !local.signalingUp():
		conn.abort(newError(KindSignalingLost, conn.remoteID, fmt.Errorf("signaling unavailable")))
		return
	case remote == nil:
		conn.abort(newError(KindPeerUnavailable, conn.remoteID, fmt.Errorf("no endpoint with that id")))
		return
	case stalled:
		return
	}

	peer := newMemoryConn(conn.id, remote, local.id, conn.attrs)
	peer.inbound = true
	if !remote.track(peer) {
		conn.abort(newError(KindPeerUnavailable, conn.remoteID, fmt.Errorf("endpoint closed")))
		return
	}
	conn.setPeer(peer)
	peer.setPeer(conn)
	if conn.currentState() == stateClosed {
		if peer.finish() {
			remote.untrack(peer)
		}
		return
	}

	remote.inbound(peer)

	peer.open()
	conn.open()
}

type memoryEndpoint struct {
	network      *MemoryNetwork
	id           string
	inbound      InboundHandler
	disconnected chan error

	mu        sync.Mutex
	conns     map[string]*memoryConn
	signaling bool
	closed    bool
}

func (e *memoryEndpoint) ID() string { return e.id }

func (e *memoryEndpoint) Dial(remoteID string, attributes Attributes) (Conn, error) {
	if err := ValidateTarget(e.id, remoteID); err != nil {
		return nil, err
	}
	if !attributes.Type.Valid() {
		return nil, newError(KindInvalidTarget, remoteID, fmt.Errorf("unknown connection type %q", attributes.Type))
	}

	conn := newMemoryConn(uuid.NewString(), e, remoteID, attributes)
	if !e.track(conn) {
		return nil, newError(KindClosed, remoteID, fmt.Errorf("endpoint %s closed", e.id))
	}
	go e.network.connect(e, conn)
	return conn, nil
}

func (e *memoryEndpoint) Disconnected() <-chan error { return e.disconnected }

func (e *memoryEndpoint) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.network.mu.Lock()
	refused := e.network.refuse[e.id]
	e.network.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return newError(KindClosed, "", fmt.Errorf("endpoint %s closed", e.id))
	}
	if refused {
		return newError(KindSignalingLost, "", errors.New("reconnect refused"))
	}
	e.signaling = true
	return nil
}

func (e *memoryEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.network.mu.Lock()
	if e.network.endpoints[e.id] == e {
		delete(e.network.endpoints, e.id)
	}
	e.network.mu.Unlock()

	for _, conn := range e.snapshot() {
		conn.Close()
	}
	return nil
}

func (e *memoryEndpoint) signalingUp() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaling
}

func (e *memoryEndpoint) track(conn *memoryConn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.conns[conn.id] = conn
	return true
}

func (e *memoryEndpoint) untrack(conn *memoryConn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conns[conn.id] == conn {
		delete(e.conns, conn.id)
	}
}

func (e *memoryEndpoint) snapshot() []*memoryConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	conns := make([]*memoryConn, 0, len(e.conns))
	for _, conn := range e.conns {
		conns = append(conns, conn)
	}
	return conns
}

type memoryConn struct {
	*connCore
	endpoint *memoryEndpoint
	inbound  bool

	peerMu sync.Mutex
	peer   *memoryConn
}

func newMemoryConn(id string, endpoint *memoryEndpoint, remoteID string, attrs Attributes) *memoryConn {
	return &memoryConn{
		connCore: newConnCore(id, remoteID, attrs),
		endpoint: endpoint,
	}
}

func (c *memoryConn) setPeer(peer *memoryConn) {
	c.peerMu.Lock()
	defer c.peerMu.Unlock()
	c.peer = peer
}

func (c *memoryConn) getPeer() *memoryConn {
	c.peerMu.Lock()
	defer c.peerMu.Unlock()
	return c.peer
}

func (c *memoryConn) Send(data []byte) error {
	if err := c.checkSendable(); err != nil {
		return err
	}
	peer := c.getPeer()
	if peer == nil {
		return newError(KindNetwork, c.remoteID, fmt.Errorf("connection %s has no peer", c.id))
	}
	peer.deliver(append([]byte(nil), data...))
	return nil
}

func (c *memoryConn) Close() error {
	wasPending := c.currentState() == statePending
	if !c.finish() {
		return nil
	}
	c.endpoint.untrack(c)

	peer := c.getPeer()
	if peer == nil {
		return nil
	}
	if wasPending && c.inbound {
		peer.fail(newError(KindPeerUnavailable, c.endpoint.id, errors.New("connection rejected")), true)
	}
	if peer.finish() {
		peer.endpoint.untrack(peer)
	}
	return nil
}

// abort fails a connection that never reached its peer.
func (c *memoryConn) abort(err *Error) {
	c.fail(err, true)
	if c.finish() {
		c.endpoint.untrack(c)
	}
}
