// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/strangers-chat/strangers/lib/schema"
)

// Defaults for the zero values of WebRTCProvider's timing fields.
const (
	// DefaultPollInterval is how often an endpoint polls the signaler
	// for offers and answers.
	DefaultPollInterval = 2 * time.Second

	// DefaultGatherTimeout bounds ICE candidate gathering before the
	// SDP is published.
	DefaultGatherTimeout = 15 * time.Second

	// DefaultAnswerTimeout bounds the wait for the remote answer.
	DefaultAnswerTimeout = 30 * time.Second

	// DefaultConnectTimeout bounds the wait for the data channel to
	// open once both descriptions are set.
	DefaultConnectTimeout = 30 * time.Second
)

// maxPollFailures consecutive failed polls count as a lost signaling
// path.
const maxPollFailures = 3

// WebRTCProvider registers endpoints that connect over pion/webrtc.
// Each Conn is its own PeerConnection with one ordered, reliable data
// channel labelled with the connection type.
type WebRTCProvider struct {
	Signaler  Signaler
	ICEConfig ICEConfig
	Logger    *slog.Logger

	PollInterval   time.Duration
	GatherTimeout  time.Duration
	AnswerTimeout  time.Duration
	ConnectTimeout time.Duration
}

var _ Provider = (*WebRTCProvider)(nil)

// Register creates an endpoint with a random id and confirms the
// signaling path with one poll before returning it.
func (p *WebRTCProvider) Register(ctx context.Context, inbound InboundHandler) (Endpoint, error) {
	if p.Signaler == nil {
		return nil, newError(KindUnsupported, "", errors.New("no signaler configured"))
	}
	if inbound == nil {
		return nil, fmt.Errorf("inbound handler is required")
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	id := uuid.NewString()
	endpointContext, cancel := context.WithCancel(context.Background())

	endpoint := &webrtcEndpoint{
		id:             id,
		signaler:       p.Signaler,
		iceConfig:      p.ICEConfig,
		logger:         logger.With("component", "webrtc", "endpoint", id),
		pollInterval:   orDefault(p.PollInterval, DefaultPollInterval),
		gatherTimeout:  orDefault(p.GatherTimeout, DefaultGatherTimeout),
		answerTimeout:  orDefault(p.AnswerTimeout, DefaultAnswerTimeout),
		connectTimeout: orDefault(p.ConnectTimeout, DefaultConnectTimeout),
		inbound:        inbound,
		ctx:            endpointContext,
		cancel:         cancel,
		disconnected:   make(chan error, 1),
		conns:          make(map[string]*webrtcConn),
		answers:        make(map[string]chan SignalMessage),
	}

	if err := endpoint.pollOnce(ctx); err != nil {
		endpoint.Close()
		return nil, newError(KindSignalingLost, "", fmt.Errorf("confirming signaling path: %w", err))
	}

	go endpoint.signalingPoller()

	endpoint.logger.Info("webrtc endpoint registered")
	return endpoint, nil
}

func orDefault(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

type webrtcEndpoint struct {
	id        string
	signaler  Signaler
	iceConfig ICEConfig
	logger    *slog.Logger

	pollInterval   time.Duration
	gatherTimeout  time.Duration
	answerTimeout  time.Duration
	connectTimeout time.Duration

	inbound InboundHandler

	// ctx is cancelled by Close and bounds every signaling call.
	ctx    context.Context
	cancel context.CancelFunc

	disconnected chan error

	// pollMu serializes polls between the background poller and
	// Reconnect so no signal is consumed without being handled.
	pollMu sync.Mutex

	mu            sync.Mutex
	conns         map[string]*webrtcConn
	answers       map[string]chan SignalMessage // key: connection id
	pollFailures  int
	signalingLost bool
	closed        bool
}

func (e *webrtcEndpoint) ID() string { return e.id }

func (e *webrtcEndpoint) Disconnected() <-chan error { return e.disconnected }

func (e *webrtcEndpoint) Dial(remoteID string, attributes Attributes) (Conn, error) {
	if err := ValidateTarget(e.id, remoteID); err != nil {
		return nil, err
	}
	if !attributes.Type.Valid() {
		return nil, newError(KindInvalidTarget, remoteID, fmt.Errorf("unknown connection type %q", attributes.Type))
	}

	conn := newWebRTCConn(uuid.NewString(), e, remoteID, attributes)
	answers := make(chan SignalMessage, 1)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, newError(KindClosed, remoteID, fmt.Errorf("endpoint %s closed", e.id))
	}
	e.conns[conn.id] = conn
	e.answers[conn.id] = answers
	lost := e.signalingLost
	e.mu.Unlock()

	if lost {
		conn.abort(newError(KindSignalingLost, remoteID, errors.New("signaling unavailable")))
		return conn, nil
	}

	go e.establishOutbound(conn, answers)
	return conn, nil
}

func (e *webrtcEndpoint) Reconnect(ctx context.Context) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return newError(KindClosed, "", fmt.Errorf("endpoint %s closed", e.id))
	}

	if err := e.pollOnce(ctx); err != nil {
		return newError(KindSignalingLost, "", fmt.Errorf("reconnecting signaling: %w", err))
	}

	e.mu.Lock()
	e.signalingLost = false
	e.pollFailures = 0
	e.mu.Unlock()
	e.logger.Info("signaling path restored")
	return nil
}

func (e *webrtcEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	conns := make([]*webrtcConn, 0, len(e.conns))
	for _, conn := range e.conns {
		conns = append(conns, conn)
	}
	e.mu.Unlock()

	e.cancel()
	for _, conn := range conns {
		conn.Close()
	}
	return nil
}

func (e *webrtcEndpoint) untrack(conn *webrtcConn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conns[conn.id] == conn {
		delete(e.conns, conn.id)
	}
	delete(e.answers, conn.id)
}

// signalingPoller polls for signals until the endpoint closes. Polling
// pauses while the signaling path is marked lost; Reconnect resumes it.
func (e *webrtcEndpoint) signalingPoller() {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		lost := e.signalingLost
		e.mu.Unlock()
		if lost {
			continue
		}

		if err := e.pollOnce(e.ctx); err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.recordPollFailure(err)
			continue
		}

		e.mu.Lock()
		e.pollFailures = 0
		e.mu.Unlock()
	}
}

func (e *webrtcEndpoint) recordPollFailure(err error) {
	e.mu.Lock()
	e.pollFailures++
	if IsKind(err, KindSignalingLost) && e.pollFailures < maxPollFailures {
		e.pollFailures = maxPollFailures
	}
	failures := e.pollFailures
	if failures >= maxPollFailures {
		e.signalingLost = true
	}
	e.mu.Unlock()

	e.logger.Warn("polling signals failed", "failures", failures, "error", err)
	if failures != maxPollFailures {
		return
	}
	select {
	case e.disconnected <- newError(KindSignalingLost, "", fmt.Errorf("%d consecutive signaling polls failed: %w", failures, err)):
	default:
	}
}

// pollOnce fetches new signals and handles them: answers are routed to
// the dial waiting for them, offers become inbound connections.
func (e *webrtcEndpoint) pollOnce(ctx context.Context) error {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()

	signals, err := e.signaler.Poll(ctx, e.id)
	if err != nil {
		return err
	}
	for _, signal := range signals {
		switch signal.Type {
		case schema.SignalAnswer:
			e.routeAnswer(signal)
		case schema.SignalOffer:
			e.acceptOffer(signal)
		}
	}
	return nil
}

func (e *webrtcEndpoint) routeAnswer(answer SignalMessage) {
	e.mu.Lock()
	waiting, ok := e.answers[answer.ConnectionID]
	delete(e.answers, answer.ConnectionID)
	e.mu.Unlock()

	if !ok {
		e.logger.Debug("ignoring answer for unknown connection", "connection", answer.ConnectionID, "peer", answer.From)
		return
	}
	select {
	case waiting <- answer:
	default:
	}
}

func (e *webrtcEndpoint) acceptOffer(offer SignalMessage) {
	attributes := Attributes{Type: ConnectionType(offer.Label)}
	if !attributes.Type.Valid() {
		e.logger.Warn("ignoring offer with unknown label", "peer", offer.From, "label", offer.Label)
		return
	}
	if err := ValidateTarget(e.id, offer.From); err != nil {
		e.logger.Warn("ignoring offer from invalid peer id", "peer", offer.From, "error", err)
		return
	}

	conn := newWebRTCConn(offer.ConnectionID, e, offer.From, attributes)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if _, exists := e.conns[offer.ConnectionID]; exists {
		e.mu.Unlock()
		return
	}
	e.conns[conn.id] = conn
	e.mu.Unlock()

	e.inbound(conn)
	if conn.isClosed() {
		e.logger.Info("inbound connection rejected", "peer", offer.From, "connection", offer.ConnectionID)
		return
	}

	go e.answerOffer(conn, offer)
}

// establishOutbound runs the offering side of the handshake.
func (e *webrtcEndpoint) establishOutbound(conn *webrtcConn, answers <-chan SignalMessage) {
	pc, err := e.newPeerConnection()
	if err != nil {
		conn.abort(newError(KindUnsupported, conn.remoteID, fmt.Errorf("creating PeerConnection: %w", err)))
		return
	}
	if !conn.attach(pc) {
		pc.Close()
		return
	}
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		e.handleICEStateChange(conn, state)
	})

	channel, err := pc.CreateDataChannel(string(conn.attrs.Type), nil)
	if err != nil {
		conn.abort(newError(KindNetwork, conn.remoteID, fmt.Errorf("creating data channel: %w", err)))
		return
	}
	conn.bindChannel(channel)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		conn.abort(newError(KindNetwork, conn.remoteID, fmt.Errorf("creating SDP offer: %w", err)))
		return
	}
	sdp, err := e.gather(conn, pc, offer)
	if err != nil {
		conn.abort(err)
		return
	}

	signal := SignalMessage{
		ConnectionID: conn.id,
		From:         e.id,
		To:           conn.remoteID,
		Type:         schema.SignalOffer,
		Label:        string(conn.attrs.Type),
		SDP:          sdp,
	}
	if err := e.signaler.Publish(e.ctx, signal); err != nil {
		conn.abort(newError(KindSignalingLost, conn.remoteID, fmt.Errorf("publishing SDP offer: %w", err)))
		return
	}
	e.logger.Debug("offer published", "peer", conn.remoteID, "connection", conn.id)

	var answer SignalMessage
	select {
	case answer = <-answers:
	case <-time.After(e.answerTimeout):
		conn.abort(newError(KindPeerUnavailable, conn.remoteID, fmt.Errorf("no answer within %s", e.answerTimeout)))
		return
	case <-conn.done:
		return
	case <-e.ctx.Done():
		return
	}

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		conn.abort(newError(KindNetwork, conn.remoteID, fmt.Errorf("setting remote description: %w", err)))
		return
	}
	conn.armConnectTimeout(e.connectTimeout)
}

// answerOffer runs the answering side of the handshake.
func (e *webrtcEndpoint) answerOffer(conn *webrtcConn, offer SignalMessage) {
	pc, err := e.newPeerConnection()
	if err != nil {
		conn.abort(newError(KindUnsupported, conn.remoteID, fmt.Errorf("creating PeerConnection: %w", err)))
		return
	}
	if !conn.attach(pc) {
		pc.Close()
		return
	}
	pc.OnDataChannel(func(channel *webrtc.DataChannel) {
		if channel.Label() != offer.Label {
			e.logger.Warn("data channel label differs from offer", "peer", conn.remoteID, "label", channel.Label())
		}
		conn.bindChannel(channel)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		e.handleICEStateChange(conn, state)
	})

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		conn.abort(newError(KindNetwork, conn.remoteID, fmt.Errorf("setting remote description: %w", err)))
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		conn.abort(newError(KindNetwork, conn.remoteID, fmt.Errorf("creating SDP answer: %w", err)))
		return
	}
	sdp, err := e.gather(conn, pc, answer)
	if err != nil {
		conn.abort(err)
		return
	}

	signal := SignalMessage{
		ConnectionID: conn.id,
		From:         e.id,
		To:           conn.remoteID,
		Type:         schema.SignalAnswer,
		SDP:          sdp,
	}
	if err := e.signaler.Publish(e.ctx, signal); err != nil {
		conn.abort(newError(KindSignalingLost, conn.remoteID, fmt.Errorf("publishing SDP answer: %w", err)))
		return
	}
	e.logger.Debug("answer published", "peer", conn.remoteID, "connection", conn.id)
	conn.armConnectTimeout(e.connectTimeout)
}

// gather sets the local description and waits for ICE gathering to
// finish, returning the complete SDP.
func (e *webrtcEndpoint) gather(conn *webrtcConn, pc *webrtc.PeerConnection, description webrtc.SessionDescription) (string, error) {
	complete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(description); err != nil {
		return "", newError(KindNetwork, conn.remoteID, fmt.Errorf("setting local description: %w", err))
	}
	select {
	case <-complete:
	case <-time.After(e.gatherTimeout):
		return "", newError(KindTimeout, conn.remoteID, fmt.Errorf("ICE gathering timed out after %s", e.gatherTimeout))
	case <-conn.done:
		return "", ErrClosed
	case <-e.ctx.Done():
		return "", ErrClosed
	}
	return pc.LocalDescription().SDP, nil
}

func (e *webrtcEndpoint) handleICEStateChange(conn *webrtcConn, state webrtc.ICEConnectionState) {
	e.logger.Debug("ICE state change", "peer", conn.remoteID, "connection", conn.id, "state", state.String())

	switch state {
	case webrtc.ICEConnectionStateDisconnected:
		conn.fail(newError(KindNetwork, conn.remoteID, errors.New("ICE disconnected")), false)
	case webrtc.ICEConnectionStateFailed:
		conn.fail(newError(KindNetwork, conn.remoteID, errors.New("ICE failed")), false)
		conn.Close()
	case webrtc.ICEConnectionStateClosed:
		conn.Close()
	}
}

// newPeerConnection creates a PeerConnection with the current ICE
// servers. Loopback candidates are included so endpoints on one host
// can reach each other.
func (e *webrtcEndpoint) newPeerConnection() (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: e.iceConfig.Servers})
}

// webrtcConn is one PeerConnection plus its data channel.
type webrtcConn struct {
	*connCore
	endpoint *webrtcEndpoint

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	channel *webrtc.DataChannel
	timer   *time.Timer
}

func newWebRTCConn(id string, endpoint *webrtcEndpoint, remoteID string, attrs Attributes) *webrtcConn {
	return &webrtcConn{
		connCore: newConnCore(id, remoteID, attrs),
		endpoint: endpoint,
		done:     make(chan struct{}),
	}
}

func (c *webrtcConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// attach records the PeerConnection. Returns false if the conn closed
// first, in which case the caller closes pc.
func (c *webrtcConn) attach(pc *webrtc.PeerConnection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return false
	}
	c.pc = pc
	return true
}

func (c *webrtcConn) bindChannel(channel *webrtc.DataChannel) {
	c.mu.Lock()
	c.channel = channel
	c.mu.Unlock()

	channel.OnOpen(func() {
		if c.open() {
			c.stopTimer()
			c.endpoint.logger.Info("connection open", "peer", c.remoteID, "connection", c.id, "type", c.attrs.Type)
		}
	})
	channel.OnMessage(func(message webrtc.DataChannelMessage) {
		c.deliver(message.Data)
	})
	channel.OnClose(func() {
		c.Close()
	})
}

func (c *webrtcConn) armConnectTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() || c.isOpen() {
		return
	}
	c.timer = time.AfterFunc(d, func() {
		if !c.isOpen() {
			c.abort(newError(KindTimeout, c.remoteID, fmt.Errorf("connection did not open within %s", d)))
		}
	})
}

func (c *webrtcConn) stopTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
}

func (c *webrtcConn) Send(data []byte) error {
	if err := c.checkSendable(); err != nil {
		return err
	}
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel == nil {
		return newError(KindNetwork, c.remoteID, fmt.Errorf("connection %s has no data channel", c.id))
	}
	if err := channel.Send(data); err != nil {
		return newError(KindNetwork, c.remoteID, fmt.Errorf("sending on data channel: %w", err))
	}
	return nil
}

func (c *webrtcConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.done)
		pc, channel, timer := c.pc, c.channel, c.timer
		c.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		c.finish()
		c.endpoint.untrack(c)

		// pion callbacks may be running on the goroutine that called
		// Close, and PeerConnection.Close waits for them.
		go func() {
			if channel != nil {
				channel.Close()
			}
			if pc != nil {
				pc.Close()
			}
		}()
	})
	return nil
}

// abort reports a fatal error and closes the connection.
func (c *webrtcConn) abort(err error) {
	c.fail(err, true)
	c.Close()
}
