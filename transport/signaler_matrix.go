// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/strangers-chat/strangers/lib/schema"
	"github.com/strangers-chat/strangers/messaging"
)

var _ Signaler = (*MatrixSignaler)(nil)

// MatrixSignaler implements Signaler with schema.EventTypeSignal state
// events in the lobby room. The state key is "from|to|connection", so
// every connection attempt owns one offer slot and one answer slot and
// concurrent attempts never overwrite each other. The pipe cannot
// appear in endpoint ids (see ValidateTarget).
type MatrixSignaler struct {
	session messaging.Session
	roomID  string
	logger  *slog.Logger

	mu   sync.Mutex
	seen seenTracker // key: state key
}

// NewMatrixSignaler creates a signaler publishing into roomID, which
// the session must already have joined.
func NewMatrixSignaler(session messaging.Session, roomID string, logger *slog.Logger) *MatrixSignaler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MatrixSignaler{
		session: session,
		roomID:  roomID,
		logger:  logger,
		seen:    make(seenTracker),
	}
}

// Publish writes the signal as a state event.
func (s *MatrixSignaler) Publish(ctx context.Context, signal SignalMessage) error {
	if signal.Timestamp == "" {
		signal.Timestamp = signalTimestamp()
	}
	stateKey := signal.stateKey()
	content := schema.SignalContent{
		ConnectionID: signal.ConnectionID,
		From:         signal.From,
		To:           signal.To,
		Type:         signal.Type,
		Label:        signal.Label,
		SDP:          signal.SDP,
		Timestamp:    signal.Timestamp,
	}
	if _, err := s.session.SendStateEvent(ctx, s.roomID, schema.EventTypeSignal, stateKey, content); err != nil {
		return fmt.Errorf("publishing %s (state_key=%s): %w", signal.Type, stateKey, err)
	}
	return nil
}

// Poll reads the room state and returns unseen signals addressed to
// peerID. A failure the homeserver will keep returning is reported as
// KindSignalingLost.
func (s *MatrixSignaler) Poll(ctx context.Context, peerID string) ([]SignalMessage, error) {
	events, err := s.session.GetRoomState(ctx, s.roomID)
	if err != nil {
		if !messaging.IsTransient(err) {
			// Retrying cannot fix a rejected token or a lost membership.
			return nil, newError(KindSignalingLost, "", fmt.Errorf("fetching room state: %w", err))
		}
		return nil, fmt.Errorf("fetching room state: %w", err)
	}

	var messages []SignalMessage
	for _, event := range events {
		if event.Type != schema.EventTypeSignal {
			continue
		}
		stateKey := event.StateKeyOrEmpty()
		from, to, connectionID, err := schema.ParseSignalStateKey(stateKey)
		if err != nil || to != peerID {
			continue
		}

		var content schema.SignalContent
		if err := json.Unmarshal(event.Content, &content); err != nil {
			s.logger.Debug("ignoring malformed signal", "state_key", stateKey, "error", err)
			continue
		}
		if content.SDP == "" || content.Timestamp == "" {
			continue
		}
		if content.Type != schema.SignalOffer && content.Type != schema.SignalAnswer {
			continue
		}

		if !s.markSeen(stateKey, content.Timestamp) {
			continue
		}

		// The state key is authoritative for routing; the content copy
		// is informational.
		messages = append(messages, SignalMessage{
			ConnectionID: connectionID,
			From:         from,
			To:           to,
			Type:         content.Type,
			Label:        content.Label,
			SDP:          content.SDP,
			Timestamp:    content.Timestamp,
		})
	}
	return messages, nil
}

func (s *MatrixSignaler) markSeen(stateKey, timestamp string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen.newer(stateKey, timestamp)
}
