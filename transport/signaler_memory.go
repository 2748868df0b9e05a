// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process Signaler for tests. Endpoints sharing
// one MemorySignaler can establish PeerConnections without a
// homeserver.
type MemorySignaler struct {
	mu       sync.Mutex
	signals  map[string]SignalMessage // key: from|to|connection
	seen     map[string]seenTracker   // key: reader peer id
	failures int
}

// NewMemorySignaler creates an empty signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		signals: make(map[string]SignalMessage),
		seen:    make(map[string]seenTracker),
	}
}

// FailPolls makes the next n Poll calls fail.
func (s *MemorySignaler) FailPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *MemorySignaler) Publish(_ context.Context, signal SignalMessage) error {
	if signal.Timestamp == "" {
		signal.Timestamp = signalTimestamp()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[signal.stateKey()] = signal
	return nil
}

func (s *MemorySignaler) Poll(_ context.Context, peerID string) ([]SignalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return nil, errors.New("memory signaler: injected poll failure")
	}

	seen := s.seen[peerID]
	if seen == nil {
		seen = make(seenTracker)
		s.seen[peerID] = seen
	}

	var messages []SignalMessage
	for key, signal := range s.signals {
		if signal.To != peerID {
			continue
		}
		if !seen.newer(key, signal.Timestamp) {
			continue
		}
		messages = append(messages, signal)
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})
	return messages, nil
}
