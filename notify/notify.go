// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers user-facing notifications for social events
// that happen outside the main chat: direct messages, reactions and
// friend requests. Delivery is fire-and-forget; a sink never blocks
// the caller and never reports failure.
package notify

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"
)

// Kind names the event behind a notification.
type Kind string

const (
	KindDirectMessage  Kind = "direct-message"
	KindReaction       Kind = "reaction"
	KindFriendRequest  Kind = "friend-request"
	KindFriendAccepted Kind = "friend-accepted"
)

type Notification struct {
	Kind   Kind
	PeerID string
	Title  string
	Body   string
}

// Sink receives notifications.
type Sink interface {
	Notify(Notification)
}

// Discard drops every notification.
var Discard Sink = discard{}

type discard struct{}

func (discard) Notify(Notification) {}

// LogSink writes notifications to a logger at Info level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(n Notification) {
	if s.Logger == nil {
		return
	}
	s.Logger.Info("notification",
		"kind", n.Kind,
		"peer", n.PeerID,
		"title", n.Title,
		"body", n.Body,
	)
}

// Multi fans a notification out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	kept := make(multi, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	return kept
}

type multi []Sink

func (m multi) Notify(n Notification) {
	for _, sink := range m {
		sink.Notify(n)
	}
}

// DesktopSink shows native desktop notifications through beeep. Each
// notification is shown from its own goroutine because the platform
// backends (D-Bus, toast, osascript) can block.
type DesktopSink struct {
	logger *slog.Logger
	show   func(title, body string, icon any) error

	// inflight lets tests wait for delivery.
	inflight sync.WaitGroup
}

// NewDesktopSink returns a sink that names itself appName in the
// notification center.
func NewDesktopSink(appName string, logger *slog.Logger) *DesktopSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if appName != "" {
		beeep.AppName = appName
	}
	return &DesktopSink{logger: logger, show: beeep.Notify}
}

func (s *DesktopSink) Notify(n Notification) {
	title := strings.TrimSpace(n.Title)
	body := strings.TrimSpace(n.Body)
	if title == "" && body == "" {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.show(title, body, ""); err != nil {
			s.logger.Debug("desktop notification failed", "kind", n.Kind, "error", err)
		}
	}()
}

// wait blocks until every notification shown so far has been handed
// to the platform.
func (s *DesktopSink) wait() {
	s.inflight.Wait()
}
