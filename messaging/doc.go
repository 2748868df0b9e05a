// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the slice of the Matrix client-server API the
// lobby needs: account setup, joining the lobby room, room state, timeline
// messages, /sync, and TURN credentials.
//
// [Client] is unauthenticated. It registers guest accounts
// ([Client.RegisterGuest]), logs in with a password ([Client.Login]), or
// wraps an existing token ([Client.SessionFromToken]); each returns a
// [*DirectSession] carrying the access token.
//
// Consumers depend on the [Session] interface rather than DirectSession:
// the presence channel keeps one state event per peer, the WebRTC
// signaler exchanges offers and answers as state events, and the lobby
// broadcast chat reads m.room.message events through /sync. The
// messagingtest package provides an in-process homeserver implementing
// the same endpoints for tests.
//
// All API errors are returned as [*MatrixError] with the standard Matrix
// error code and HTTP status. [IsMatrixError] tests for a specific code.
// Request URLs are built by string concatenation with url.PathEscape per
// segment, which keeps room ids (which contain '!' and ':') and signal
// state keys (which contain '|') intact.
package messaging
