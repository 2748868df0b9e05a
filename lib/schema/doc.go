// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the content types shared between peers and
// published through the lobby room: the user profile, presence records,
// WebRTC signaling offers and answers, and the Matrix event type names
// they travel under.
//
// Everything here is JSON, since other clients read it. Field names are
// part of the protocol and must not change.
package schema
