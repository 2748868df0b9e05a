// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides peer-to-peer message connections between
// chat clients.
//
// A [Provider] registers an [Endpoint]: one addressable identity with a
// unique id that every connection of a session multiplexes over.
// [Endpoint.Dial] opens an outbound [Conn] without blocking. The conn
// starts pending and reports its lifecycle on [Conn.Events]: an
// EventOpen once the remote side has accepted, EventData for every
// inbound message in wire order, EventError for failures and a final
// EventClose, after which the channel is closed. The remote side learns
// about a connection through the [InboundHandler] passed to Register,
// together with the [Attributes] the dialer supplied, before the
// connection opens.
//
// Every failure is an [*Error] carrying an [ErrorKind], so callers can
// tell an unreachable peer from a lost signaling path or a broken
// network without matching strings.
//
// Two providers exist. [MemoryNetwork] connects endpoints inside one
// process and can simulate stalled handshakes, signaling loss and
// refused reconnects. [WebRTCProvider] uses pion/webrtc: each Conn is
// one PeerConnection carrying one ordered data channel whose label is
// the connection type. Session descriptions are exchanged in vanilla
// ICE mode (all candidates gathered before the SDP is published)
// through a [Signaler]. [MatrixSignaler] stores offers and answers as
// Matrix room state keyed by "from|to|connection"; [MemorySignaler] is
// the in-process equivalent for tests.
//
// [BuildICEConfig] merges configured STUN and TURN servers with the
// homeserver's short-lived TURN credentials. [ProbeReflexiveAddress]
// asks a STUN server for this host's public address.
package transport
