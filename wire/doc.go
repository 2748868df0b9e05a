// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the application messages peers exchange over a
// connection and their JSON encoding.
//
// Every frame is one JSON object with a "type" tag:
//
//	{"type": "message", "id": "m1", "dataType": "text", "payload": "hi"}
//	{"type": "reaction", "messageId": "m1", "payload": "👍"}
//	{"type": "typing", "payload": true}
//
// [Decode] maps the tag onto one [Envelope] variant per message kind.
// Tags this version does not know decode to [Unknown] without error, so
// newer peers can add message kinds without breaking older ones. A known
// tag with a payload of the wrong shape is an error.
package wire
