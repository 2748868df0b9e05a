// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the module's CBOR configuration.
//
// Two serialization formats are used, with a fixed boundary. JSON is
// used for anything another party reads: the peer wire envelope, Matrix
// event content, and configuration. CBOR is used for what only this
// process reads back: the records the store package keeps in the local
// key-value store (recents, friends, chat history).
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2), so the same
// record always produces the same bytes. Decoding ignores unknown fields
// so records written by a newer version still load.
//
// Types that are only ever stored use `cbor` struct tags. Types that are
// also sent as JSON use `json` tags only; fxamacker/cbor falls back to
// them.
package codec
