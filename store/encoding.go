// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/base64"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/strangers-chat/strangers/lib/codec"
)

// Values are CBOR, compressed with zstd, then base64 so they fit a
// text-only KV.

// zstd.Encoder and zstd.Decoder are safe for concurrent use with
// EncodeAll/DecodeAll, so one of each is shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

func encodeValue(v any) (string, error) {
	raw, err := codec.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding: %w", err)
	}
	compressed := zstdEncoder.EncodeAll(raw, nil)
	return base64.StdEncoding.EncodeToString(compressed), nil
}

func decodeValue(text string, v any) error {
	compressed, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return fmt.Errorf("base64: %w", err)
	}
	raw, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("zstd decompress: %w", err)
	}
	if err := codec.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding: %w", err)
	}
	return nil
}
