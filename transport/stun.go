// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
)

// ProbeReflexiveAddress sends one STUN binding request to server and
// returns the public address the server saw, as "ip:port". server may
// be a bare "host:port" or a "stun:" URL.
func ProbeReflexiveAddress(ctx context.Context, server string) (string, error) {
	address := strings.TrimPrefix(server, "stun:")
	if address == "" {
		return "", newError(KindInvalidTarget, server, fmt.Errorf("empty STUN server"))
	}

	client, err := stun.Dial("udp", address)
	if err != nil {
		return "", newError(KindNetwork, server, fmt.Errorf("connecting to STUN server: %w", err))
	}
	defer client.Close()

	type result struct {
		address stun.XORMappedAddress
		err     error
	}
	done := make(chan result, 1)

	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	err = client.Start(message, func(event stun.Event) {
		if event.Error != nil {
			done <- result{err: event.Error}
			return
		}
		var mapped stun.XORMappedAddress
		if err := mapped.GetFrom(event.Message); err != nil {
			done <- result{err: fmt.Errorf("reading XOR-MAPPED-ADDRESS: %w", err)}
			return
		}
		done <- result{address: mapped}
	})
	if err != nil {
		return "", newError(KindNetwork, server, fmt.Errorf("sending binding request: %w", err))
	}

	select {
	case res := <-done:
		if res.err != nil {
			return "", newError(KindNetwork, server, res.err)
		}
		return res.address.String(), nil
	case <-ctx.Done():
		return "", newError(KindTimeout, server, ctx.Err())
	}
}
