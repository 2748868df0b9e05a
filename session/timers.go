// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/strangers-chat/strangers/lib/clock"
)

// debounce is a restartable single-shot timer. Every arm and stop
// advances seq, so a callback that was already running when its timer
// was replaced can tell it is stale.
type debounce struct {
	timer *clock.Timer
	seq   uint64
}

func (d *debounce) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
}

// arm replaces any pending timer. fn receives the seq to check with
// current once it holds the session lock.
func (d *debounce) arm(clk clock.Clock, after time.Duration, fn func(seq uint64)) {
	d.stop()
	seq := d.seq
	d.timer = clk.AfterFunc(after, func() { fn(seq) })
}

func (d *debounce) current(seq uint64) bool {
	return d.seq == seq
}
