// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall-clock time so that timer-driven behavior
// can be tested deterministically.
//
// The session layer arms several single-shot timers: the matchmaker's
// safety window, the typing and recording auto-clear timers, and the
// notice expiry. The presence channel runs periodic polls. All of them
// take a [Clock] instead of calling the time package directly. Real
// returns the standard library behavior; Fake returns a [FakeClock]
// whose time moves only when the test calls Advance.
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	client := session.New(session.Config{Clock: fake, ...})
//	fake.WaitForTimers(1)
//	fake.Advance(5 * time.Second) // safety window expires here
//
// AfterFunc callbacks registered on a FakeClock run synchronously inside
// Advance, in deadline order. A callback must not call Advance itself.
package clock
