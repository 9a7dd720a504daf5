// Copyright 2026 The VMS Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that read the time or run periodic work (token issuance
// and expiry, blacklist cleanup, broker uptime) take a [Clock] instead
// of calling the time package. Production wiring passes [Real]; tests
// pass [Fake] and move time explicitly with [FakeClock.Advance].
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go worker(ctx, c)        // calls c.NewTicker(time.Minute)
//	c.WaitForTimers(1)       // wait until the ticker is registered
//	c.Advance(time.Minute)   // fire it deterministically
package clock
