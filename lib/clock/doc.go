// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling time.Now,
// time.After, or time.Sleep directly. In production, Real() provides the
// standard library behavior. In tests, Fake() provides a deterministic
// clock that advances only when Advance is called.
//
// The reactor reads time exclusively through this interface: timer due
// times are computed from Now, and the loop's blocking sleep uses After.
// Tests drive both deterministically with a FakeClock:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	timers := reactor.NewTimers(logger, c)
//	// ... start the loop ...
//	c.WaitForTimers(1)          // loop has registered its sleep
//	c.Advance(5 * time.Second)  // fire it deterministically
package clock
