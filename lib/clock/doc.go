// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling time.Now,
// time.After, time.NewTicker, or time.Sleep directly. In production,
// Real() provides standard library behavior. In tests, Fake() provides a
// deterministic clock that advances only when Advance is called.
//
// The bridge uses a Clock in three places: the daemon's host tick loop
// (NewTicker), the server's bounded stop-join and accept backoff (After,
// Sleep), and timestamps on captures and cache entries (Now). All three
// become deterministic in tests by injecting a FakeClock.
//
// # Wiring Pattern
//
//	server, err := bridge.New(bridge.Config{
//	    Clock: clock.Real(),
//	    // ...
//	})
//
// In tests:
//
//	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	// ... start the code under test ...
//	fakeClock.WaitForTimers(1)          // code registered its timer
//	fakeClock.Advance(time.Second)      // fire it deterministically
//
// WaitForTimers eliminates the race between a goroutine registering a
// timer and the test advancing time, which is what makes sleeps and
// tick loops testable without real waiting.
package clock
