// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for atelier-bridge
// packages.
//
// [RequireReceive], [RequireSend], [RequireClosed], and
// [RequireNoReceive] encapsulate the timeout safety valve pattern
// (select with a time.After fallback) so individual tests do not need
// direct time.After calls. These helpers are the only place in the
// test suite where real wall-clock timeouts appear; everything else
// uses lib/clock's FakeClock.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation — object names, capture IDs, command names — without
// reaching for time.Now().
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no atelier-bridge-internal dependencies.
package testutil
