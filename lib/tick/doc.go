// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package tick hands work from connection goroutines to the host's
// single execution thread.
//
// The scene engine is not safe for concurrent use: every mutation must
// happen on the tick loop, the way the host application runs all of
// its own operations. Queue is the only crossing point. Connection
// goroutines Enqueue closures (decode happened on their side; the
// closure holds the dispatch call and the reply write), and the tick
// loop calls DrainOne once per tick, so a burst of commands never
// starves the host's own frame work.
//
// The queue is bounded. When it fills, Enqueue blocks the producing
// connection goroutine until the tick loop catches up or the
// connection's context is cancelled — flow control by backpressure,
// not by buffering without limit. Items run in the order their
// enqueues completed, across all connections.
package tick
