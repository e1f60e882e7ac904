// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package tick

import (
	"context"
)

// DefaultCapacity is the queue bound applied when NewQueue is given a
// non-positive capacity. Deep enough that bursts from a handful of
// connections never block, shallow enough that a flooding client
// stalls its own goroutine instead of growing the heap.
const DefaultCapacity = 256

// Queue is a bounded FIFO of pending work for the tick loop. Enqueue
// may be called from any goroutine; DrainOne and DrainAll must only be
// called from the single consuming goroutine.
type Queue struct {
	items chan func()
}

// NewQueue returns a queue bounded at capacity items. Non-positive
// capacities apply DefaultCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{items: make(chan func(), capacity)}
}

// Enqueue adds an item to the queue, blocking while the queue is full.
// Returns the context's error if ctx is cancelled before space frees
// up; the item is then not queued. Panics on a nil item — callers
// always enqueue a closure they just built, so nil is a bug, not
// input.
func (q *Queue) Enqueue(ctx context.Context, item func()) error {
	if item == nil {
		panic("tick: Enqueue called with nil item")
	}
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainOne runs the oldest queued item, if any, and reports whether it
// ran one. Never blocks: an empty queue returns false immediately.
// Running one item per tick bounds how long the host's own frame work
// can be delayed by bridge commands.
func (q *Queue) DrainOne() bool {
	select {
	case item := <-q.items:
		item()
		return true
	default:
		return false
	}
}

// DrainAll runs every item that was queued when the call was made and
// returns the count. Items enqueued while draining stay queued for the
// next call, so an item that enqueues follow-up work cannot make the
// drain loop forever. Used at shutdown to flush replies and in tests.
func (q *Queue) DrainAll() int {
	pending := len(q.items)
	ran := 0
	for ; ran < pending; ran++ {
		select {
		case item := <-q.items:
			item()
		default:
			return ran
		}
	}
	return ran
}

// Len reports the number of items currently queued.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap reports the queue's capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}
