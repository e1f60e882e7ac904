// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package tick

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atelier-foundation/atelier-bridge/lib/testutil"
)

func TestDrainRunsInEnqueueOrder(t *testing.T) {
	queue := NewQueue(16)

	var ran []int
	for i := 0; i < 10; i++ {
		i := i
		mustEnqueue(t, queue, func() { ran = append(ran, i) })
	}

	if count := queue.DrainAll(); count != 10 {
		t.Fatalf("DrainAll = %d, want 10", count)
	}
	for i, got := range ran {
		if got != i {
			t.Fatalf("ran[%d] = %d, want %d", i, got, i)
		}
	}
}

func TestDrainOneRunsAtMostOne(t *testing.T) {
	queue := NewQueue(16)

	var ran int
	mustEnqueue(t, queue, func() { ran++ })
	mustEnqueue(t, queue, func() { ran++ })

	if !queue.DrainOne() {
		t.Fatal("DrainOne on non-empty queue returned false")
	}
	if ran != 1 {
		t.Fatalf("ran = %d after one drain, want 1", ran)
	}
	if queue.Len() != 1 {
		t.Fatalf("Len = %d, want 1", queue.Len())
	}
}

func TestDrainNeverBlocksWhenEmpty(t *testing.T) {
	queue := NewQueue(4)
	if queue.DrainOne() {
		t.Fatal("DrainOne on empty queue returned true")
	}
	if count := queue.DrainAll(); count != 0 {
		t.Fatalf("DrainAll on empty queue = %d", count)
	}
}

func TestEnqueueBlocksWhenFull(t *testing.T) {
	queue := NewQueue(1)
	mustEnqueue(t, queue, func() {})

	enqueued := make(chan error, 1)
	go func() {
		enqueued <- queue.Enqueue(context.Background(), func() {})
	}()

	// The queue is full, so the second enqueue must stall.
	testutil.RequireNoReceive(t, enqueued, 50*time.Millisecond, "enqueue on a full queue")

	// Draining one item frees the slot and unblocks the producer.
	if !queue.DrainOne() {
		t.Fatal("DrainOne returned false")
	}
	if err := testutil.RequireReceive(t, enqueued, 1*time.Second, "unblocked enqueue"); err != nil {
		t.Fatalf("Enqueue after drain: %v", err)
	}
}

func TestEnqueueCancelled(t *testing.T) {
	queue := NewQueue(1)
	mustEnqueue(t, queue, func() {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := queue.Enqueue(ctx, func() {}); err != context.Canceled {
		t.Fatalf("Enqueue with cancelled context: %v", err)
	}
	if queue.Len() != 1 {
		t.Fatalf("Len = %d, cancelled enqueue must not queue its item", queue.Len())
	}
}

func TestPerProducerOrderPreserved(t *testing.T) {
	const producerCount = 8
	const itemsPerProducer = 50

	queue := NewQueue(producerCount * itemsPerProducer)

	var mu sync.Mutex
	ran := make(map[int][]int)

	var producers sync.WaitGroup
	for producer := 0; producer < producerCount; producer++ {
		producer := producer
		producers.Add(1)
		go func() {
			defer producers.Done()
			for sequence := 0; sequence < itemsPerProducer; sequence++ {
				sequence := sequence
				err := queue.Enqueue(context.Background(), func() {
					mu.Lock()
					ran[producer] = append(ran[producer], sequence)
					mu.Unlock()
				})
				if err != nil {
					t.Errorf("producer %d: Enqueue: %v", producer, err)
					return
				}
			}
		}()
	}
	producers.Wait()

	if count := queue.DrainAll(); count != producerCount*itemsPerProducer {
		t.Fatalf("DrainAll = %d, want %d", count, producerCount*itemsPerProducer)
	}

	// Global interleaving across producers is scheduling-dependent,
	// but each producer's items must run in its enqueue order.
	for producer, sequences := range ran {
		for i, sequence := range sequences {
			if sequence != i {
				t.Fatalf("producer %d: item %d ran at position %d", producer, sequence, i)
			}
		}
	}
}

func TestDrainAllSnapshotsPending(t *testing.T) {
	queue := NewQueue(4)

	mustEnqueue(t, queue, func() {
		// Follow-up work queued mid-drain runs on the next drain,
		// not this one.
		mustEnqueue(t, queue, func() {})
	})

	if count := queue.DrainAll(); count != 1 {
		t.Fatalf("first DrainAll = %d, want 1", count)
	}
	if queue.Len() != 1 {
		t.Fatalf("Len = %d after snapshot drain, want 1", queue.Len())
	}
	if count := queue.DrainAll(); count != 1 {
		t.Fatalf("second DrainAll = %d, want 1", count)
	}
}

func TestNilItemPanics(t *testing.T) {
	queue := NewQueue(4)
	defer func() {
		if recover() == nil {
			t.Fatal("Enqueue(nil) did not panic")
		}
	}()
	_ = queue.Enqueue(context.Background(), nil)
}

func TestCapacityDefaults(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		queue := NewQueue(capacity)
		if queue.Cap() != DefaultCapacity {
			t.Fatalf("NewQueue(%d).Cap() = %d, want %d", capacity, queue.Cap(), DefaultCapacity)
		}
	}
	if got := NewQueue(7).Cap(); got != 7 {
		t.Fatalf("NewQueue(7).Cap() = %d", got)
	}
}

func mustEnqueue(t *testing.T, queue *Queue, item func()) {
	t.Helper()
	if err := queue.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}
