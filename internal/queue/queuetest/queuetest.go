// Package queuetest is a behavioural test suite shared by every queue backend.
package queuetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hyperengineering/ripple/internal/queue"
	"github.com/hyperengineering/ripple/internal/types"
)

// Factory creates an empty queue for one subtest.
type Factory func(t *testing.T, opts queue.Options) queue.Queue

var (
	rootA = types.Ref("TestRootEntity", "a")
	rootB = types.Ref("TestRootEntity", "b")
	rootC = types.Ref("TestRootEntity", "c")
)

// Run exercises the merge, ordering, capacity and concurrency contract.
func Run(t *testing.T, newQueue Factory) {
	t.Run("AcceptTwiceLeavesOneItem", func(t *testing.T) {
		q := newQueue(t, queue.Options{Name: "conformance"})

		mustAccept(t, q, rootA, types.OpIndex)
		mustAccept(t, q, rootA, types.OpIndex)

		assertSize(t, q, 1)
		assertContains(t, q, rootA, types.OpIndex, true)
	})

	t.Run("DeleteAfterIndexWins", func(t *testing.T) {
		q := newQueue(t, queue.Options{Name: "conformance"})

		mustAccept(t, q, rootA, types.OpIndex)
		mustAccept(t, q, rootA, types.OpDelete)

		assertSize(t, q, 1)
		assertContains(t, q, rootA, types.OpDelete, true)
		assertContains(t, q, rootA, types.OpIndex, false)
	})

	t.Run("IndexAfterDeleteWins", func(t *testing.T) {
		q := newQueue(t, queue.Options{Name: "conformance"})

		mustAccept(t, q, rootA, types.OpDelete)
		mustAccept(t, q, rootA, types.OpIndex)

		assertSize(t, q, 1)
		assertContains(t, q, rootA, types.OpIndex, true)
	})

	t.Run("DrainOldestFirstAndMergeKeepsPosition", func(t *testing.T) {
		q := newQueue(t, queue.Options{Name: "conformance"})
		ctx := context.Background()

		mustAccept(t, q, rootA, types.OpIndex)
		mustAccept(t, q, rootB, types.OpIndex)
		mustAccept(t, q, rootC, types.OpIndex)
		mustAccept(t, q, rootA, types.OpDelete)

		items, err := q.Drain(ctx, 10)
		if err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
		want := []types.QueueItem{
			{Root: rootA, Operation: types.OpDelete},
			{Root: rootB, Operation: types.OpIndex},
			{Root: rootC, Operation: types.OpIndex},
		}
		assertItems(t, items, want)
		assertSize(t, q, 0)
	})

	t.Run("DrainRespectsLimit", func(t *testing.T) {
		q := newQueue(t, queue.Options{Name: "conformance"})
		ctx := context.Background()

		mustAccept(t, q, rootA, types.OpIndex)
		mustAccept(t, q, rootB, types.OpIndex)
		mustAccept(t, q, rootC, types.OpIndex)

		first, err := q.Drain(ctx, 2)
		if err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
		assertItems(t, first, []types.QueueItem{
			{Root: rootA, Operation: types.OpIndex},
			{Root: rootB, Operation: types.OpIndex},
		})
		assertSize(t, q, 1)

		rest, err := q.Drain(ctx, 2)
		if err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
		assertItems(t, rest, []types.QueueItem{{Root: rootC, Operation: types.OpIndex}})

		empty, err := q.Drain(ctx, 2)
		if err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("Drain() on empty queue = %v", empty)
		}
	})

	t.Run("DrainedItemsCarryEnqueueTime", func(t *testing.T) {
		q := newQueue(t, queue.Options{Name: "conformance"})

		mustAccept(t, q, rootA, types.OpIndex)
		items, err := q.Drain(context.Background(), 1)
		if err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
		if len(items) != 1 || items[0].EnqueuedAt.IsZero() {
			t.Errorf("Drain() = %+v, want one item with EnqueuedAt", items)
		}
	})

	t.Run("CapacityFailsFastForNewRoots", func(t *testing.T) {
		q := newQueue(t, queue.Options{Name: "bounded", Capacity: 2})
		ctx := context.Background()

		mustAccept(t, q, rootA, types.OpIndex)
		mustAccept(t, q, rootB, types.OpIndex)

		err := q.Accept(ctx, rootC, types.OpIndex)
		if !errors.Is(err, queue.ErrQueueSaturated) {
			t.Fatalf("Accept() beyond capacity error = %v, want ErrQueueSaturated", err)
		}
		var sat *queue.SaturatedError
		if !errors.As(err, &sat) || sat.Root != rootC || sat.Capacity != 2 {
			t.Errorf("SaturatedError = %+v", sat)
		}

		// Merges into pending roots still succeed at capacity
		mustAccept(t, q, rootA, types.OpDelete)
		assertContains(t, q, rootA, types.OpDelete, true)
		assertSize(t, q, 2)
	})

	t.Run("RequeueKeepsNewerDecision", func(t *testing.T) {
		q := newQueue(t, queue.Options{Name: "conformance"})
		ctx := context.Background()

		mustAccept(t, q, rootA, types.OpIndex)
		mustAccept(t, q, rootB, types.OpIndex)
		drained, err := q.Drain(ctx, 2)
		if err != nil {
			t.Fatalf("Drain() error = %v", err)
		}

		// Given: rootB was deleted while the drained batch was in flight
		mustAccept(t, q, rootB, types.OpDelete)
		mustAccept(t, q, rootC, types.OpIndex)

		// When: the failed batch is requeued
		if err := q.Requeue(ctx, drained); err != nil {
			t.Fatalf("Requeue() error = %v", err)
		}

		// Then: rootA is back ahead of newer work and rootB keeps DELETE
		assertContains(t, q, rootB, types.OpDelete, true)
		items, err := q.Drain(ctx, 10)
		if err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
		if len(items) != 3 || items[0].Root != rootA {
			t.Errorf("Drain() after Requeue = %+v, want rootA first of 3", items)
		}
	})

	t.Run("RequeueIgnoresCapacity", func(t *testing.T) {
		q := newQueue(t, queue.Options{Name: "bounded", Capacity: 1})
		ctx := context.Background()

		mustAccept(t, q, rootA, types.OpIndex)
		drained, err := q.Drain(ctx, 1)
		if err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
		mustAccept(t, q, rootB, types.OpIndex)

		// A drained item handed back is never refused, even when full
		if err := q.Requeue(ctx, drained); err != nil {
			t.Fatalf("Requeue() at capacity error = %v", err)
		}
		assertSize(t, q, 2)
		assertContains(t, q, rootA, types.OpIndex, true)

		// New roots are still refused while over capacity
		if err := q.Accept(ctx, rootC, types.OpIndex); !errors.Is(err, queue.ErrQueueSaturated) {
			t.Errorf("Accept() over capacity error = %v, want ErrQueueSaturated", err)
		}
	})

	t.Run("RejectsInvalidItems", func(t *testing.T) {
		q := newQueue(t, queue.Options{Name: "conformance"})
		ctx := context.Background()

		if err := q.Accept(ctx, types.EntityRef{}, types.OpIndex); !errors.Is(err, queue.ErrInvalidItem) {
			t.Errorf("Accept(zero ref) error = %v, want ErrInvalidItem", err)
		}
		if err := q.Accept(ctx, rootA, "PURGE"); !errors.Is(err, queue.ErrInvalidItem) {
			t.Errorf("Accept(bad op) error = %v, want ErrInvalidItem", err)
		}
		assertSize(t, q, 0)
	})

	t.Run("ConcurrentAcceptMergesPerRoot", func(t *testing.T) {
		q := newQueue(t, queue.Options{Name: "conformance"})
		ctx := context.Background()

		const workers, perWorker, roots = 8, 50, 10
		var wg sync.WaitGroup
		errs := make(chan error, workers*perWorker)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					root := types.Ref("TestRootEntity", fmt.Sprintf("r%d", (w+i)%roots))
					if err := q.Accept(ctx, root, types.OpIndex); err != nil {
						errs <- err
					}
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent Accept() error = %v", err)
		}

		assertSize(t, q, roots)
	})
}

func mustAccept(t *testing.T, q queue.Queue, root types.EntityRef, op types.IndexingOperation) {
	t.Helper()
	if err := q.Accept(context.Background(), root, op); err != nil {
		t.Fatalf("Accept(%s, %s) error = %v", root, op, err)
	}
}

func assertSize(t *testing.T, q queue.Queue, want int) {
	t.Helper()
	got, err := q.Size(context.Background())
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if got != want {
		t.Errorf("Size() = %d, want %d", got, want)
	}
}

func assertContains(t *testing.T, q queue.Queue, root types.EntityRef, op types.IndexingOperation, want bool) {
	t.Helper()
	got, err := q.Contains(context.Background(), root, op)
	if err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if got != want {
		t.Errorf("Contains(%s, %s) = %v, want %v", root, op, got, want)
	}
}

func assertItems(t *testing.T, got, want []types.QueueItem) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d items %+v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i].Root != want[i].Root || got[i].Operation != want[i].Operation {
			t.Errorf("item %d = (%s, %s), want (%s, %s)",
				i, got[i].Root, got[i].Operation, want[i].Root, want[i].Operation)
		}
	}
}
