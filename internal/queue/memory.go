package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/hyperengineering/ripple/internal/types"
)

// MemoryQueue is the in-process Queue backend.
// A single mutex makes merge-or-insert atomic per key and keeps Drain from
// observing a half-applied merge.
type MemoryQueue struct {
	name     string
	capacity int
	now      func() time.Time

	mu    sync.Mutex
	order *list.List // of *types.QueueItem, oldest at the front
	items map[types.EntityRef]*list.Element
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		name:     opts.name(),
		capacity: opts.Capacity,
		now:      time.Now,
		order:    list.New(),
		items:    make(map[types.EntityRef]*list.Element),
	}
}

// Name returns the logical queue name.
func (q *MemoryQueue) Name() string {
	return q.name
}

// Accept merges (root, op) into the pending set.
func (q *MemoryQueue) Accept(ctx context.Context, root types.EntityRef, op types.IndexingOperation) error {
	if err := Validate(root, op); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if el, ok := q.items[root]; ok {
		el.Value.(*types.QueueItem).Operation = op
		ObserveAccept(q.name, op, true)
		return nil
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		ObserveSaturated(q.name)
		return &SaturatedError{Queue: q.name, Capacity: q.capacity, Root: root}
	}
	q.items[root] = q.order.PushBack(&types.QueueItem{
		Root:       root,
		Operation:  op,
		EnqueuedAt: q.now().UTC(),
	})
	ObserveAccept(q.name, op, false)
	return nil
}

// Drain removes and returns up to limit items, oldest first.
func (q *MemoryQueue) Drain(ctx context.Context, limit int) ([]types.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]types.QueueItem, 0, min(limit, len(q.items)))
	for len(out) < limit {
		el := q.order.Front()
		if el == nil {
			break
		}
		item := q.order.Remove(el).(*types.QueueItem)
		delete(q.items, item.Root)
		out = append(out, *item)
	}
	ObserveDrain(q.name, len(out))
	return out, nil
}

// Requeue puts items back at the front, preserving their relative order.
// Roots accepted again since the drain keep their newer operation.
func (q *MemoryQueue) Requeue(ctx context.Context, items []types.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if _, pending := q.items[item.Root]; pending {
			continue
		}
		q.items[item.Root] = q.order.PushFront(&item)
		n++
	}
	ObserveRequeue(q.name, n)
	return nil
}

// Size returns the number of pending items.
func (q *MemoryQueue) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Contains reports whether root is pending with operation op.
func (q *MemoryQueue) Contains(ctx context.Context, root types.EntityRef, op types.IndexingOperation) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	el, ok := q.items[root]
	return ok && el.Value.(*types.QueueItem).Operation == op, nil
}
