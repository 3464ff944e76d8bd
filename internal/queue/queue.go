// Package queue holds pending (root entity, operation) pairs for the search
// indexer. Every backend keeps at most one item per root: accepting an item for
// a root that is already pending overwrites its operation (last write wins)
// and keeps its position, so consumers see the original enqueue order.
package queue

import (
	"context"

	"github.com/hyperengineering/ripple/internal/types"
)

// Queue is the de-duplicating indexing queue.
type Queue interface {
	// Accept merges (root, op) into the pending set. Accepting the same pair
	// twice leaves one item. A new root beyond capacity fails with
	// *SaturatedError; a merge into a pending root never fails on capacity.
	Accept(ctx context.Context, root types.EntityRef, op types.IndexingOperation) error

	// Drain removes and returns up to limit items, oldest first.
	Drain(ctx context.Context, limit int) ([]types.QueueItem, error)

	// Requeue puts drained items back for roots that have nothing pending.
	// A root accepted again since the drain keeps its newer operation.
	// Requeue ignores capacity: items it restores were admitted before, so a
	// bounded queue may hold more than Capacity roots until it is drained.
	Requeue(ctx context.Context, items []types.QueueItem) error

	// Size returns the number of pending items.
	Size(ctx context.Context) (int, error)

	// Contains reports whether root is pending with operation op.
	Contains(ctx context.Context, root types.EntityRef, op types.IndexingOperation) (bool, error)
}

// Options configures a queue backend.
type Options struct {
	// Name identifies the logical queue in metrics, logs and storage keys.
	Name string

	// Capacity bounds the number of distinct pending roots Accept admits.
	// Zero means unbounded.
	Capacity int
}

// DefaultName is used when Options.Name is empty.
const DefaultName = "default"

func (o Options) name() string {
	if o.Name == "" {
		return DefaultName
	}
	return o.Name
}
