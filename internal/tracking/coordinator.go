package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/ripple/internal/queue"
	"github.com/hyperengineering/ripple/internal/registry"
	"github.com/hyperengineering/ripple/internal/types"
)

// Options tunes dependency resolution.
type Options struct {
	MaxDepth          int
	LookupConcurrency int
}

// Coordinator is the single entry point the persistence layer calls after a
// successful commit. It runs classify, resolve and enqueue for every change.
type Coordinator struct {
	classifier *Classifier
	resolver   *Resolver
	queue      queue.Queue
}

// NewCoordinator wires a Classifier and Resolver over reg to q.
func NewCoordinator(reg *registry.Registry, lookup ReverseAssociationLookup, q queue.Queue, opts Options) *Coordinator {
	return &Coordinator{
		classifier: NewClassifier(reg),
		resolver:   NewResolver(reg, lookup, opts.MaxDepth, opts.LookupConcurrency),
		queue:      q,
	}
}

// OnCommit processes one commit's changes in the order given. Each change is
// fully classified, resolved and enqueued before the next starts. The first
// lookup, depth or queue error stops processing and is returned; items already
// enqueued stay, since enqueueing is idempotent.
func (c *Coordinator) OnCommit(ctx context.Context, changes []types.EntityChange) error {
	if len(changes) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { CommitDuration.Observe(time.Since(start).Seconds()) }()

	commitID := ulid.Make().String()
	var enqueued int

	for _, change := range changes {
		cc, ok := c.classifier.Classify(change)
		if !ok {
			continue
		}

		roots, err := c.resolver.Resolve(ctx, cc)
		if err != nil {
			slog.Error("dependency resolution failed",
				"component", "tracking",
				"commit_id", commitID,
				"entity", change.Subject.String(),
				"kind", string(change.Kind),
				"error", err,
			)
			return fmt.Errorf("resolve %s: %w", change.Subject, err)
		}

		for _, root := range roots {
			op := operationFor(cc, root)
			if err := c.queue.Accept(ctx, root, op); err != nil {
				slog.Error("enqueue failed",
					"component", "tracking",
					"commit_id", commitID,
					"root", root.String(),
					"operation", string(op),
					"error", err,
				)
				return fmt.Errorf("enqueue %s %s: %w", op, root, err)
			}
			ResolvedRoots.WithLabelValues(string(op)).Inc()
			enqueued++
		}
	}

	slog.Debug("commit processed",
		"component", "tracking",
		"commit_id", commitID,
		"changes", len(changes),
		"enqueued", enqueued,
	)
	return nil
}

// operationFor returns DELETE only for a deleted root reporting itself.
// Roots reached through associations are always re-indexed.
func operationFor(cc ClassifiedChange, root types.EntityRef) types.IndexingOperation {
	if cc.SelfIsRoot && root == cc.Subject() && cc.Operation == types.OpDelete {
		return types.OpDelete
	}
	return types.OpIndex
}
