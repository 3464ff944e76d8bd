package worker

import (
	"context"
	"log/slog"

	"github.com/hyperengineering/ripple/internal/types"
)

// LogIndexer is an Indexer that only logs the items it receives.
// serve uses it when no search backend is attached.
type LogIndexer struct {
	Logger *slog.Logger
}

// Apply logs every item at info level.
func (l LogIndexer) Apply(ctx context.Context, items []types.QueueItem) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, item := range items {
		logger.InfoContext(ctx, "index operation",
			"component", "indexer",
			"root", item.Root.String(),
			"operation", string(item.Operation),
			"enqueued_at", item.EnqueuedAt,
		)
	}
	return nil
}
