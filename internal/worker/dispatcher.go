package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hyperengineering/ripple/internal/queue"
	"github.com/hyperengineering/ripple/internal/types"
)

// Indexer applies drained queue items to the search index.
// A returned error means none of the batch can be assumed applied.
type Indexer interface {
	Apply(ctx context.Context, items []types.QueueItem) error
}

// DispatcherConfig tunes the drain loop.
type DispatcherConfig struct {
	// Interval between drain passes.
	Interval time.Duration

	// BatchSize is the maximum number of items handed to the Indexer at once.
	BatchSize int

	// RateLimit caps items per second handed to the Indexer. Zero disables it.
	RateLimit float64
}

// Dispatcher drains the indexing queue and hands batches to an Indexer.
// Failed batches are requeued, so every item is delivered at least once.
type Dispatcher struct {
	queue     queue.Queue
	indexer   Indexer
	interval  time.Duration
	batchSize int
	limiter   *rate.Limiter
}

// NewDispatcher creates a Dispatcher for q.
func NewDispatcher(q queue.Queue, indexer Indexer, cfg DispatcherConfig) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Dispatcher{
		queue:     q,
		indexer:   indexer,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		limiter:   rate.NewLimiter(limit, cfg.BatchSize),
	}
}

// Run starts the drain loop. It blocks until ctx is cancelled.
// Pending items from a previous run are dispatched immediately on start.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("dispatcher started",
		"component", "worker",
		"worker", "dispatcher",
		"interval", d.interval.String(),
		"batch_size", d.batchSize,
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.dispatch(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopped",
				"component", "worker",
				"worker", "dispatcher",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			d.dispatch(ctx)
		}
	}
}

// Finish runs a last drain pass after Run has returned, bounded by ctx.
// Items it cannot apply in time stay in the queue.
func (d *Dispatcher) Finish(ctx context.Context) int {
	n, err := d.DrainOnce(ctx)
	if err != nil {
		slog.Warn("final dispatch incomplete",
			"component", "worker",
			"worker", "dispatcher",
			"dispatched", n,
			"error", err,
		)
		return n
	}
	slog.Info("final dispatch complete",
		"component", "worker",
		"worker", "dispatcher",
		"dispatched", n,
	)
	return n
}

func (d *Dispatcher) dispatch(ctx context.Context) {
	n, err := d.DrainOnce(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("dispatch failed",
			"component", "worker",
			"worker", "dispatcher",
			"dispatched", n,
			"error", err,
		)
		return
	}
	if n > 0 {
		slog.Debug("dispatch complete",
			"component", "worker",
			"worker", "dispatcher",
			"dispatched", n,
		)
	}
}

// DrainOnce hands batches to the Indexer until the queue is empty or a batch
// fails. It returns the number of items applied.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	var applied int
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		batch, err := d.queue.Drain(ctx, d.batchSize)
		if err != nil {
			return applied, fmt.Errorf("drain queue: %w", err)
		}
		if len(batch) == 0 {
			return applied, nil
		}

		if err := d.limiter.WaitN(ctx, len(batch)); err != nil {
			return applied, d.requeue(batch, err)
		}
		start := time.Now()
		if err := d.indexer.Apply(ctx, batch); err != nil {
			FailedBatches.Inc()
			return applied, d.requeue(batch, fmt.Errorf("apply batch: %w", err))
		}
		BatchDuration.Observe(time.Since(start).Seconds())
		DispatchedCount.Add(float64(len(batch)))
		applied += len(batch)
	}
}

// requeue puts a batch back. It detaches from the caller's context so a
// shutdown does not lose items that were drained but never applied.
func (d *Dispatcher) requeue(batch []types.QueueItem, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.queue.Requeue(ctx, batch); err != nil {
		slog.Error("requeue failed, items lost",
			"component", "worker",
			"worker", "dispatcher",
			"items", len(batch),
			"error", err,
		)
		return errors.Join(cause, fmt.Errorf("requeue: %w", err))
	}
	return cause
}
