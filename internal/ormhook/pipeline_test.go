package ormhook

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hyperengineering/ripple/internal/types"
	"github.com/hyperengineering/ripple/internal/worker"
)

// collectingIndexer keeps every applied item and can fail the next batch.
type collectingIndexer struct {
	mu       sync.Mutex
	applied  []types.QueueItem
	failNext bool
}

func (c *collectingIndexer) Apply(ctx context.Context, items []types.QueueItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		c.failNext = false
		return errors.New("search cluster unavailable")
	}
	c.applied = append(c.applied, items...)
	return nil
}

func (c *collectingIndexer) roots() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.applied))
	for i, item := range c.applied {
		out[i] = string(item.Operation) + " " + item.Root.String()
	}
	return out
}

func TestPipeline_WritesReachIndexer(t *testing.T) {
	// Given: an order with a line, already indexed
	h := newHarness(t)
	indexer := &collectingIndexer{}
	d := worker.NewDispatcher(h.queue, indexer, worker.DispatcherConfig{BatchSize: 10})
	ctx := context.Background()

	order := Order{Number: "SO-1"}
	mustCreate(t, h.db, &order)
	line := OrderLine{OrderID: order.ID, SKU: "A", Qty: 1}
	mustCreate(t, h.db, &line)
	if _, err := d.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}

	// When: the line quantity changes, then the order is deleted
	if err := h.db.Model(&line).Update("qty", 5).Error; err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := h.db.Delete(&order).Error; err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	n, err := d.DrainOnce(ctx)

	// Then: the order's INDEX was overridden by its DELETE in place
	if err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	if n != 1 {
		t.Errorf("dispatched = %d, want 1", n)
	}
	got := indexer.roots()
	want := []string{"INDEX Order#1", "DELETE Order#1"}
	if len(got) != len(want) {
		t.Fatalf("applied = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("applied[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPipeline_FailedBatchIsRedelivered(t *testing.T) {
	h := newHarness(t)
	indexer := &collectingIndexer{failNext: true}
	d := worker.NewDispatcher(h.queue, indexer, worker.DispatcherConfig{BatchSize: 10})
	ctx := context.Background()

	mustCreate(t, h.db, &Order{Number: "SO-1"})

	if _, err := d.DrainOnce(ctx); err == nil {
		t.Fatal("DrainOnce() expected error from failing indexer, got nil")
	}
	if n, _ := h.queue.Size(ctx); n != 1 {
		t.Fatalf("queue size after failure = %d, want 1", n)
	}

	if _, err := d.DrainOnce(ctx); err != nil {
		t.Fatalf("DrainOnce() retry error = %v", err)
	}
	if got := indexer.roots(); len(got) != 1 || got[0] != "INDEX Order#1" {
		t.Errorf("applied = %v, want [INDEX Order#1]", got)
	}
}
