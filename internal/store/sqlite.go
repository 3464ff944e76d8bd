// Package store provides the durable backends of the indexing queue: SQLite
// for a single process and Redis for queues shared between processes.
// Pending items survive restarts; one database may hold several logical
// queues, separated by queue name.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/ripple/internal/queue"
	"github.com/hyperengineering/ripple/internal/types"
)

// SQLiteQueue is a queue.Queue persisted in SQLite.
// The pool is limited to one connection, so every transaction is serialized
// and merge-or-insert is atomic per key.
type SQLiteQueue struct {
	db       *sql.DB
	name     string
	capacity int
	now      func() time.Time
	closed   atomic.Bool
}

var _ queue.Queue = (*SQLiteQueue)(nil)

// NewSQLiteQueue opens (or creates) the database at dbPath, applies pragmas and
// migrations, and returns the logical queue named by opts.
func NewSQLiteQueue(dbPath string, opts queue.Options) (*SQLiteQueue, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	name := opts.Name
	if name == "" {
		name = queue.DefaultName
	}
	return &SQLiteQueue{
		db:       db,
		name:     name,
		capacity: opts.Capacity,
		now:      time.Now,
	}, nil
}

// enablePragmas sets SQLite pragmas for durability under a single writer.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// Name returns the logical queue name.
func (s *SQLiteQueue) Name() string {
	return s.name
}

// Close closes the database connection.
func (s *SQLiteQueue) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Accept merges (root, op) into the pending set. A merge rewrites the
// operation and keeps seq, so the item keeps its place in line.
func (s *SQLiteQueue) Accept(ctx context.Context, root types.EntityRef, op types.IndexingOperation) error {
	if err := queue.Validate(root, op); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	merged := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM index_queue WHERE queue = ? AND root_type = ? AND root_id = ?`,
			s.name, root.Type, root.ID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check pending: %w", err)
		}
		merged = exists > 0

		if !merged && s.capacity > 0 {
			var size int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM index_queue WHERE queue = ?`, s.name,
			).Scan(&size); err != nil {
				return fmt.Errorf("count pending: %w", err)
			}
			if size >= s.capacity {
				return &queue.SaturatedError{Queue: s.name, Capacity: s.capacity, Root: root}
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO index_queue (queue, root_type, root_id, operation, seq, item_id, enqueued_at)
			VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM index_queue WHERE queue = ?), ?, ?)
			ON CONFLICT (queue, root_type, root_id) DO UPDATE SET operation = excluded.operation
		`, s.name, root.Type, root.ID, string(op), s.name, ulid.Make().String(), formatTime(s.now()))
		if err != nil {
			return fmt.Errorf("upsert item: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, queue.ErrQueueSaturated) {
			queue.ObserveSaturated(s.name)
		}
		return err
	}
	queue.ObserveAccept(s.name, op, merged)
	return nil
}

// Drain removes and returns up to limit items, oldest first, in one transaction.
func (s *SQLiteQueue) Drain(ctx context.Context, limit int) ([]types.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var items []types.QueueItem
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT root_type, root_id, operation, enqueued_at
			FROM index_queue
			WHERE queue = ?
			ORDER BY seq
			LIMIT ?
		`, s.name, limit)
		if err != nil {
			return fmt.Errorf("select items: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate items: %w", err)
		}
		rows.Close()

		for _, item := range items {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM index_queue WHERE queue = ? AND root_type = ? AND root_id = ?`,
				s.name, item.Root.Type, item.Root.ID,
			); err != nil {
				return fmt.Errorf("delete item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	queue.ObserveDrain(s.name, len(items))
	return items, nil
}

// Requeue puts items back ahead of everything pending, preserving their
// relative order. Roots accepted again since the drain are skipped.
func (s *SQLiteQueue) Requeue(ctx context.Context, items []types.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	if s.closed.Load() {
		return ErrClosed
	}

	var n int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var head sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT MIN(seq) FROM index_queue WHERE queue = ?`, s.name,
		).Scan(&head); err != nil {
			return fmt.Errorf("find queue head: %w", err)
		}
		seq := int64(1)
		if head.Valid {
			seq = head.Int64
		}

		for i := len(items) - 1; i >= 0; i-- {
			item := items[i]
			if err := queue.Validate(item.Root, item.Operation); err != nil {
				return err
			}
			enqueuedAt := item.EnqueuedAt
			if enqueuedAt.IsZero() {
				enqueuedAt = s.now()
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO index_queue (queue, root_type, root_id, operation, seq, item_id, enqueued_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (queue, root_type, root_id) DO NOTHING
			`, s.name, item.Root.Type, item.Root.ID, string(item.Operation), seq-1, ulid.Make().String(), formatTime(enqueuedAt))
			if err != nil {
				return fmt.Errorf("requeue item: %w", err)
			}
			if affected, _ := res.RowsAffected(); affected > 0 {
				seq--
				n++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	queue.ObserveRequeue(s.name, n)
	return nil
}

// Size returns the number of pending items.
func (s *SQLiteQueue) Size(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_queue WHERE queue = ?`, s.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// Contains reports whether root is pending with operation op.
func (s *SQLiteQueue) Contains(ctx context.Context, root types.EntityRef, op types.IndexingOperation) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM index_queue
		WHERE queue = ? AND root_type = ? AND root_id = ? AND operation = ?
	`, s.name, root.Type, root.ID, string(op)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check pending: %w", err)
	}
	return n > 0, nil
}

// Queues lists every logical queue with pending items and its size.
func (s *SQLiteQueue) Queues(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT queue, COUNT(*) FROM index_queue GROUP BY queue ORDER BY queue`)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan queue: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}

func (s *SQLiteQueue) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanItem(scanner interface{ Scan(...any) error }) (types.QueueItem, error) {
	var item types.QueueItem
	var op, enqueuedAt string
	if err := scanner.Scan(&item.Root.Type, &item.Root.ID, &op, &enqueuedAt); err != nil {
		return types.QueueItem{}, fmt.Errorf("scan item: %w", err)
	}
	item.Operation = types.IndexingOperation(op)
	if !item.Operation.Valid() {
		return types.QueueItem{}, fmt.Errorf("%w: operation %q for %s", ErrCorruptItem, op, item.Root)
	}
	t, err := time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return types.QueueItem{}, fmt.Errorf("%w: enqueued_at %q: %v", ErrCorruptItem, enqueuedAt, err)
	}
	item.EnqueuedAt = t
	return item, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
