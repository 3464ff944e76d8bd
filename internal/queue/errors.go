package queue

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/ripple/internal/types"
)

var (
	// ErrQueueSaturated indicates the queue reached its configured capacity.
	ErrQueueSaturated = errors.New("indexing queue saturated")

	// ErrInvalidItem indicates a zero entity reference or unknown operation.
	ErrInvalidItem = errors.New("invalid queue item")
)

// SaturatedError reports which root could not be enqueued.
// Items are never dropped silently; the caller decides how to degrade.
type SaturatedError struct {
	Queue    string
	Capacity int
	Root     types.EntityRef
}

// Error implements the error interface.
func (e *SaturatedError) Error() string {
	return fmt.Sprintf("queue %q saturated at capacity %d: cannot enqueue %s", e.Queue, e.Capacity, e.Root)
}

// Unwrap returns ErrQueueSaturated for errors.Is() compatibility.
func (e *SaturatedError) Unwrap() error {
	return ErrQueueSaturated
}

// Validate checks an (entity, operation) pair before it reaches a backend.
func Validate(root types.EntityRef, op types.IndexingOperation) error {
	if root.Type == "" || root.ID == "" {
		return fmt.Errorf("%w: incomplete entity reference %q", ErrInvalidItem, root.String())
	}
	if !op.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidItem, op)
	}
	return nil
}

