package store

import "errors"

var (
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue store closed")

	// ErrCorruptItem indicates a stored row that no longer decodes to a queue item.
	ErrCorruptItem = errors.New("corrupt queue item")
)
