package tracking

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/ripple/internal/types"
)

var (
	// ErrReverseLookup indicates the reverse association lookup failed.
	// It is never turned into an empty holder set.
	ErrReverseLookup = errors.New("reverse association lookup failed")

	// ErrMaxDepthExceeded indicates resolution walked more hops than configured,
	// which points at a misconfigured association graph.
	ErrMaxDepthExceeded = errors.New("dependency resolution exceeded maximum depth")
)

// ReverseLookupError carries the navigation that failed.
type ReverseLookupError struct {
	Target   types.EntityRef
	Property string
	Err      error
}

// Error implements the error interface.
func (e *ReverseLookupError) Error() string {
	return fmt.Sprintf("find holders of %s via %s: %v", e.Target, e.Property, e.Err)
}

// Unwrap exposes both ErrReverseLookup and the lookup's own error.
func (e *ReverseLookupError) Unwrap() []error {
	return []error{ErrReverseLookup, e.Err}
}
