package chunkcrypt

import (
	"errors"
	"fmt"
)

// ErrOrderingViolated marks an internal defect in the pipeline's ordering
// logic, such as a duplicate chunk index or a chunk count that never
// reconciles. It is always fatal.
var ErrOrderingViolated = errors.New("chunk ordering invariant violated")

// ChunkError reports a per-chunk transform failure. It does not stop the
// run, but the run's aggregate result reports failure and the destination
// must be treated as invalid.
type ChunkError struct {
	Index uint64
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// OrderingError carries the detail of an ordering invariant violation.
type OrderingError struct {
	Index  uint64
	Detail string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("%v: chunk %d: %s", ErrOrderingViolated, e.Index, e.Detail)
}

func (e *OrderingError) Unwrap() error {
	return ErrOrderingViolated
}
