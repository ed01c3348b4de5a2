package pipeline

import (
	"errors"
	"fmt"
)

// PreconditionError means a stage's required upstream entity is missing. Nothing was written.
type PreconditionError struct {
	Stage   string
	Missing string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition failed: %s", e.Stage, e.Missing)
}

// UpstreamError means an adapter failed or answered with something unusable. The stage aborted
// before writing its terminal artifact.
type UpstreamError struct {
	Stage string
	Op    string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PerItemError is one batch item's failure. It is recorded on the item's outcome and never
// returned from the batch call.
type PerItemError struct {
	ItemID string
	Op     string
	Err    error
}

func (e *PerItemError) Error() string {
	return fmt.Sprintf("item %s: %s: %v", e.ItemID, e.Op, e.Err)
}

func (e *PerItemError) Unwrap() error { return e.Err }

func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
