// Package adapters holds the clients for the external services the pipeline calls:
// page scraping, LLM completion, image generation and social publishing.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout matches any *TimeoutError via errors.Is.
var ErrTimeout = errors.New("adapter call timed out")

type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// WithDeadline runs fn under a deadline of d. If the deadline passes first, the caller gets a
// *TimeoutError even when fn ignores its context; fn keeps running in the background until it returns.
// Cancellation of the parent context is reported as the parent's error, not as a timeout.
// A non-positive d runs fn with the parent context unchanged.
func WithDeadline[T any](ctx context.Context, op string, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return zero, &TimeoutError{Op: op, After: d}
		}
		return r.v, r.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{Op: op, After: d}
	}
}
