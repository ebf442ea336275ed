// Package retry re-runs a whole operation from scratch with a fixed delay.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The cause stays reachable
// through errors.Is and errors.As.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls op up to attempts times, sleeping delay between attempts. It stops
// early on success, on a Permanent error or when ctx is done.
func Do[T any](ctx context.Context, attempts int, delay time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if IsPermanent(err) || i == attempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry aborted after %d attempt(s): %w", i, errors.Join(lastErr, ctx.Err()))
		case <-timer.C:
		}
	}
	return zero, lastErr
}
