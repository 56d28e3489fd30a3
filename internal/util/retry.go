package util

import (
	"context"
	"errors"
	"time"
)

// Backoff configures RetryErrWithBackoff. Delays grow by Multiplier starting
// from Initial and never exceed Max.
type Backoff struct {
	Tries      int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff is used for builder unit commits.
var DefaultBackoff = Backoff{
	Tries:      3,
	Initial:    200 * time.Millisecond,
	Max:        5 * time.Second,
	Multiplier: 2,
}

// Delay returns the pause after the given zero-based failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// RetryErrWithContext calls fn up to maxTries times until it returns nil error
// or ctx is done. If maxTries <= 0, it defaults to 1.
func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	if maxTries <= 0 {
		maxTries = 1
	}

	var lastErr error
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isContextErr(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// RetryWithContext calls fn up to maxTries times until it returns a result and nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
// Returns ctx.Err() if the context is canceled, otherwise returns the last error.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	if maxTries <= 0 {
		maxTries = 1
	}
	var lastErr error
	var zero T
	for i := 0; i < maxTries; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if isContextErr(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

// RetryErrWithBackoff is RetryErrWithContext with a pause between attempts.
// retryable may be nil; when set, errors it rejects are returned at once.
func RetryErrWithBackoff(
	ctx context.Context,
	b Backoff,
	retryable func(error) bool,
	fn func(context.Context) error,
) error {
	tries := b.Tries
	if tries <= 0 {
		tries = 1
	}

	var lastErr error
	for attempt := 0; attempt < tries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isContextErr(err) {
			return err
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == tries-1 {
			break
		}

		t := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}
