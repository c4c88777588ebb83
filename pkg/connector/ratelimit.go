package connector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxAttempts = 5
	baseBackoff = time.Second
	maxBackoff  = 32 * time.Second
)

// PermanentError wraps an error that retrying cannot fix (bad credentials,
// malformed request). DoWithRetry returns it immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RetryAfterError carries a server-provided wait hint, typically from a 429.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.After)
}
func (e *RetryAfterError) Unwrap() error { return e.Err }

// Throttle paces a connector's calls to one remote API: a token bucket in
// front, exponential backoff with jitter behind.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle creates a throttle allowing rps requests per second with the
// given burst.
func NewThrottle(rps float64, burst int) *Throttle {
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Do runs fn once the rate limiter admits it.
func (t *Throttle) Do(ctx context.Context, fn func() error) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn()
}

// DoWithRetry runs fn under the rate limiter, retrying transient failures
// with exponential backoff. A RetryAfterError's hint overrides the computed
// backoff; a PermanentError stops immediately.
func (t *Throttle) DoWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		lastErr = err

		wait := backoff(attempt)
		var ra *RetryAfterError
		if errors.As(err, &ra) && ra.After > 0 {
			wait = ra.After
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxAttempts, lastErr)
}

// backoff returns the jittered exponential delay for an attempt.
func backoff(attempt int) time.Duration {
	d := baseBackoff << uint(attempt)
	if d > maxBackoff {
		d = maxBackoff
	}
	// Jitter keeps a fleet of connectors from retrying in lockstep.
	half := int64(d) / 2
	return time.Duration(half + rand.Int63n(half+1))
}
