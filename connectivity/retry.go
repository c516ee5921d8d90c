package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Permanent wraps err so Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Retry calls fn up to maxRetries+1 times with exponential backoff starting
// at baseBackoff. It stops early on success, on a Permanent error, or when
// ctx is done, and returns the last error unwrapped from Permanent.
// logger may be nil.
func Retry(ctx context.Context, maxRetries int, baseBackoff time.Duration, logger *slog.Logger, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return lastErr
		}

		if attempt < maxRetries {
			wait := baseBackoff * (1 << uint(attempt))
			if logger != nil {
				logger.WarnContext(ctx, "connectivity: retrying",
					"attempt", attempt+1,
					"max_retries", maxRetries,
					"backoff_ms", wait.Milliseconds(),
					"error", err)
			}
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return lastErr
			case <-t.C:
			}
		}
	}
	return lastErr
}
