package go_cdp

import (
	"context"
	"fmt"
	"time"
)

// maxRetryBackoff caps the exponential backoff between attempts.
const maxRetryBackoff = 5 * time.Minute

// RetryWithBackoff executes fn with exponential backoff until it
// succeeds, the retry budget is exhausted or the context is cancelled.
//
// maxRetries bounds the number of re-attempts after the first call;
// a negative value retries indefinitely. The delay starts at
// initialBackoff and doubles per attempt up to a five minute cap.
//
// Errors that are terminal for a session (integrity or authentication
// failures) and network errors that report Temporary() == false abort
// immediately; retrying those cannot succeed.
func RetryWithBackoff(ctx context.Context, maxRetries int, initialBackoff time.Duration, fn func() error) error {
	attempt := 0
	backoff := initialBackoff
	for {
		err := fn()
		if err == nil {
			if attempt > 0 {
				Debug("Retry succeeded after %d attempts", attempt)
			}
			return nil
		}
		attempt++
		if !retryable(err) {
			Debug("Not retrying after permanent error: %v", err)
			return fmt.Errorf("permanent error: %w", err)
		}
		if maxRetries >= 0 && attempt > maxRetries {
			return fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, err)
		}
		Debug("Attempt %d failed: %v (next try in %v)", attempt, err, backoff)
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

// retryable reports whether another attempt could plausibly succeed.
func retryable(err error) bool {
	if IsFatal(err) {
		return false
	}
	type temporary interface {
		Temporary() bool
	}
	if te, ok := err.(temporary); ok {
		return te.Temporary()
	}
	return true
}
