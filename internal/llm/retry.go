package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

// statusError carries the HTTP status of a failed provider call so the retry
// loop can tell transient failures from permanent ones.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("llm provider returned status %d: %s", e.code, e.body)
}

// IsRetryable reports whether a model-call error is transient. The
// enrichment orchestrator uses it to classify stage failures.
func IsRetryable(err error) bool {
	return retryable(err)
}

// retryable reports whether an error is worth retrying: rate limits, server
// errors, and transport failures. Circuit-open and 4xx errors are not.
func retryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	// Transport-level failures (timeouts, resets) are retryable.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

const (
	maxAttempts    = 3
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 30 * time.Second
)

// withRetry runs fn up to maxAttempts times with exponential backoff.
func withRetry[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var zero T
	delay := retryBaseDelay

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) || attempt == maxAttempts {
			break
		}

		log.Printf("llm: %s attempt %d/%d failed, retrying in %s: %v", op, attempt, maxAttempts, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return zero, lastErr
}
