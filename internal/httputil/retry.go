// Package httputil provides shared HTTP helpers for calls to external services.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/datascout-ai/datascout/internal/model"
)

// Defaults for DoWithRetry. Tests override the delay to avoid real sleeps.
const DefaultMaxRetries = 3

// Transient reports whether err or the HTTP status indicates a fault worth
// retrying: connection-level errors, timeouts, 429, and 5xx responses.
// A nil error with a non-retryable status (including 404) is not transient.
func Transient(err error, statusCode int) bool {
	if err != nil {
		// Cancellation is caller intent, not a fault to retry. Checked
		// before the net.Error probe because context.DeadlineExceeded
		// also satisfies net.Error.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		// url.Error wraps the remaining transport faults; retryable.
		return true
	}
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// DoWithRetry executes req, retrying transient failures up to maxRetries
// times with jittered exponential backoff starting at baseDelay. Responses
// with retryable status codes are drained and closed before the next
// attempt. Non-transient outcomes (2xx-4xx other than 429) are returned
// immediately. After exhausting retries the error wraps model.ErrTransientIO.
//
// The request body must be rewindable (GetBody set or nil body); req.Clone
// is used per attempt.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxRetries int, baseDelay time.Duration) (*http.Response, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; ; attempt++ {
		resp, err := client.Do(req.Clone(ctx))
		if err == nil && !Transient(nil, resp.StatusCode) {
			return resp, nil
		}

		if err != nil {
			if !Transient(err, 0) {
				return nil, err
			}
			lastErr = err
		} else {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining before retry
			resp.Body.Close()
		}

		if attempt >= maxRetries {
			return nil, fmt.Errorf("%w: %d attempts: %v", model.ErrTransientIO, attempt+1, lastErr)
		}

		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}
