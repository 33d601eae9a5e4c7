package fetch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// withRetry calls fn until it succeeds, returns a permanent error, or
// maxRetries extra attempts are spent. The wait doubles after each attempt.
func withRetry(ctx context.Context, maxRetries int, backoff time.Duration, logger *slog.Logger, fn func() (*Result, error)) (*Result, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil || !transient(err) || attempt == maxRetries {
			break
		}
		wait := backoff * (1 << uint(attempt))
		logger.WarnContext(ctx, "fetch: retrying",
			"attempt", attempt+1, "max_retries", maxRetries,
			"backoff_ms", wait.Milliseconds(), "error", err)
		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

// transient reports whether another attempt may succeed: 429 and 5xx
// gateway responses, and transport errors other than blocked URLs.
func transient(err error) bool {
	if errors.Is(err, ErrBlocked) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return true
}
