package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// StatusError reports a non-2xx response from an upstream HTTP API.
type StatusError struct {
	Service string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Service, e.Code)
}

// RateLimited reports whether the upstream asked us to slow down.
func (e *StatusError) RateLimited() bool {
	return e.Code == http.StatusTooManyRequests
}

// WithBackoff executes a function with exponential backoff retry logic
func WithBackoff(ctx context.Context, config Config, operation func(context.Context) error) error {
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if !isRetryableError(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}

		// Don't retry on the last attempt
		if attempt == config.MaxRetries {
			return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries+1, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDelay(config, attempt)):
		}
	}

	return nil // Should never reach here
}

func backoffDelay(config Config, attempt int) time.Duration {
	if config.BaseDelay <= 0 {
		return 0
	}
	delay := config.BaseDelay*time.Duration(1<<attempt) + time.Duration(rand.Int64N(int64(config.BaseDelay)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	return delay
}

// isRetryableError determines if an error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return HTTPStatusRetryable(statusErr.Code)
	}

	errStr := strings.ToLower(err.Error())

	// Network-level errors are generally retryable
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "network") {
		return true
	}

	// Only 5xx server errors and 429 rate limiting should be retried
	if strings.Contains(errStr, "status 5") ||
		strings.Contains(errStr, "status 429") {
		return true
	}

	if strings.Contains(errStr, "status 4") {
		return false
	}

	// For unknown errors, err on the side of caution and retry
	return true
}

// HTTPStatusRetryable checks if an HTTP status code is retryable
func HTTPStatusRetryable(statusCode int) bool {
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}
