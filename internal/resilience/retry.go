// Package resilience provides retry, reconnect and circuit breaker
// primitives shared by the transcription backends and the typing sink.
package resilience

import (
	"math/rand"
	"strings"
	"time"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts       int           // Maximum number of attempts
	InitialBackoff    time.Duration // Backoff before the second attempt
	MaxBackoff        time.Duration // Backoff ceiling
	BackoffMultiplier float64       // Exponential growth factor
	Jitter            bool          // Randomize backoff to avoid thundering herds
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// IsRetryableError decides whether an error is worth another attempt
type IsRetryableError func(error) bool

// Retry executes fn with exponential backoff. A nil isRetryable retries
// every error.
func Retry(fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}

		if attempt < config.MaxAttempts-1 {
			sleep := backoff
			if config.Jitter {
				// Up to 25% extra
				sleep += time.Duration(rand.Float64() * 0.25 * float64(backoff))
			}
			if sleep > config.MaxBackoff {
				sleep = config.MaxBackoff
			}
			time.Sleep(sleep)

			backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	return lastErr
}

// retryableFragments are error substrings that indicate a transient failure
// of a transcription API rather than a bad request
var retryableFragments = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"network is unreachable",
	"no route to host",
	"deadline exceeded",
	"timeout",
	"i/o timeout",
	"unexpected eof",
	"rate limit",
	"too many requests",
	"bad gateway",
	"service unavailable",
}

// IsRetryableNetworkError reports whether err looks like a transient
// network or service failure
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
