package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of reconnection attempts
	Backoff     time.Duration // Backoff before the second attempt
	Multiplier  float64       // Exponential growth factor
	MaxBackoff  time.Duration // Backoff ceiling
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     500 * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  10 * time.Second,
	}
}

// ReconnectFunc is a function that attempts to establish a connection
type ReconnectFunc func() error

// Reconnect runs fn with exponential backoff until it succeeds, the
// attempts run out, or ctx is cancelled
func Reconnect(ctx context.Context, fn ReconnectFunc, config *ReconnectConfig, logger zerolog.Logger) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}

	backoff := config.Backoff

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				logger.Info().Int("attempts", attempt+1).Msg("Reconnected")
			}
			return nil
		}

		if attempt < config.MaxAttempts-1 {
			logger.Debug().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", config.MaxAttempts).
				Dur("backoff", backoff).
				Msg("Connection attempt failed")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * config.Multiplier)
				if backoff > config.MaxBackoff {
					backoff = config.MaxBackoff
				}
			}
		}
	}

	return fmt.Errorf("failed to connect after %d attempts", config.MaxAttempts)
}
