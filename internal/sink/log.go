package sink

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink logs each edit instead of delivering it anywhere. Useful as a dry
// run mode when no typing helper is running.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that only logs edits
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{
		logger: logger.With().Str("component", "log_sink").Logger(),
	}
}

// Deliver logs the edit and reports success
func (s *LogSink) Deliver(_ context.Context, eraseCount int, insertText string) error {
	s.logger.Info().
		Int("erase", eraseCount).
		Str("insert", insertText).
		Msg("Edit")
	return nil
}

// Close is a no-op
func (s *LogSink) Close() error {
	return nil
}
