// Package sink delivers edit operations to whatever currently has input
// focus. Resolving the focused window is the delivery helper's concern, not
// this engine's.
package sink

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/voxinput/dictation-engine/internal/config"
)

// Sink applies one edit operation: delete eraseCount characters behind the
// cursor, then insert insertText. Implementations own their transport
// handling; an error means this one edit was not applied.
type Sink interface {
	// Deliver blocks until the edit is applied or ctx is done
	Deliver(ctx context.Context, eraseCount int, insertText string) error

	// Close releases sink resources
	Close() error
}

// New creates a Sink based on the configured kind
func New(cfg *config.Config, logger zerolog.Logger) (Sink, error) {
	switch cfg.Sink {
	case "ws":
		return NewWSSink(cfg, logger), nil
	case "log":
		return NewLogSink(logger), nil
	default:
		return nil, fmt.Errorf("unknown sink %q (supported: ws, log)", cfg.Sink)
	}
}
