// Package backend provides request/response transcription backends. The
// pipeline is agnostic to which engine produced a result; it only consumes
// recognized text and a confidence score.
package backend

import (
	"context"
	"fmt"

	"github.com/voxinput/dictation-engine/internal/config"
)

// Result is one recognition outcome for a submitted audio window
type Result struct {
	// Text is the recognized text, untrimmed
	Text string

	// Confidence is the backend's certainty in [0, 1]
	Confidence float64
}

// Transcriber converts an audio sample buffer to text. Implementations own
// their retry/backoff policy; callers treat a returned error as a single
// failed recognition, never as fatal.
type Transcriber interface {
	// Transcribe submits mono float32 samples at the given rate and blocks
	// until the backend responds or ctx is done
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error)

	// Close releases backend resources
	Close() error
}

// New creates a Transcriber based on the configured backend
func New(cfg *config.Config) (Transcriber, error) {
	switch cfg.Backend {
	case "deepgram":
		return NewDeepgramTranscriber(cfg)
	case "openai":
		return NewOpenAITranscriber(cfg), nil
	case "exec":
		return NewExecTranscriber(cfg)
	case "mock":
		return NewMockTranscriber(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (supported: deepgram, openai, exec, mock)", cfg.Backend)
	}
}
