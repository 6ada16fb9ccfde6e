package backend

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/voxinput/dictation-engine/internal/audio"
	"github.com/voxinput/dictation-engine/internal/config"
	"github.com/voxinput/dictation-engine/internal/resilience"
)

// OpenAITranscriber implements Transcriber using OpenAI's Whisper
// transcription endpoint. Whisper does not report a confidence score
// directly, so one is derived from the segment log probabilities.
type OpenAITranscriber struct {
	client      *openai.Client
	model       string
	retryConfig *resilience.RetryConfig
}

// NewOpenAITranscriber creates a new Whisper transcriber
func NewOpenAITranscriber(cfg *config.Config) *OpenAITranscriber {
	return &OpenAITranscriber{
		client: openai.NewClient(cfg.OpenAIAPIKey),
		model:  cfg.OpenAIModel,
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	}
}

// Transcribe submits the samples as WAV and derives a confidence score
func (o *OpenAITranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error) {
	wavData, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("encode audio for whisper: %w", err)
	}

	var result Result
	err = resilience.Retry(func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		response, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    o.model,
			FilePath: "window.wav",
			Reader:   bytes.NewReader(wavData),
			Format:   openai.AudioResponseFormatVerboseJSON,
		})
		if err != nil {
			return fmt.Errorf("whisper request failed: %w", err)
		}

		result = Result{
			Text:       response.Text,
			Confidence: confidenceFromSegments(response.Segments),
		}
		return nil
	}, o.retryConfig, resilience.IsRetryableNetworkError)

	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// whisperSegment aliases the anonymous struct type of
// openai.AudioResponse.Segments; the field list must match it exactly
// (including tags) so the slices are type-identical.
type whisperSegment = struct {
	ID               int     `json:"id"`
	Seek             int     `json:"seek"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Text             string  `json:"text"`
	Tokens           []int   `json:"tokens"`
	Temperature      float64 `json:"temperature"`
	AvgLogprob       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
	Transient        bool    `json:"transient"`
}

// confidenceFromSegments maps Whisper segment statistics to a [0, 1] score.
// exp(avg_logprob) approximates per-token probability; a high no-speech
// probability discounts the segment.
func confidenceFromSegments(segments []whisperSegment) float64 {
	if len(segments) == 0 {
		return 0
	}

	var sum float64
	for _, seg := range segments {
		p := math.Exp(seg.AvgLogprob)
		p *= 1 - seg.NoSpeechProb
		sum += p
	}

	confidence := sum / float64(len(segments))
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}

// Close releases backend resources
func (o *OpenAITranscriber) Close() error {
	return nil
}
