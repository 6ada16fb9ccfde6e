package backend

import (
	"bytes"
	"context"
	"fmt"
	"time"

	listenv1rest "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/voxinput/dictation-engine/internal/audio"
	"github.com/voxinput/dictation-engine/internal/config"
	"github.com/voxinput/dictation-engine/internal/resilience"
)

// DeepgramTranscriber implements Transcriber using Deepgram's prerecorded
// REST API. Each accumulated window is submitted as a standalone WAV file.
type DeepgramTranscriber struct {
	client      *listenv1rest.Client
	options     *interfaces.PreRecordedTranscriptionOptions
	retryConfig *resilience.RetryConfig
}

// NewDeepgramTranscriber creates a new Deepgram REST transcriber
func NewDeepgramTranscriber(cfg *config.Config) (*DeepgramTranscriber, error) {
	if cfg.DeepgramAPIKey == "" {
		return nil, fmt.Errorf("deepgram API key is required")
	}

	rest := listenClient.NewREST(cfg.DeepgramAPIKey, &interfaces.ClientOptions{})
	client := listenv1rest.New(rest)

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:    cfg.DeepgramModel,
		Language: cfg.DeepgramLanguage,
	}

	return &DeepgramTranscriber{
		client:  client,
		options: options,
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	}, nil
}

// Transcribe submits the samples as WAV and extracts the best alternative
func (d *DeepgramTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error) {
	wavData, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("encode audio for deepgram: %w", err)
	}

	var result Result
	err = resilience.Retry(func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		response, err := d.client.FromStream(ctx, bytes.NewReader(wavData), d.options)
		if err != nil {
			return fmt.Errorf("deepgram request failed: %w", err)
		}

		if response == nil || len(response.Results.Channels) == 0 ||
			len(response.Results.Channels[0].Alternatives) == 0 {
			result = Result{}
			return nil
		}

		alt := response.Results.Channels[0].Alternatives[0]
		result = Result{
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
		}
		return nil
	}, d.retryConfig, resilience.IsRetryableNetworkError)

	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// Close releases backend resources
func (d *DeepgramTranscriber) Close() error {
	return nil
}
