// Package aggregator turns a live stream of audio chunks into a running line
// of recognized text. A single goroutine owns all session state and
// communicates with the rest of the process only through the ingest queue,
// the event bus and explicit query channels, so no lock is ever held across
// a backend call.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voxinput/dictation-engine/internal/audio"
	"github.com/voxinput/dictation-engine/internal/backend"
	"github.com/voxinput/dictation-engine/internal/events"
	"github.com/voxinput/dictation-engine/internal/observability"
)

const (
	// partialThreshold marks results below it as partial (subject to
	// replacement by a later, more confident result)
	partialThreshold = 0.9

	// settledThreshold promotes results at or above it to FinalResult
	settledThreshold = 0.85

	// backendCallTimeout bounds a single recognition call. Stop never aborts
	// an in-flight call; this is the only thing that does.
	backendCallTimeout = 30 * time.Second
)

var (
	// ErrSessionActive is returned by Start while a session is running
	ErrSessionActive = errors.New("aggregation session already active")

	// ErrSessionNotActive is returned by Feed and Stop without a session
	ErrSessionNotActive = errors.New("no active aggregation session")
)

// Config holds the immutable tunables for one session
type Config struct {
	// AccumulationInterval is the cadence of backend submissions
	AccumulationInterval time.Duration

	// OverlapDuration is the audio tail retained after each submission so
	// words straddling a window boundary are not lost
	OverlapDuration time.Duration

	// MinConfidence discards results below it
	MinConfidence float64

	// SilenceTimeout ends the session after this much inactivity
	SilenceTimeout time.Duration

	// MaxPartialLength caps the running text buffer in characters
	MaxPartialLength int
}

// Validate fails fast on tunables that would degrade silently mid-session
func (c Config) Validate() error {
	if c.AccumulationInterval <= 0 {
		return fmt.Errorf("accumulation interval must be positive, got %v", c.AccumulationInterval)
	}
	if c.OverlapDuration < 0 || c.OverlapDuration >= c.AccumulationInterval {
		return fmt.Errorf("overlap duration must be in [0, accumulation interval), got %v", c.OverlapDuration)
	}
	if c.SilenceTimeout <= 0 {
		return fmt.Errorf("silence timeout must be positive, got %v", c.SilenceTimeout)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be in [0, 1], got %f", c.MinConfidence)
	}
	if c.MaxPartialLength <= 0 {
		return fmt.Errorf("max partial length must be positive, got %d", c.MaxPartialLength)
	}
	return nil
}

// Status is a point-in-time snapshot answered by the session goroutine
type Status struct {
	Active          bool
	SessionID       string
	ChunksReceived  uint64
	BufferedSamples int
	PartialText     string
}

// Aggregator runs at most one recognition session at a time
type Aggregator struct {
	backend  backend.Transcriber
	bus      *events.Bus
	archiver *audio.Archiver
	logger   zerolog.Logger

	mu        sync.Mutex
	active    bool
	cfg       Config
	sessionID string
	pending   []audio.Chunk
	notify    chan struct{}
	stopCh    chan struct{}
	stopOnce  *sync.Once
	done      chan struct{}
	requests  chan chan Status
	finalText string
}

// New creates an aggregator publishing to bus. archiver may be nil.
func New(transcriber backend.Transcriber, bus *events.Bus, archiver *audio.Archiver, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		backend:  transcriber,
		bus:      bus,
		archiver: archiver,
		logger:   logger.With().Str("component", "aggregator").Logger(),
	}
}

// Start activates a session and begins publishing to the event bus.
// Only one session may be active at a time.
func (a *Aggregator) Start(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid streaming config: %w", err)
	}

	a.mu.Lock()
	if a.active {
		a.mu.Unlock()
		return ErrSessionActive
	}

	a.active = true
	a.cfg = cfg
	a.sessionID = uuid.New().String()
	a.pending = nil
	a.notify = make(chan struct{}, 1)
	a.stopCh = make(chan struct{})
	a.stopOnce = &sync.Once{}
	a.done = make(chan struct{})
	a.requests = make(chan chan Status, 4)
	a.finalText = ""
	sessionID := a.sessionID
	a.mu.Unlock()

	a.logger.Info().
		Str("session_id", sessionID).
		Dur("accumulation_interval", cfg.AccumulationInterval).
		Dur("overlap", cfg.OverlapDuration).
		Dur("silence_timeout", cfg.SilenceTimeout).
		Float64("min_confidence", cfg.MinConfidence).
		Msg("Aggregation session started")

	observability.SetSessionActive(true)
	a.emit(events.NewRecordingState(true))

	go a.run(cfg, sessionID)
	return nil
}

// Feed hands one audio chunk to the session. The ingest queue is unbounded:
// losing a live microphone sample is unacceptable, so memory is bounded by
// overlap trimming in the session loop instead.
func (a *Aggregator) Feed(chunk audio.Chunk) error {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return ErrSessionNotActive
	}
	a.pending = append(a.pending, chunk)
	notify := a.notify
	a.mu.Unlock()

	observability.RecordChunkFed()
	observability.SetAudioLevel(audio.RMS(chunk.Samples))

	select {
	case notify <- struct{}{}:
	default:
	}
	return nil
}

// Stop requests a cooperative shutdown, waits for the final flush and
// returns the session's full text. Any backend call already in progress
// completes and its result is still evaluated.
func (a *Aggregator) Stop() (string, error) {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return "", ErrSessionNotActive
	}
	stopOnce := a.stopOnce
	stopCh := a.stopCh
	done := a.done
	a.mu.Unlock()

	stopOnce.Do(func() { close(stopCh) })
	<-done

	a.mu.Lock()
	text := a.finalText
	a.mu.Unlock()
	return text, nil
}

// Status asks the session goroutine for a snapshot. Without an active
// session the zero Status is returned.
func (a *Aggregator) Status() Status {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return Status{}
	}
	requests := a.requests
	done := a.done
	a.mu.Unlock()

	reply := make(chan Status, 1)
	select {
	case requests <- reply:
	case <-done:
		return Status{}
	}

	select {
	case s := <-reply:
		return s
	case <-done:
		// The loop may have answered just before exiting
		select {
		case s := <-reply:
			return s
		default:
			return Status{}
		}
	}
}

// run is the session loop. It is the only goroutine that touches the
// accumulation buffer, the running text and the activity clock.
func (a *Aggregator) run(cfg Config, sessionID string) {
	var (
		buffer       []float32
		archive      []float32
		partialText  string
		sampleRate   int
		chunkCount   uint64
		lastActivity = time.Now()
		lastSubmit   = time.Now()
	)

	// Tick fine enough to hit interval boundaries promptly and to notice
	// silence even when the source stops sending chunks altogether
	tick := cfg.AccumulationInterval / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	drain := func() {
		a.mu.Lock()
		chunks := a.pending
		a.pending = nil
		a.mu.Unlock()

		for _, chunk := range chunks {
			buffer = append(buffer, chunk.Samples...)
			if a.archiver != nil {
				archive = append(archive, chunk.Samples...)
			}
			if chunk.SampleRate > 0 {
				sampleRate = chunk.SampleRate
			}
			chunkCount++
			lastActivity = time.Now()
		}
	}

	submit := func() {
		if len(buffer) == 0 || sampleRate <= 0 {
			return
		}
		lastSubmit = time.Now()

		window := make([]float32, len(buffer))
		copy(window, buffer)

		ctx, cancel := context.WithTimeout(context.Background(), backendCallTimeout)
		start := time.Now()
		result, err := a.backend.Transcribe(ctx, window, sampleRate)
		cancel()

		if err != nil {
			observability.RecordBackendCall("error", time.Since(start).Seconds())
			a.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Recognition failed")
			a.emit(events.NewRecognitionError(err.Error()))
		} else {
			observability.RecordBackendCall("success", time.Since(start).Seconds())
			partialText = a.applyResult(result, partialText, cfg)
		}

		// Retain only the overlap tail; a buffer shorter than the overlap is
		// cleared outright
		overlapSamples := int(cfg.OverlapDuration.Seconds() * float64(sampleRate))
		if len(buffer) > overlapSamples {
			buffer = append(buffer[:0], buffer[len(buffer)-overlapSamples:]...)
		} else {
			buffer = buffer[:0]
		}
	}

	finish := func(reason string) {
		drain()
		if len(buffer) > 0 {
			// One last call so trailing speech is not lost
			submit()
		}

		a.logger.Info().
			Str("session_id", sessionID).
			Str("reason", reason).
			Uint64("chunks", chunkCount).
			Int("final_text_len", len(partialText)).
			Msg("Aggregation session finished")

		a.emit(events.NewSessionComplete(partialText))
		a.emit(events.NewRecordingState(false))
		observability.SetSessionActive(false)

		if a.archiver != nil && len(archive) > 0 && sampleRate > 0 {
			if path, err := a.archiver.Save(sessionID, archive, sampleRate); err != nil {
				a.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to archive session audio")
			} else {
				a.logger.Debug().Str("path", path).Str("session_id", sessionID).Msg("Session audio archived")
			}
		}

		a.mu.Lock()
		a.finalText = partialText
		a.active = false
		done := a.done
		a.mu.Unlock()
		close(done)
	}

	for {
		select {
		case <-a.stopCh:
			finish("stop")
			return

		case <-a.notify:
			drain()

		case reply := <-a.requests:
			reply <- Status{
				Active:          true,
				SessionID:       sessionID,
				ChunksReceived:  chunkCount,
				BufferedSamples: len(buffer),
				PartialText:     partialText,
			}

		case <-ticker.C:
			drain()
			if time.Since(lastSubmit) >= cfg.AccumulationInterval {
				submit()
			}
			if time.Since(lastActivity) > cfg.SilenceTimeout {
				finish("silence_timeout")
				return
			}
		}
	}
}

// applyResult filters, classifies and emits one recognition result, and
// returns the updated running text
func (a *Aggregator) applyResult(result backend.Result, partialText string, cfg Config) string {
	if result.Confidence < cfg.MinConfidence {
		a.logger.Debug().
			Float64("confidence", result.Confidence).
			Float64("min_confidence", cfg.MinConfidence).
			Msg("Result below confidence threshold, discarded")
		return partialText
	}

	text := strings.TrimSpace(result.Text)
	if utf8.RuneCountInString(text) < 2 {
		return partialText
	}

	isPartial := result.Confidence < partialThreshold
	a.emit(events.NewStreamingResult(text, isPartial, result.Confidence))

	if partialText != "" {
		partialText += " "
	}
	partialText += text
	partialText = trimFront(partialText, cfg.MaxPartialLength)

	if result.Confidence >= settledThreshold {
		a.emit(events.NewFinalResult(text))
	}

	return partialText
}

func (a *Aggregator) emit(ev events.Event) {
	observability.RecordEvent(string(ev.Type))
	a.bus.Publish(ev)
}

// trimFront drops the oldest characters so the text holds at most max runes
func trimFront(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[len(runes)-max:])
}
