// Package feed accepts microphone audio over WebSocket and drives the
// aggregator with it. Capture clients send JSON control frames with
// base64-encoded PCM16 media payloads and receive the recognition event
// stream back on the same connection.
package feed

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxinput/dictation-engine/internal/aggregator"
	"github.com/voxinput/dictation-engine/internal/audio"
	"github.com/voxinput/dictation-engine/internal/config"
	"github.com/voxinput/dictation-engine/internal/events"
)

var upgrader = websocket.Upgrader{
	// Capture clients run on the same machine; origin checks add nothing here
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// StreamMessage is one JSON frame from a capture client
type StreamMessage struct {
	Event string        `json:"event"` // "start", "media", "stop"
	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
}

// StartPayload opens a dictation session
type StartPayload struct {
	SampleRate int `json:"sample_rate"`
}

// MediaPayload carries base64-encoded little-endian PCM16 audio
type MediaPayload struct {
	Payload string `json:"payload"`
}

// Reply is one JSON frame back to the capture client
type Reply struct {
	Event     string `json:"event"` // "started", "complete", "error"
	SessionID string `json:"session_id,omitempty"`
	FullText  string `json:"full_text,omitempty"`
	Message   string `json:"message,omitempty"`
}

const defaultSampleRate = 16000

// Handler serves the audio stream endpoint
type Handler struct {
	agg    *aggregator.Aggregator
	bus    *events.Bus
	cfg    *config.Config
	logger zerolog.Logger
}

// NewHandler creates the stream handler
func NewHandler(agg *aggregator.Aggregator, bus *events.Bus, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		agg:    agg,
		bus:    bus,
		cfg:    cfg,
		logger: logger.With().Str("component", "feed").Logger(),
	}
}

// streamConn is the per-connection state. Writes are serialized because the
// event forwarder and the message loop share the socket.
type streamConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	sampleRate int
	sequence   uint64
	inSession  bool
}

func (c *streamConn) writeReply(r Reply) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(r)
}

func (c *streamConn) writeEvent(ev events.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(ev)
}

// ServeHTTP upgrades the connection and runs the stream loop
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sc := &streamConn{conn: conn, sampleRate: defaultSampleRate}
	h.logger.Info().Str("remote", r.RemoteAddr).Msg("Capture client connected")

	// Forward the recognition event stream to the client for live feedback
	stream, cancel := h.bus.Subscribe()
	defer cancel()
	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		for ev := range stream {
			if err := sc.writeEvent(ev); err != nil {
				return
			}
		}
	}()

	h.messageLoop(sc)

	// A client that vanished mid-session must not leave the session running
	if sc.inSession {
		if text, err := h.agg.Stop(); err == nil {
			h.logger.Info().Int("chars", len(text)).Msg("Session stopped after client disconnect")
		}
	}

	cancel()
	<-forwarderDone
	h.logger.Info().Str("remote", r.RemoteAddr).Msg("Capture client disconnected")
}

func (h *Handler) messageLoop(sc *streamConn) {
	for {
		var msg StreamMessage
		if err := sc.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch msg.Event {
		case "start":
			h.handleStart(sc, msg.Start)
		case "media":
			h.handleMedia(sc, msg.Media)
		case "stop":
			h.handleStop(sc)
		default:
			sc.writeReply(Reply{Event: "error", Message: fmt.Sprintf("unknown event %q", msg.Event)})
		}
	}
}

func (h *Handler) handleStart(sc *streamConn, start *StartPayload) {
	if start != nil && start.SampleRate > 0 {
		sc.sampleRate = start.SampleRate
	}
	sc.sequence = 0

	err := h.agg.Start(aggregator.Config{
		AccumulationInterval: time.Duration(h.cfg.AccumulationIntervalMs) * time.Millisecond,
		OverlapDuration:      time.Duration(h.cfg.OverlapMs) * time.Millisecond,
		MinConfidence:        h.cfg.MinConfidence,
		SilenceTimeout:       time.Duration(h.cfg.SilenceTimeoutMs) * time.Millisecond,
		MaxPartialLength:     h.cfg.MaxPartialLength,
	})
	if err != nil {
		sc.writeReply(Reply{Event: "error", Message: err.Error()})
		return
	}

	sc.inSession = true
	sc.writeReply(Reply{Event: "started", SessionID: h.agg.Status().SessionID})
}

func (h *Handler) handleMedia(sc *streamConn, media *MediaPayload) {
	if media == nil || media.Payload == "" {
		return
	}

	raw, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		sc.writeReply(Reply{Event: "error", Message: "invalid base64 payload"})
		return
	}
	samples, err := audio.DecodePCM16(raw)
	if err != nil {
		sc.writeReply(Reply{Event: "error", Message: err.Error()})
		return
	}

	sc.sequence++
	err = h.agg.Feed(audio.Chunk{
		Samples:    samples,
		SampleRate: sc.sampleRate,
		Timestamp:  time.Now(),
		Sequence:   sc.sequence,
	})
	if err != nil {
		sc.writeReply(Reply{Event: "error", Message: err.Error()})
	}
}

func (h *Handler) handleStop(sc *streamConn) {
	if !sc.inSession {
		sc.writeReply(Reply{Event: "error", Message: aggregator.ErrSessionNotActive.Error()})
		return
	}
	sc.inSession = false

	text, err := h.agg.Stop()
	if err != nil {
		sc.writeReply(Reply{Event: "error", Message: err.Error()})
		return
	}
	sc.writeReply(Reply{Event: "complete", FullText: text})
}
