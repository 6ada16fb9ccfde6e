package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxinput/dictation-engine/internal/config"
	"github.com/voxinput/dictation-engine/internal/resilience"
)

// WSSink delivers edits over a WebSocket connection to a local typing helper
// daemon. The helper owns keystroke synthesis and focus handling; this side
// only ships {erase, insert} frames and waits for an acknowledgement.
//
// The connection is dialed lazily and redialed after any transport error. A
// circuit breaker keeps a wedged helper from turning every deliver tick into
// a full timeout.
type WSSink struct {
	url     string
	timeout time.Duration
	logger  zerolog.Logger
	breaker *resilience.CircuitBreaker

	mu   sync.Mutex
	conn *websocket.Conn
}

type editRequest struct {
	Erase  int    `json:"erase"`
	Insert string `json:"insert"`
}

type editResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NewWSSink creates a sink for the configured helper URL
func NewWSSink(cfg *config.Config, logger zerolog.Logger) *WSSink {
	return &WSSink{
		url:     cfg.SinkURL,
		timeout: time.Duration(cfg.SinkTimeoutMs) * time.Millisecond,
		logger:  logger.With().Str("component", "ws_sink").Logger(),
		breaker: resilience.NewCircuitBreaker(
			"typing_helper",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}
}

// Deliver ships one edit frame and waits for the helper's acknowledgement
func (s *WSSink) Deliver(ctx context.Context, eraseCount int, insertText string) error {
	return s.breaker.Call(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if err := s.ensureConn(ctx); err != nil {
			return err
		}

		deadline := time.Now().Add(s.timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}

		if err := s.conn.SetWriteDeadline(deadline); err != nil {
			s.dropConn()
			return fmt.Errorf("set write deadline: %w", err)
		}
		if err := s.conn.WriteJSON(editRequest{Erase: eraseCount, Insert: insertText}); err != nil {
			s.dropConn()
			return fmt.Errorf("write edit frame: %w", err)
		}

		if err := s.conn.SetReadDeadline(deadline); err != nil {
			s.dropConn()
			return fmt.Errorf("set read deadline: %w", err)
		}
		var resp editResponse
		if err := s.conn.ReadJSON(&resp); err != nil {
			s.dropConn()
			return fmt.Errorf("read edit ack: %w", err)
		}

		if !resp.OK {
			// The helper is alive but rejected the edit; keep the connection
			return fmt.Errorf("edit rejected by typing helper: %s", resp.Error)
		}
		return nil
	})
}

// ensureConn dials the helper if no connection is up. Caller holds s.mu.
func (s *WSSink) ensureConn(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// A helper that is restarting usually comes back within a beat or two
	var conn *websocket.Conn
	err := resilience.Reconnect(dialCtx, func() error {
		c, _, dialErr := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	}, &resilience.ReconnectConfig{
		MaxAttempts: 3,
		Backoff:     100 * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  time.Second,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("dial typing helper at %s: %w", s.url, err)
	}

	s.conn = conn
	s.logger.Debug().Str("url", s.url).Msg("Connected to typing helper")
	return nil
}

// dropConn closes and forgets the connection so the next call redials.
// Caller holds s.mu.
func (s *WSSink) dropConn() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Close closes the helper connection
func (s *WSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropConn()
	return nil
}
