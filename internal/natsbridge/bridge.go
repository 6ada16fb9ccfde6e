// Package natsbridge republishes the internal event stream to NATS so other
// desktop services (command routers, note takers, overlays) can consume
// recognition results without linking against this process.
package natsbridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/voxinput/dictation-engine/internal/config"
	"github.com/voxinput/dictation-engine/internal/events"
)

// Bridge subscribes to the internal bus and mirrors every event onto a NATS
// subject derived from the event type, e.g. dictation.events.final_result.
type Bridge struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger

	cancel func()
	wg     sync.WaitGroup
}

// Connect dials NATS and returns a bridge ready to Start
func Connect(cfg *config.Config, logger zerolog.Logger) (*Bridge, error) {
	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("dictation-engine"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.NATSURL, err)
	}

	log := logger.With().Str("component", "nats_bridge").Logger()
	log.Info().Str("url", cfg.NATSURL).Str("prefix", cfg.NATSSubjectPrefix).Msg("Connected to NATS")

	return &Bridge{
		conn:   conn,
		prefix: cfg.NATSSubjectPrefix,
		logger: log,
	}, nil
}

// Start begins mirroring bus events onto NATS subjects
func (b *Bridge) Start(bus *events.Bus) {
	stream, cancel := bus.Subscribe()
	b.cancel = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range stream {
			b.publish(ev)
		}
	}()
}

func (b *Bridge) publish(ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", b.prefix, ev.Type)
	if err := b.conn.Publish(subject, payload); err != nil {
		// Lossy mirroring is fine; the in-process consumers are authoritative
		b.logger.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}

// Healthy reports whether the NATS connection is up
func (b *Bridge) Healthy() bool {
	return b != nil && b.conn != nil && b.conn.Status() == nats.CONNECTED
}

// Close stops mirroring and drains the connection
func (b *Bridge) Close() {
	if b == nil {
		return
	}
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.conn.Drain()
	b.conn.Close()
}
