package injector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxinput/dictation-engine/internal/events"
)

type deliveredEdit struct {
	erase  int
	insert string
}

// recordingSink captures every delivery and can be told to fail
type recordingSink struct {
	mu       sync.Mutex
	edits    []deliveredEdit
	failWith error
}

func (s *recordingSink) Deliver(_ context.Context, eraseCount int, insertText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.edits = append(s.edits, deliveredEdit{erase: eraseCount, insert: insertText})
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) delivered() []deliveredEdit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]deliveredEdit, len(s.edits))
	copy(out, s.edits)
	return out
}

func (s *recordingSink) setFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func testConfig() Config {
	return Config{
		DeliveryInterval:  10 * time.Millisecond,
		MaxQueueLength:    50,
		MinInjectLength:   2,
		MinConfidence:     0.5,
		PrefixMerge:       true,
		CorrectionEnabled: true,
	}
}

func newTestInjector(t *testing.T, cfg Config, snk *recordingSink) (*Injector, *events.Bus) {
	t.Helper()
	bus := events.NewBus(0)
	in, err := New(cfg, snk, bus, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return in, bus
}

func TestConsume_PrefixMergeReplacesInPlace(t *testing.T) {
	in, _ := newTestInjector(t, testConfig(), &recordingSink{})

	in.consume(events.NewStreamingResult("he", true, 0.8))
	in.consume(events.NewStreamingResult("hello", true, 0.9))

	if got := in.QueueDepth(); got != 1 {
		t.Fatalf("expected merged queue of 1, got %d", got)
	}
	if in.queue[0].Text != "hello" {
		t.Errorf("expected merged text %q, got %q", "hello", in.queue[0].Text)
	}
	if in.queue[0].Confidence != 0.9 {
		t.Errorf("expected merged confidence 0.9, got %v", in.queue[0].Confidence)
	}
}

func TestConsume_NonPrefixAppends(t *testing.T) {
	in, _ := newTestInjector(t, testConfig(), &recordingSink{})

	in.consume(events.NewStreamingResult("hello", true, 0.8))
	in.consume(events.NewStreamingResult("world", true, 0.8))

	if got := in.QueueDepth(); got != 2 {
		t.Fatalf("expected 2 queued items, got %d", got)
	}
}

func TestConsume_DropOldestWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.PrefixMerge = false
	in, _ := newTestInjector(t, cfg, &recordingSink{})

	for i := 0; i < 60; i++ {
		in.consume(events.NewStreamingResult(fmt.Sprintf("item-%02d", i), true, 0.8))
	}

	if got := in.QueueDepth(); got != 50 {
		t.Fatalf("expected queue capped at 50, got %d", got)
	}
	if in.queue[0].Text != "item-10" {
		t.Errorf("expected oldest survivor item-10, got %q", in.queue[0].Text)
	}
	if in.queue[49].Text != "item-59" {
		t.Errorf("expected newest item-59, got %q", in.queue[49].Text)
	}
}

func TestConsume_Filters(t *testing.T) {
	in, _ := newTestInjector(t, testConfig(), &recordingSink{})

	in.consume(events.NewStreamingResult("hello", true, 0.3))       // below min confidence
	in.consume(events.NewStreamingResult("a", true, 0.9))           // too short
	in.consume(events.NewStreamingResult("  b  ", true, 0.9))       // too short after trim
	in.consume(events.NewFinalResult("final text"))                 // wrong type in streaming mode
	in.consume(events.NewRecognitionError("backend exploded"))      // not a text event
	in.consume(events.NewStreamingResult("  kept  ", true, 0.9))

	if got := in.QueueDepth(); got != 1 {
		t.Fatalf("expected only 1 item to pass filters, got %d", got)
	}
	if in.queue[0].Text != "kept" {
		t.Errorf("expected trimmed text %q, got %q", "kept", in.queue[0].Text)
	}
}

func TestConsume_FinalOnly(t *testing.T) {
	cfg := testConfig()
	cfg.FinalOnly = true
	cfg.MinConfidence = 0.9
	in, _ := newTestInjector(t, cfg, &recordingSink{})

	in.consume(events.NewStreamingResult("streaming text", true, 0.95))
	in.consume(events.NewFinalResult("settled text"))

	if got := in.QueueDepth(); got != 1 {
		t.Fatalf("expected only the settled result, got %d items", got)
	}
	if in.queue[0].Text != "settled text" {
		t.Errorf("unexpected queued text %q", in.queue[0].Text)
	}
}

func TestDeliver_CorrectionErasesPreviousText(t *testing.T) {
	snk := &recordingSink{}
	in, _ := newTestInjector(t, testConfig(), snk)

	in.consume(events.NewStreamingResult("héllo", true, 0.9))
	in.deliverNext()
	in.consume(events.NewStreamingResult("héllo world", true, 0.9))
	in.deliverNext()

	edits := snk.delivered()
	if len(edits) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(edits))
	}
	if edits[0].erase != 0 {
		t.Errorf("first delivery should erase nothing, got %d", edits[0].erase)
	}
	// Erase counts are runes, not bytes
	if edits[1].erase != 5 {
		t.Errorf("expected erase of 5 runes, got %d", edits[1].erase)
	}
	if edits[1].insert != "héllo world" {
		t.Errorf("unexpected insert %q", edits[1].insert)
	}
}

func TestDeliver_NoCorrectionTypesAdditively(t *testing.T) {
	cfg := testConfig()
	cfg.CorrectionEnabled = false
	snk := &recordingSink{}
	in, _ := newTestInjector(t, cfg, snk)

	in.consume(events.NewStreamingResult("hello", true, 0.9))
	in.deliverNext()
	in.consume(events.NewStreamingResult("world", true, 0.9))
	in.deliverNext()

	for i, edit := range snk.delivered() {
		if edit.erase != 0 {
			t.Errorf("delivery %d should not erase, got %d", i, edit.erase)
		}
	}
}

func TestDeliver_FailureDoesNotBlockNextItem(t *testing.T) {
	cfg := testConfig()
	cfg.PrefixMerge = false
	snk := &recordingSink{}
	in, bus := newTestInjector(t, cfg, snk)

	stream, cancel := bus.Subscribe()
	defer cancel()

	in.consume(events.NewStreamingResult("first", true, 0.9))
	in.deliverNext()

	in.consume(events.NewStreamingResult("second", true, 0.9))
	in.consume(events.NewStreamingResult("third", true, 0.9))

	// Item "second" fails; it is abandoned, not retried
	snk.setFailure(errors.New("helper gone"))
	in.deliverNext()

	if got := in.QueueDepth(); got != 1 {
		t.Fatalf("failed item should be dequeued, depth = %d", got)
	}
	if in.lastDelivered != "first" {
		t.Errorf("lastDelivered should be unchanged on failure, got %q", in.lastDelivered)
	}

	select {
	case ev := <-stream:
		if ev.Type != events.TypeDeliveryFailure {
			t.Errorf("expected delivery_failure event, got %s", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery failure event")
	}

	// The next tick delivers "third", erasing the last successful text
	snk.setFailure(nil)
	in.deliverNext()

	edits := snk.delivered()
	if len(edits) != 2 {
		t.Fatalf("expected 2 successful deliveries, got %d", len(edits))
	}
	if edits[1].insert != "third" {
		t.Errorf("expected %q after failure, got %q", "third", edits[1].insert)
	}
	if edits[1].erase != len("first") {
		t.Errorf("correction should erase the last delivered text, got erase %d", edits[1].erase)
	}
}

func TestInjector_EndToEnd(t *testing.T) {
	snk := &recordingSink{}
	in, bus := newTestInjector(t, testConfig(), snk)

	if err := in.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := in.Start(); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	bus.Publish(events.NewStreamingResult("hello world", true, 0.9))

	deadline := time.After(2 * time.Second)
	for len(snk.delivered()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for delivery")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Stop flushes anything still queued
	bus.Publish(events.NewStreamingResult("trailing text", true, 0.9))
	time.Sleep(20 * time.Millisecond)
	in.Stop()

	edits := snk.delivered()
	last := edits[len(edits)-1]
	if last.insert != "trailing text" {
		t.Errorf("expected trailing text flushed on stop, got %q", last.insert)
	}

	// Stop is idempotent
	in.Stop()
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero interval", func(c *Config) { c.DeliveryInterval = 0 }, true},
		{"zero queue", func(c *Config) { c.MaxQueueLength = 0 }, true},
		{"confidence too high", func(c *Config) { c.MinConfidence = 1.5 }, true},
		{"confidence negative", func(c *Config) { c.MinConfidence = -0.1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
