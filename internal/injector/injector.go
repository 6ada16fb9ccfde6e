// Package injector turns the recognition event stream into keystroke-level
// edits and delivers them to a sink at a steady pace. It keeps a bounded
// pending queue so a stalled sink never backs up into the recognition
// pipeline, and it merges prefix-extending results so the sink types each
// word once instead of replaying growing partials.
package injector

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxinput/dictation-engine/internal/events"
	"github.com/voxinput/dictation-engine/internal/observability"
	"github.com/voxinput/dictation-engine/internal/sink"
)

// Config controls queueing and delivery behavior
type Config struct {
	// DeliveryInterval is how often one pending item is delivered to the sink
	DeliveryInterval time.Duration

	// MaxQueueLength caps the pending queue. When full, the oldest item is
	// dropped to admit the newest.
	MaxQueueLength int

	// MinInjectLength drops results shorter than this many runes
	MinInjectLength int

	// MinConfidence drops results below this confidence
	MinConfidence float64

	// FinalOnly consumes settled results instead of streaming ones
	FinalOnly bool

	// PrefixMerge replaces a queued item in place when a newer result merely
	// extends it
	PrefixMerge bool

	// CorrectionEnabled erases the previously delivered text before typing
	// the replacement. When disabled every item is typed additively.
	CorrectionEnabled bool
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.DeliveryInterval <= 0 {
		return errors.New("delivery interval must be positive")
	}
	if c.MaxQueueLength <= 0 {
		return errors.New("max queue length must be positive")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return errors.New("min confidence must be between 0 and 1")
	}
	return nil
}

// Item is one queued piece of recognized text awaiting delivery
type Item struct {
	Text          string
	Confidence    float64
	ReceivedAt    time.Time
	RequiresErase bool
}

// Injector consumes recognition events from the bus and drip-feeds them to
// the sink. A single goroutine consumes the event stream into the queue and
// delivers at most one item per delivery interval. A delivery failure is
// reported on the bus and the item is abandoned; the next tick attempts the
// next item.
type Injector struct {
	cfg    Config
	sink   sink.Sink
	bus    *events.Bus
	logger zerolog.Logger

	mu            sync.Mutex
	queue         []Item
	lastDelivered string
	running       bool

	stopCh chan struct{}
	done   chan struct{}
}

// New creates an injector. Call Start to begin consuming events.
func New(cfg Config, snk sink.Sink, bus *events.Bus, logger zerolog.Logger) (*Injector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Injector{
		cfg:    cfg,
		sink:   snk,
		bus:    bus,
		logger: logger.With().Str("component", "injector").Logger(),
	}, nil
}

// ErrAlreadyRunning is returned by Start when the injector is active
var ErrAlreadyRunning = errors.New("injector already running")

// Start subscribes to the event bus and begins the delivery loop
func (in *Injector) Start() error {
	in.mu.Lock()
	if in.running {
		in.mu.Unlock()
		return ErrAlreadyRunning
	}
	in.running = true
	in.stopCh = make(chan struct{})
	in.done = make(chan struct{})
	stopCh, done := in.stopCh, in.done
	in.mu.Unlock()

	stream, cancel := in.bus.Subscribe()

	go func() {
		defer close(done)
		defer cancel()
		in.run(stream, stopCh)
	}()

	in.logger.Info().
		Dur("delivery_interval", in.cfg.DeliveryInterval).
		Bool("final_only", in.cfg.FinalOnly).
		Bool("correction", in.cfg.CorrectionEnabled).
		Msg("Injector started")
	return nil
}

// Stop ends the delivery loop after a best-effort flush of the queue
func (in *Injector) Stop() {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return
	}
	in.running = false
	stopCh, done := in.stopCh, in.done
	in.mu.Unlock()

	close(stopCh)
	<-done
}

// QueueDepth returns the number of items waiting for delivery
func (in *Injector) QueueDepth() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

func (in *Injector) run(stream <-chan events.Event, stopCh chan struct{}) {
	ticker := time.NewTicker(in.cfg.DeliveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			in.flush()
			return
		case ev, ok := <-stream:
			if !ok {
				in.flush()
				return
			}
			in.consume(ev)
		case <-ticker.C:
			in.deliverNext()
		}
	}
}

// consume admits one event into the pending queue, applying the confidence
// and length filters and the prefix merge.
func (in *Injector) consume(ev events.Event) {
	var item Item
	switch {
	case in.cfg.FinalOnly && ev.Type == events.TypeFinalResult:
		// Settled results already passed the recognizer's own threshold
		item = Item{Text: ev.Text, Confidence: 1.0}
	case !in.cfg.FinalOnly && ev.Type == events.TypeStreamingResult:
		item = Item{Text: ev.Text, Confidence: ev.Confidence}
	default:
		return
	}

	if item.Confidence < in.cfg.MinConfidence {
		observability.RecordDroppedItem("low_confidence")
		return
	}
	text := strings.TrimSpace(item.Text)
	if len([]rune(text)) < in.cfg.MinInjectLength {
		observability.RecordDroppedItem("too_short")
		return
	}
	item.Text = text
	item.ReceivedAt = time.Now()
	item.RequiresErase = in.cfg.CorrectionEnabled

	in.mu.Lock()
	defer in.mu.Unlock()

	// A result that extends the newest queued item supersedes it. Typing
	// the longer text once beats typing the shorter one and correcting.
	if in.cfg.PrefixMerge && len(in.queue) > 0 {
		last := &in.queue[len(in.queue)-1]
		if len(item.Text) > len(last.Text) && strings.HasPrefix(item.Text, last.Text) {
			last.Text = item.Text
			last.Confidence = item.Confidence
			observability.SetQueueDepth(len(in.queue))
			return
		}
	}

	if len(in.queue) >= in.cfg.MaxQueueLength {
		dropped := in.queue[0]
		in.queue = in.queue[1:]
		observability.RecordDroppedItem("queue_full")
		in.logger.Warn().
			Str("text", dropped.Text).
			Int("queue", len(in.queue)).
			Msg("Queue full, dropped oldest item")
	}
	in.queue = append(in.queue, item)
	observability.SetQueueDepth(len(in.queue))
}

// deliverNext pops the oldest queued item and sends it to the sink. A
// failed item is not retried: the failure is published and the next tick
// moves on to the next item. lastDelivered only advances on success, so a
// later correction still erases the previous text that actually landed.
func (in *Injector) deliverNext() {
	in.mu.Lock()
	if len(in.queue) == 0 {
		in.mu.Unlock()
		return
	}
	item := in.queue[0]
	in.queue = in.queue[1:]
	lastDelivered := in.lastDelivered
	observability.SetQueueDepth(len(in.queue))
	in.mu.Unlock()

	eraseCount := 0
	if item.RequiresErase {
		eraseCount = len([]rune(lastDelivered))
	}

	ctx, cancel := context.WithTimeout(context.Background(), in.cfg.DeliveryInterval*4)
	err := in.sink.Deliver(ctx, eraseCount, item.Text)
	cancel()

	if err != nil {
		observability.RecordDelivery("error")
		in.logger.Warn().Err(err).Str("text", item.Text).Msg("Delivery failed")
		in.bus.Publish(events.NewDeliveryFailure(err.Error()))
		return
	}

	observability.RecordDelivery("ok")
	observability.RecordDeliveryLatency(time.Since(item.ReceivedAt).Seconds())

	in.mu.Lock()
	in.lastDelivered = item.Text
	in.mu.Unlock()
}

// flush makes one delivery attempt per remaining item so text recognized
// just before shutdown still lands
func (in *Injector) flush() {
	for in.QueueDepth() > 0 {
		in.deliverNext()
	}
}
