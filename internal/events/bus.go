package events

import (
	"sync"
)

// DefaultBufferSize is the per-subscriber retention buffer. Sized for a live
// session: a subscriber that falls hundreds of events behind is better served
// by fresh events than by a complete history.
const DefaultBufferSize = 256

// Bus fans the event stream out to every subscriber in emission order. Each
// subscriber owns a bounded buffer with a drop-oldest overflow policy, so a
// slow subscriber observes a strictly ordered, possibly-pruned subsequence
// and never blocks the publisher.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	bufSize int
	closed  bool
}

// NewBus creates a bus with the given per-subscriber buffer size. Sizes
// below 1 fall back to DefaultBufferSize.
func NewBus(bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:    make(map[int]chan Event),
		bufSize: bufferSize,
	}
}

// Subscribe registers a new subscriber and returns its event channel along
// with a cancel function. The channel is closed on cancel or bus Close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufSize)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// Publish delivers the event to every subscriber. When a subscriber's buffer
// is full the oldest pending event is discarded to make room, never the new
// one.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Buffer full: evict the oldest event, then retry once. The
			// second send can only fail if a concurrent receive drained
			// and refilled the channel, in which case dropping the new
			// event is acceptable.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel and rejects further publishes
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
