package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// EventBus is a channel-based pub-sub event bus.
// Topics are session ids; SubscribeAll receives every session's events.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event // topic -> subscriber channels
	allSubs []chan Event            // channels subscribed to all topics
	closed  bool

	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewEventBus creates a new event bus. A nil logger uses slog.Default().
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		subs:    make(map[string][]chan Event),
		allSubs: make([]chan Event, 0),
		logger:  logger,
	}
}

// Subscribe creates a subscription to a specific topic.
// bufSize determines the channel buffer size (defaults to 256 if <= 0).
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll creates a subscription to ALL topics.
// bufSize determines the channel buffer size (defaults to 256 if <= 0).
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.allSubs = append(b.allSubs, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe or
// SubscribeAll. Unknown channels are ignored.
func (b *EventBus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for topic, channels := range b.subs {
		for i, ch := range channels {
			if ch == sub {
				b.subs[topic] = append(channels[:i], channels[i+1:]...)
				if len(b.subs[topic]) == 0 {
					delete(b.subs, topic)
				}
				close(ch)
				return
			}
		}
	}
	for i, ch := range b.allSubs {
		if ch == sub {
			b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends an event to all subscribers of the given topic and to every
// SubscribeAll channel. Non-blocking: a full subscriber misses the event and
// the drop is logged.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs[topic] {
		b.send(ch, topic, event)
	}
	for _, ch := range b.allSubs {
		b.send(ch, topic, event)
	}
}

func (b *EventBus) send(ch chan Event, topic string, event Event) {
	select {
	case ch <- event:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped, subscriber full", "topic", topic, "event", event.EventName())
	}
}

// Dropped returns how many deliveries were dropped because a subscriber was full.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes the event bus and all subscriber channels.
// Safe to call multiple times.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}
