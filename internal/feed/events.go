package feed

import (
	"context"
	"sync"
)

// PublicationEvent notifies subscribers that a publication entered the feed.
// The external notification pathway subscribes to original and comment
// publications and turns them into deliveries via the summarizer.
type PublicationEvent struct {
	PubCode   int64
	NoteCode  int64
	PubType   PubType
	Publisher string
}

// EventBus fans publication events out to in-process subscribers. Delivery is
// best-effort: a subscriber with a full buffer misses the event rather than
// blocking the publishing request.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[int64]chan PublicationEvent
	nextID      int64
	bufferSize  int
}

// NewEventBus constructs an event bus with a small per-subscriber buffer.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[int64]chan PublicationEvent),
		bufferSize:  16,
	}
}

// Subscribe registers a listener. The returned cancel function releases the
// subscription; it also fires when ctx is done.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan PublicationEvent, func()) {
	if b == nil {
		ch := make(chan PublicationEvent)
		close(ch)
		return ch, func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	stream := make(chan PublicationEvent, b.bufferSize)
	b.subscribers[id] = stream
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return stream, cancel
}

// Publish delivers the event to every live subscriber. Safe on a nil bus.
func (b *EventBus) Publish(event PublicationEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, stream := range b.subscribers {
		select {
		case stream <- event:
		default:
		}
	}
}
