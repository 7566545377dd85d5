package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/tailored-agentic-units/nbkernel/wire"
)

const defaultBusBuffer = 256

// bus fans every received message out to all subscribers. Subscribers are
// identified by id so a one-shot listener can remove exactly itself;
// correlation filtering happens on the subscriber side.
type bus struct {
	mu          sync.Mutex
	subscribers map[string]chan *wire.Message
	lagged      map[string]bool
	buffer      int
	closed      bool
}

func newBus(buffer int) *bus {
	if buffer <= 0 {
		buffer = defaultBusBuffer
	}
	return &bus{
		subscribers: make(map[string]chan *wire.Message),
		lagged:      make(map[string]bool),
		buffer:      buffer,
	}
}

// subscribe registers a new subscriber and returns its id and channel. The
// channel is closed by unsubscribe or by bus close.
func (b *bus) subscribe() (string, <-chan *wire.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.Must(uuid.NewV7()).String()
	ch := make(chan *wire.Message, b.buffer)
	if b.closed {
		close(ch)
		return id, ch
	}

	b.subscribers[id] = ch
	return id, ch
}

// unsubscribe removes a subscriber and closes its channel. Unknown ids are
// a no-op, so double unsubscribe is safe.
func (b *bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.lagged, id)
	if ch, exists := b.subscribers[id]; exists {
		delete(b.subscribers, id)
		close(ch)
	}
}

// publish delivers the message to every subscriber, preserving per-caller
// arrival order. A subscriber whose buffer is full is cut off: its channel
// closes and the overflow is recorded, so the loss is attributable instead
// of surfacing as a silent gap in the stream. The number of subscribers cut
// this way is returned for observability.
func (b *bus) publish(msg *wire.Message) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for id, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			delete(b.subscribers, id)
			b.lagged[id] = true
			close(ch)
			dropped++
		}
	}
	return dropped
}

// overflowed reports whether the subscriber was cut off by publish for
// falling behind its buffer.
func (b *bus) overflowed(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lagged[id]
}

// close closes all subscriber channels and rejects future subscribers.
func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
