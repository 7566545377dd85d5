package session

import (
	"testing"

	"github.com/tailored-agentic-units/nbkernel/wire"
)

func TestBus_FansOutToAllSubscribers(t *testing.T) {
	b := newBus(4)
	_, first := b.subscribe()
	_, second := b.subscribe()

	msg := &wire.Message{}
	if dropped := b.publish(msg); dropped != 0 {
		t.Errorf("publish() dropped %d subscribers, want 0", dropped)
	}

	for i, inbox := range []<-chan *wire.Message{first, second} {
		select {
		case got := <-inbox:
			if got != msg {
				t.Errorf("subscriber %d got %v, want the published message", i+1, got)
			}
		default:
			t.Errorf("subscriber %d received nothing", i+1)
		}
	}
}

func TestBus_OverflowCutsSubscriberOff(t *testing.T) {
	b := newBus(1)
	id, inbox := b.subscribe()

	if dropped := b.publish(&wire.Message{}); dropped != 0 {
		t.Fatalf("first publish() dropped %d, want 0", dropped)
	}
	if dropped := b.publish(&wire.Message{}); dropped != 1 {
		t.Fatalf("overflowing publish() dropped %d, want 1", dropped)
	}

	if !b.overflowed(id) {
		t.Error("overflowed() = false after the subscriber fell behind")
	}

	// The buffered message is still readable, then the channel closes
	// instead of leaving a silent gap.
	if _, open := <-inbox; !open {
		t.Fatal("buffered message lost on overflow")
	}
	if _, open := <-inbox; open {
		t.Error("channel still open after overflow")
	}

	// The cut subscriber no longer counts against later publishes.
	if dropped := b.publish(&wire.Message{}); dropped != 0 {
		t.Errorf("publish() after cut dropped %d, want 0", dropped)
	}
}

func TestBus_CloseIsNotOverflow(t *testing.T) {
	b := newBus(1)
	id, inbox := b.subscribe()

	b.close()

	if _, open := <-inbox; open {
		t.Error("channel still open after bus close")
	}
	if b.overflowed(id) {
		t.Error("overflowed() = true for a subscriber closed by disposal")
	}
}

func TestBus_UnsubscribeClearsOverflowRecord(t *testing.T) {
	b := newBus(1)
	id, _ := b.subscribe()

	b.publish(&wire.Message{})
	b.publish(&wire.Message{})
	if !b.overflowed(id) {
		t.Fatal("overflowed() = false, want true before unsubscribe")
	}

	b.unsubscribe(id)
	if b.overflowed(id) {
		t.Error("overflowed() = true after unsubscribe")
	}
}

func TestBus_SubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	b := newBus(1)
	b.close()

	_, inbox := b.subscribe()
	if _, open := <-inbox; open {
		t.Error("subscription after close yielded an open channel")
	}
}
