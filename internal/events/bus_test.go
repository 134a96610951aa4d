package events

import (
	"testing"
	"time"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	a := b.Subscribe(4)
	c := b.Subscribe(4)

	b.Publish(Event{Kind: AccountExpired, AccountID: 7})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Kind != AccountExpired || e.AccountID != 7 {
				t.Fatalf("event = %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(1)

	// Second publish must not block even though nobody is reading.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: AccountExpired, AccountID: 1})
		b.Publish(Event{Kind: AccountExpired, AccountID: 2})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	e := <-ch
	if e.AccountID != 1 {
		t.Fatalf("got event %d, want the first one", e.AccountID)
	}
}

func TestBusCloseStopsSubscribers(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(1)
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Close")
	}
	// Publishing after close is a no-op, not a panic.
	b.Publish(Event{Kind: AccountExpired})
}
