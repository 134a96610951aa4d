package events

import (
	"sync"
	"time"
)

// Kind identifies a domain event emitted by the reconciliation engine.
type Kind string

const (
	AccountExpired      Kind = "account_expired"
	AccountSuspended    Kind = "account_suspended"
	AccountWarnedUsage  Kind = "account_warned_usage"
	AccountWarnedExpiry Kind = "account_warned_expiry"
	PanelTripped        Kind = "panel_tripped"
	PanelRecovered      Kind = "panel_recovered"
)

// Event describes one lifecycle transition.
type Event struct {
	Kind      Kind
	AccountID uint
	UserID    string
	PanelID   uint
	At        time.Time
}

// Bus is an in-process fan-out of domain events. Publish never blocks;
// a subscriber that falls behind loses events rather than stalling the
// reconciliation cycle.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a buffered channel that receives every future event.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	if !b.closed {
		b.subs = append(b.subs, ch)
	} else {
		close(ch)
	}
	b.mu.Unlock()
	return ch
}

// Publish delivers the event to all subscribers, dropping it for any whose
// buffer is full.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close terminates all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
