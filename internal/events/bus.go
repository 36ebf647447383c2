// Package events provides the in-process event stream that presentation
// layers subscribe to. Delivery is best-effort: slow subscribers drop
// events rather than stalling the orchestration core.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type tags an event with its originating component.
type Type string

const (
	TypePhase       Type = "phase_event"
	TypeCoordinator Type = "coordinator_event"
	TypeRetry       Type = "retry_event"
	TypeRecovery    Type = "recovery_event"
)

// Event is one entry on the stream. Every event carries at minimum its type
// tag and the run id it concerns.
type Event struct {
	ID     string         `json:"id"`
	Type   Type           `json:"type"`
	RunID  string         `json:"run_id"`
	Name   string         `json:"name"`
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields,omitempty"`
}

const subscriberBuffer = 64

// Bus is a fan-out publish/subscribe hub.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish sends an event to all subscribers without blocking.
func (b *Bus) Publish(t Type, runID, name string, fields map[string]any) {
	e := Event{
		ID:     uuid.NewString(),
		Type:   t,
		RunID:  runID,
		Name:   name,
		At:     time.Now().UTC(),
		Fields: fields,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of events and a cancel function. The channel
// is closed on cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount reports the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
