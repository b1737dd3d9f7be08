// Package events provides an in-process pub/sub bus for session and panel
// lifecycle notifications. Subscribers receive every published event; a slow
// subscriber never blocks a publisher.
package events

import (
	"sync"
	"time"

	"github.com/ashureev/agentdeck/internal/domain"
)

// EventType identifies the kind of event on the bus.
type EventType string

const (
	EventSessionCreated EventType = "session-created"
	EventSessionUpdated EventType = "session-updated"
	EventSessionDeleted EventType = "session-deleted"

	// EventPanelPromptAdded fires when a user turn opens a prompt marker.
	EventPanelPromptAdded EventType = "panel-prompt-added"
	// EventPanelResponseAdded fires when an assistant message is persisted.
	EventPanelResponseAdded EventType = "panel-response-added"

	// EventSessionOutput carries every ingested output record.
	EventSessionOutput EventType = "session-output"
	// EventSessionOutputAvailable is a lightweight ping that new output exists
	// for a session, without the payload.
	EventSessionOutputAvailable EventType = "session-output-available"
)

// Event is a single bus notification. SessionID is always set; the other
// fields depend on the event type.
type Event struct {
	Type      EventType
	SessionID string
	PanelID   string
	Kind      domain.OutputKind // set for session-output
	Payload   string            // set for session-output and prompt/response events
	Timestamp time.Time
	Data      any // type-specific payload, e.g. *domain.Session for session events
}

// Bus is an in-process broadcast bus. Safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its event channel together
// with an unsubscribe function. The channel is buffered so publishers do not
// block; events are dropped per subscriber when the buffer is full.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	id := b.nextID
	ch := make(chan Event, 128)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			close(ch)
			delete(b.subs, id)
		}
	}
}

// Publish broadcasts an event to all subscribers. Non-blocking: a subscriber
// whose buffer is full misses the event.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// PublishSessionUpdated is a convenience wrapper for session state changes.
func (b *Bus) PublishSessionUpdated(session *domain.Session) {
	b.Publish(Event{Type: EventSessionUpdated, SessionID: session.ID, Data: session})
}

// PublishOutput publishes both the full output event and the lightweight
// availability ping for a freshly ingested record.
func (b *Bus) PublishOutput(rec *domain.OutputRecord) {
	b.Publish(Event{
		Type:      EventSessionOutput,
		SessionID: rec.SessionID,
		PanelID:   rec.PanelID,
		Kind:      rec.Kind,
		Payload:   rec.Payload,
		Timestamp: rec.Timestamp,
	})
	b.Publish(Event{
		Type:      EventSessionOutputAvailable,
		SessionID: rec.SessionID,
		Timestamp: rec.Timestamp,
	})
}

// Close shuts the bus down and closes every subscriber channel. Publishing
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
