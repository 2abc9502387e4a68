// Package bus implements a thin project-scoped pub/sub bus carrying message
// lifecycle events to streaming consumers. Delivery is best-effort, in
// publish order, with no persistence; a disconnected subscriber misses
// events published while disconnected. Message state remains independently
// queryable from the durable store.
package bus

import (
	"sync"
	"time"

	"github.com/scribeflow/scribeflow/core"
)

// Event topics published by the orchestration core.
const (
	TopicMessageCreated  = "message.created"
	TopicMessageDelta    = "message.delta"
	TopicMessageFinished = "message.finished"
)

// Event is one message lifecycle notification. Fields beyond Type, SessionID
// and MessageID are populated per topic.
type Event struct {
	Type                string    `json:"type"`
	SessionID           string    `json:"session_id"`
	MessageID           string    `json:"message_id"`
	Role                core.Role `json:"role,omitempty"`
	ParentUserMessageID string    `json:"parent_user_message_id,omitempty"`
	Delta               string    `json:"delta,omitempty"`
	FinishReason        string    `json:"finish_reason,omitempty"`
	CreatedAt           time.Time `json:"created_at,omitzero"`
	CompletedAt         time.Time `json:"completed_at,omitzero"`
}

// subscriberBufferSize bounds each subscriber channel. A subscriber whose
// buffer is full drops the event for that subscriber only.
const subscriberBufferSize = 16

type subscriber struct {
	ch     chan Event
	closed bool
}

// Bus is a process-local pub/sub hub keyed by project id. It is safe for
// concurrent use.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[int]*subscriber
	next int
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subs: map[string]map[int]*subscriber{}}
}

// Subscribe registers a consumer for a project's events. The returned cancel
// function unsubscribes and closes the channel; it is idempotent.
func (b *Bus) Subscribe(projectID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	sub := &subscriber{ch: make(chan Event, subscriberBufferSize)}
	if b.subs[projectID] == nil {
		b.subs[projectID] = map[int]*subscriber{}
	}
	b.subs[projectID][id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		delete(b.subs[projectID], id)
		if len(b.subs[projectID]) == 0 {
			delete(b.subs, projectID)
		}
		close(sub.ch)
	}
	return sub.ch, cancel
}

// Publish delivers an event to every current subscriber of the project.
// Slow subscribers with a full buffer are skipped.
func (b *Bus) Publish(projectID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[projectID] {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// MessageCreated builds the message.created event for m.
func MessageCreated(m *core.Message) Event {
	return Event{
		Type:                TopicMessageCreated,
		SessionID:           m.SessionID,
		MessageID:           m.ID,
		Role:                m.Role,
		ParentUserMessageID: m.ParentUserMessageID,
		CreatedAt:           m.Created,
	}
}

// MessageDelta builds the message.delta event for a streamed text fragment.
func MessageDelta(m *core.Message, delta string) Event {
	return Event{
		Type:                TopicMessageDelta,
		SessionID:           m.SessionID,
		MessageID:           m.ID,
		ParentUserMessageID: m.ParentUserMessageID,
		Delta:               delta,
	}
}

// MessageFinished builds the message.finished event for m.
func MessageFinished(m *core.Message) Event {
	return Event{
		Type:                TopicMessageFinished,
		SessionID:           m.SessionID,
		MessageID:           m.ID,
		Role:                m.Role,
		ParentUserMessageID: m.ParentUserMessageID,
		FinishReason:        m.FinishReason,
		CompletedAt:         m.Completed,
	}
}
