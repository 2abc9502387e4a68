package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role identifies the author side of a message.
type Role string

const (
	// RoleUser marks messages authored by the end user (or synthesized on the
	// user's behalf, e.g. the handoff summary message).
	RoleUser Role = "user"
	// RoleAssistant marks messages produced by an agent loop step.
	RoleAssistant Role = "assistant"
)

// Message is an append-only conversation record keyed by (session_id,
// message_id). Every message belongs to exactly one thread. Assistant
// messages accumulate parts while the loop streams; parts are mutated in
// place by id until the message finishes, then become immutable.
type Message struct {
	ID                  string    `json:"id"`
	SessionID           string    `json:"session_id"`
	ThreadID            string    `json:"thread_id"`
	Role                Role      `json:"role"`
	ParentUserMessageID string    `json:"parent_user_message_id,omitempty"`
	Parts               Parts     `json:"parts"`
	FinishReason        string    `json:"finish_reason,omitempty"`
	Created             time.Time `json:"created"`
	Completed           time.Time `json:"completed,omitzero"`
}

// NewUserMessage creates a user message with a single text part.
func NewUserMessage(sessionID, threadID, text string) *Message {
	return &Message{
		ID:        NewID(),
		SessionID: sessionID,
		ThreadID:  threadID,
		Role:      RoleUser,
		Parts:     Parts{TextPart{ID: NewID(), Text: text}},
		Created:   time.Now().UTC(),
	}
}

// NewAssistantMessage creates an empty assistant message answering the given
// user message.
func NewAssistantMessage(sessionID, threadID, parentUserMessageID string) *Message {
	return &Message{
		ID:                  NewID(),
		SessionID:           sessionID,
		ThreadID:            threadID,
		Role:                RoleAssistant,
		ParentUserMessageID: parentUserMessageID,
		Parts:               Parts{},
		Created:             time.Now().UTC(),
	}
}

// Finished reports whether the message carries a terminal finish reason.
func (m *Message) Finished() bool { return m.FinishReason != "" }

// Finish stamps the terminal finish reason and completion time.
func (m *Message) Finish(reason string) {
	m.FinishReason = reason
	m.Completed = time.Now().UTC()
}

// Text concatenates all text parts in order.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// UpsertPart replaces the part with the same id, or appends when absent.
func (m *Message) UpsertPart(part Part) {
	for i, p := range m.Parts {
		if p.PartID() == part.PartID() {
			m.Parts[i] = part
			return
		}
	}
	m.Parts = append(m.Parts, part)
}

// ToolParts returns all tool parts in order.
func (m *Message) ToolParts() []ToolPart {
	var parts []ToolPart
	for _, p := range m.Parts {
		if tp, ok := p.(ToolPart); ok {
			parts = append(parts, tp)
		}
	}
	return parts
}

// HasUnresolvedToolCall reports whether any tool part is still pending or
// running; the loop must not start a new step while one exists.
func (m *Message) HasUnresolvedToolCall() bool {
	for _, tp := range m.ToolParts() {
		if tp.Status == ToolStatusPending || tp.Status == ToolStatusRunning {
			return true
		}
	}
	return false
}

// Part represents a polymorphic segment of message content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface {
	isPart()
	// PartID returns the stable id used for in-place streaming mutation.
	PartID() string
}

// TextPart is a plain text content segment.
type TextPart struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (TextPart) isPart() {}

// PartID implements Part.
func (p TextPart) PartID() string { return p.ID }

// ReasoningPart holds model reasoning output kept separate from final text.
type ReasoningPart struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (ReasoningPart) isPart() {}

// PartID implements Part.
func (p ReasoningPart) PartID() string { return p.ID }

// ToolStatus tracks the lifecycle of a tool invocation within a message.
type ToolStatus string

const (
	// ToolStatusPending means the model requested the call but execution has
	// not started.
	ToolStatusPending ToolStatus = "pending"
	// ToolStatusRunning means the tool is executing.
	ToolStatusRunning ToolStatus = "running"
	// ToolStatusDone means the tool completed and Result is populated.
	ToolStatusDone ToolStatus = "done"
	// ToolStatusError means the tool failed and Error is populated.
	ToolStatusError ToolStatus = "error"
)

// ToolPart records a tool invocation requested by the model and its outcome.
type ToolPart struct {
	ID        string     `json:"id"`
	CallID    string     `json:"call_id"`
	Name      string     `json:"name"`
	Arguments string     `json:"arguments"`
	Status    ToolStatus `json:"status"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func (ToolPart) isPart() {}

// PartID implements Part.
func (p ToolPart) PartID() string { return p.ID }

// Parts is an ordered heterogeneous part list with tagged JSON encoding so
// the closed interface set round-trips through the durable store.
type Parts []Part

type partEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes each part wrapped in a type-tagged envelope.
func (ps Parts) MarshalJSON() ([]byte, error) {
	envs := make([]partEnvelope, 0, len(ps))
	for _, p := range ps {
		var typ string
		switch p.(type) {
		case TextPart:
			typ = "text"
		case ReasoningPart:
			typ = "reasoning"
		case ToolPart:
			typ = "tool"
		default:
			return nil, fmt.Errorf("unknown part type %T", p)
		}
		data, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		envs = append(envs, partEnvelope{Type: typ, Data: data})
	}
	return json.Marshal(envs)
}

// UnmarshalJSON decodes type-tagged envelopes back into concrete parts.
func (ps *Parts) UnmarshalJSON(data []byte) error {
	var envs []partEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return err
	}
	out := make(Parts, 0, len(envs))
	for _, env := range envs {
		switch env.Type {
		case "text":
			var p TextPart
			if err := json.Unmarshal(env.Data, &p); err != nil {
				return err
			}
			out = append(out, p)
		case "reasoning":
			var p ReasoningPart
			if err := json.Unmarshal(env.Data, &p); err != nil {
				return err
			}
			out = append(out, p)
		case "tool":
			var p ToolPart
			if err := json.Unmarshal(env.Data, &p); err != nil {
				return err
			}
			out = append(out, p)
		default:
			return fmt.Errorf("unknown part type %q", env.Type)
		}
	}
	*ps = out
	return nil
}
