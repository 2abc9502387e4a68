// Package model defines the provider-agnostic language model contract used by
// the agent loop. Concrete adapters live in subpackages (anthropic, openai);
// MockModel backs tests and local development.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/scribeflow/scribeflow/core"
)

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider
// branching.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string of arguments
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input produced by the agent loop.
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []*core.Message  `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model.
// Partial chunks carry deltas; the final chunk carries the finish reason and
// any requested tool calls.
type Response struct {
	Partial        bool        `json:"partial"`
	TextDelta      string      `json:"text_delta,omitempty"`
	ReasoningDelta string      `json:"reasoning_delta,omitempty"`
	ToolCalls      []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason   string      `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls"
	Usage          *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock"
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the agent loop needs to drive generation.
// Generate returns an ordered response stream plus a terminal error channel
// (size 1); both close when the call completes. Cancelling ctx aborts the
// in-flight call.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model for tests and examples. Turns
// enqueued via EnqueueTurn are replayed one per Generate call; without a
// scripted turn it echoes the last user message.
type MockModel struct {
	mu    sync.Mutex
	info  Info
	turns [][]Response
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{info: Info{Name: name, Provider: "mock", SupportsTools: true}}
}

// EnqueueTurn registers a scripted response sequence consumed by the next
// Generate call.
func (m *MockModel) EnqueueTurn(responses ...Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, responses)
}

// Generate implements Model; replays the next scripted turn, or streams an
// echo of the last user message.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	var turn []Response
	if len(m.turns) > 0 {
		turn = m.turns[0]
		m.turns = m.turns[1:]
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)

		if turn == nil {
			turn = echoTurn(req)
		}
		for _, r := range turn {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case respCh <- r:
			}
		}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

func echoTurn(req Request) []Response {
	var lastUser string
	for _, msg := range req.Messages {
		if msg.Role == core.RoleUser {
			lastUser = msg.Text()
		}
	}
	full := fmt.Sprintf("Mock response to: %s", lastUser)
	if req.Stream {
		return []Response{{Partial: true, TextDelta: full}, {FinishReason: "stop"}}
	}
	return []Response{{FinishReason: "stop", TextDelta: full}}
}
