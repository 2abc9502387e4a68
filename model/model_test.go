package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeflow/scribeflow/core"
)

func collect(t *testing.T, respCh <-chan Response, errCh <-chan error) []Response {
	t.Helper()
	var out []Response
	for r := range respCh {
		out = append(out, r)
	}
	require.NoError(t, <-errCh)
	return out
}

func TestMockModelReplaysScriptedTurns(t *testing.T) {
	m := NewMockModel("m")
	m.EnqueueTurn(
		Response{Partial: true, TextDelta: "a"},
		Response{FinishReason: "stop"},
	)
	m.EnqueueTurn(Response{FinishReason: "tool_calls", ToolCalls: []ToolCall{{ID: "c1", Name: "search"}}})

	respCh, errCh := m.Generate(context.Background(), Request{Stream: true})
	first := collect(t, respCh, errCh)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].TextDelta)
	assert.Equal(t, "stop", first[1].FinishReason)

	respCh, errCh = m.Generate(context.Background(), Request{})
	second := collect(t, respCh, errCh)
	require.Len(t, second, 1)
	assert.Equal(t, "tool_calls", second[0].FinishReason)
}

func TestMockModelEchoesWithoutScript(t *testing.T) {
	m := NewMockModel("m")
	user := core.NewUserMessage("s1", "t1", "hello")

	respCh, errCh := m.Generate(context.Background(), Request{Messages: []*core.Message{user}, Stream: true})
	out := collect(t, respCh, errCh)
	require.Len(t, out, 2)
	assert.True(t, out[0].Partial)
	assert.Equal(t, "Mock response to: hello", out[0].TextDelta)

	respCh, errCh = m.Generate(context.Background(), Request{Messages: []*core.Message{user}})
	flat := collect(t, respCh, errCh)
	require.Len(t, flat, 1)
	assert.Equal(t, "Mock response to: hello", flat[0].TextDelta)
}

func TestMockModelHonorsCancellation(t *testing.T) {
	m := NewMockModel("m")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Enough chunks to exceed the channel buffer so the send must select on
	// the canceled context.
	var turn []Response
	for i := 0; i < 64; i++ {
		turn = append(turn, Response{Partial: true, TextDelta: "x"})
	}
	m.EnqueueTurn(turn...)

	respCh, errCh := m.Generate(ctx, Request{Stream: true})
	for range respCh {
	}
	assert.Error(t, <-errCh)
}

func TestInfo(t *testing.T) {
	m := NewMockModel("test-model")
	info := m.Info()
	assert.Equal(t, "test-model", info.Name)
	assert.Equal(t, "mock", info.Provider)
	assert.True(t, info.SupportsTools)
}
