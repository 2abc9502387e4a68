package task

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeflow/scribeflow/core"
	"github.com/scribeflow/scribeflow/store"
)

func TestCreateOrGetDeduplicatesOnExplicitKey(t *testing.T) {
	q := NewQueue(store.NewMemoryStore(), nil)
	ctx := context.Background()

	first, created, err := q.CreateOrGet(ctx, "p1", "s1", core.TaskTypeHandoff, "api", []byte(`{"a":1}`), "client-key")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, core.TaskStatusProcessing, first.Status)

	// Same key returns the same task even when the input differs.
	second, created, err := q.CreateOrGet(ctx, "p1", "s1", core.TaskTypeHandoff, "api", []byte(`{"a":2}`), "client-key")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.JSONEq(t, `{"a":1}`, string(second.Input))
}

func TestCreateOrGetDerivesKeyFromIdentity(t *testing.T) {
	q := NewQueue(store.NewMemoryStore(), nil)
	ctx := context.Background()

	first, created, err := q.CreateOrGet(ctx, "p1", "s1", core.TaskTypeHandoff, "tool", []byte(`{"target":"writer"}`), "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, strings.HasPrefix(first.IdempotencyKey, "auto:"))

	// Identical identity coalesces.
	second, created, err := q.CreateOrGet(ctx, "p1", "s1", core.TaskTypeHandoff, "tool", []byte(`{"target":"writer"}`), "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// Different input yields a distinct task.
	third, created, err := q.CreateOrGet(ctx, "p1", "s1", core.TaskTypeHandoff, "tool", []byte(`{"target":"editor"}`), "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestDeriveKeyCanonicalizesInput(t *testing.T) {
	a := json.RawMessage(`{"target_agent_name":"writer","reason":"done"}`)
	b := json.RawMessage(`{"reason":"done","target_agent_name":"writer"}`)
	c := json.RawMessage(` { "target_agent_name" : "writer", "reason" : "done" } `)

	assert.Equal(t, DeriveKey("p1", "s1", core.TaskTypeHandoff, a), DeriveKey("p1", "s1", core.TaskTypeHandoff, b))
	assert.Equal(t, DeriveKey("p1", "s1", core.TaskTypeHandoff, a), DeriveKey("p1", "s1", core.TaskTypeHandoff, c))

	// Nested objects canonicalize too.
	n1 := json.RawMessage(`{"outer":{"x":1,"y":2},"list":[1,2]}`)
	n2 := json.RawMessage(`{"list":[1,2],"outer":{"y":2,"x":1}}`)
	assert.Equal(t, DeriveKey("p1", "s1", core.TaskTypeHandoff, n1), DeriveKey("p1", "s1", core.TaskTypeHandoff, n2))

	// Array order stays significant.
	assert.NotEqual(t,
		DeriveKey("p1", "s1", core.TaskTypeHandoff, json.RawMessage(`{"list":[1,2]}`)),
		DeriveKey("p1", "s1", core.TaskTypeHandoff, json.RawMessage(`{"list":[2,1]}`)))
}

func TestCreateOrGetCoalescesReorderedPayloads(t *testing.T) {
	q := NewQueue(store.NewMemoryStore(), nil)
	ctx := context.Background()

	first, created, err := q.CreateOrGet(ctx, "p1", "s1", core.TaskTypeHandoff, "tool",
		[]byte(`{"target_agent_name":"writer","reason":"done"}`), "")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := q.CreateOrGet(ctx, "p1", "s1", core.TaskTypeHandoff, "tool",
		[]byte(`{"reason":"done","target_agent_name":"writer"}`), "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestDeriveKeyIsStable(t *testing.T) {
	input := json.RawMessage(`{"target":"writer"}`)

	k1 := DeriveKey("p1", "s1", core.TaskTypeHandoff, input)
	k2 := DeriveKey("p1", "s1", core.TaskTypeHandoff, input)
	assert.Equal(t, k1, k2)
	assert.Contains(t, k1, "auto:")

	assert.NotEqual(t, k1, DeriveKey("p2", "s1", core.TaskTypeHandoff, input))
	assert.NotEqual(t, k1, DeriveKey("p1", "s2", core.TaskTypeHandoff, input))
	assert.NotEqual(t, k1, DeriveKey("p1", "s1", "other", input))
}

func TestCreateOrGetKeysScopedPerProject(t *testing.T) {
	q := NewQueue(store.NewMemoryStore(), nil)
	ctx := context.Background()

	first, _, err := q.CreateOrGet(ctx, "p1", "s1", core.TaskTypeHandoff, "api", nil, "k")
	require.NoError(t, err)
	second, created, err := q.CreateOrGet(ctx, "p2", "s2", core.TaskTypeHandoff, "api", nil, "k")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreateOrGetRequiresProject(t *testing.T) {
	q := NewQueue(store.NewMemoryStore(), nil)
	_, _, err := q.CreateOrGet(context.Background(), "", "s1", core.TaskTypeHandoff, "api", nil, "")
	assert.Error(t, err)
}

func TestCreateOrGetIgnoresOrphanIndexEntry(t *testing.T) {
	s := store.NewMemoryStore()
	q := NewQueue(s, nil)
	ctx := context.Background()

	// Index entry pointing at a task that was never written.
	require.NoError(t, s.PutIdempotencyKey(ctx, "p1", "k", "ghost"))

	_, created, err := q.CreateOrGet(ctx, "p1", "s1", core.TaskTypeHandoff, "api", nil, "k")
	require.NoError(t, err)
	assert.True(t, created)
}
