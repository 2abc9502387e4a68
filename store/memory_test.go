package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeflow/scribeflow/core"
)

func TestMemoryProjectLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := core.NewProject("p1", "plan", "s1")
	require.NoError(t, s.CreateProject(ctx, p))

	got, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, core.PhasePlanning, got.Phase)
	assert.Equal(t, got.RootThreadID, got.CurrThreadID)

	updated, err := s.UpdateProject(ctx, "p1", func(p *core.Project) error {
		p.Phase = core.PhaseWriting
		p.CurrAgentName = "writer"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, core.PhaseWriting, updated.Phase)

	// Mutate errors abort the write.
	_, err = s.UpdateProject(ctx, "p1", func(p *core.Project) error {
		p.CurrAgentName = "clobbered"
		return errors.New("abort")
	})
	require.Error(t, err)
	got, err = s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "writer", got.CurrAgentName)

	_, err = s.GetProject(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestMemoryMessageUpsertAndOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m1 := core.NewUserMessage("s1", "t1", "first")
	m2 := core.NewAssistantMessage("s1", "t1", m1.ID)
	m3 := core.NewUserMessage("s1", "t2", "other thread")
	require.NoError(t, s.SaveMessage(ctx, m1))
	require.NoError(t, s.SaveMessage(ctx, m2))
	require.NoError(t, s.SaveMessage(ctx, m3))

	// Re-save preserves position.
	m2.UpsertPart(core.TextPart{ID: "p1", Text: "reply"})
	m2.Finish("stop")
	require.NoError(t, s.SaveMessage(ctx, m2))

	all, err := s.ListMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, m1.ID, all[0].ID)
	assert.Equal(t, m2.ID, all[1].ID)
	assert.True(t, all[1].Finished())

	thread, err := s.ListThreadMessages(ctx, "s1", "t1")
	require.NoError(t, err)
	require.Len(t, thread, 2)

	// Returned records are copies.
	thread[1].Parts[0] = core.TextPart{ID: "p1", Text: "mutated"}
	fresh, err := s.GetMessage(ctx, "s1", m2.ID)
	require.NoError(t, err)
	assert.Equal(t, "reply", fresh.Text())
}

func TestMemoryIdempotencyIndexFirstWriteWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.PutIdempotencyKey(ctx, "p1", "k1", "task-a"))
	require.NoError(t, s.PutIdempotencyKey(ctx, "p1", "k1", "task-b"))

	id, err := s.GetIdempotencyKey(ctx, "p1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "task-a", id)

	// Keys are scoped per project.
	_, err = s.GetIdempotencyKey(ctx, "p2", "k1")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestMemoryTaskListings(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	t1 := core.NewTask("p1", "s1", core.TaskTypeHandoff, "api", "k1", nil)
	t2 := core.NewTask("p1", "s1", core.TaskTypeHandoff, "api", "k2", nil)
	require.NoError(t, s.CreateTask(ctx, t1))
	require.NoError(t, s.CreateTask(ctx, t2))

	_, err := s.UpdateTask(ctx, t2.ID, func(rec *core.Task) error {
		rec.Status = core.TaskStatusSuccess
		return nil
	})
	require.NoError(t, err)

	processing, err := s.ListTasksByStatus(ctx, core.TaskStatusProcessing)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, t1.ID, processing[0].ID)

	all, err := s.ListProjectTasks(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryArtifacts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetArtifact(ctx, "p1", "plan.lock")
	assert.True(t, errors.Is(err, core.ErrNotFound))

	require.NoError(t, s.PutArtifact(ctx, "p1", "plan.lock", []byte(`{"locked":true}`)))
	require.NoError(t, s.PutArtifact(ctx, "p1", "plan.lock", []byte(`{"locked":false}`)))

	data, err := s.GetArtifact(ctx, "p1", "plan.lock")
	require.NoError(t, err)
	assert.JSONEq(t, `{"locked":false}`, string(data))
}
