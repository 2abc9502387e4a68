package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeflow/scribeflow/core"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	p := core.NewProject("p1", "plan", "s1")
	require.NoError(t, s.CreateProject(ctx, p))
	sess := core.NewSession("s1", "p1")
	require.NoError(t, s.CreateSession(ctx, sess))

	gotP, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, p.CurrThreadID, gotP.CurrThreadID)
	assert.Equal(t, p.Created.UnixMilli(), gotP.Created.UnixMilli())

	gotS, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusIdle, gotS.Status)

	_, err = s.GetProject(ctx, "missing")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestSQLiteUpdateSession(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, core.NewSession("s1", "p1")))

	updated, err := s.UpdateSession(ctx, "s1", func(sess *core.Session) error {
		sess.Status = core.StatusHandoffProcessing
		sess.ActiveTaskID = "t1"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusHandoffProcessing, updated.Status)

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ActiveTaskID)

	// Mutate errors abort the write.
	_, err = s.UpdateSession(ctx, "s1", func(sess *core.Session) error {
		sess.Status = core.StatusIdle
		return errors.New("abort")
	})
	require.Error(t, err)
	got, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusHandoffProcessing, got.Status)
}

func TestSQLiteMessagesPreserveOrderAndParts(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	m1 := core.NewUserMessage("s1", "t1", "question")
	m2 := core.NewAssistantMessage("s1", "t1", m1.ID)
	require.NoError(t, s.SaveMessage(ctx, m1))
	require.NoError(t, s.SaveMessage(ctx, m2))

	m2.UpsertPart(core.ToolPart{ID: "p1", CallID: "c1", Name: "search", Arguments: "{}", Status: core.ToolStatusDone, Result: "[]"})
	m2.Finish("stop")
	require.NoError(t, s.SaveMessage(ctx, m2))

	thread, err := s.ListThreadMessages(ctx, "s1", "t1")
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, m1.ID, thread[0].ID)

	got := thread[1]
	assert.True(t, got.Finished())
	require.Len(t, got.ToolParts(), 1)
	assert.Equal(t, core.ToolStatusDone, got.ToolParts()[0].Status)
}

func TestSQLiteTasksAndIdempotencyIndex(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	task := core.NewTask("p1", "s1", core.TaskTypeHandoff, "api", "k1", []byte(`{"x":1}`))
	require.NoError(t, s.CreateTask(ctx, task))
	require.NoError(t, s.PutIdempotencyKey(ctx, "p1", "k1", task.ID))
	require.NoError(t, s.PutIdempotencyKey(ctx, "p1", "k1", "other"))

	id, err := s.GetIdempotencyKey(ctx, "p1", "k1")
	require.NoError(t, err)
	assert.Equal(t, task.ID, id)

	_, err = s.UpdateTask(ctx, task.ID, func(rec *core.Task) error {
		rec.Status = core.TaskStatusFail
		rec.Error = &core.TaskError{Code: core.CodeTaskTimeout, Message: "too slow"}
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFail, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, core.CodeTaskTimeout, got.Error.Code)
	assert.JSONEq(t, `{"x":1}`, string(got.Input))

	processing, err := s.ListTasksByStatus(ctx, core.TaskStatusProcessing)
	require.NoError(t, err)
	assert.Empty(t, processing)
}

func TestSQLiteArtifactsOverwrite(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.PutArtifact(ctx, "p1", core.ArtifactPlanLock, []byte(`{"locked":false}`)))
	require.NoError(t, s.PutArtifact(ctx, "p1", core.ArtifactPlanLock, []byte(`{"locked":true}`)))

	data, err := s.GetArtifact(ctx, "p1", core.ArtifactPlanLock)
	require.NoError(t, err)
	assert.JSONEq(t, `{"locked":true}`, string(data))
}
