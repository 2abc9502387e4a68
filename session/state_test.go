package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeflow/scribeflow/core"
	"github.com/scribeflow/scribeflow/store"
)

func newMachine(t *testing.T) (*StateMachine, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewStateMachine(s, nil), s
}

func seedSession(t *testing.T, s *store.MemoryStore, status core.SessionStatus, taskID string) *core.Session {
	t.Helper()
	sess := core.NewSession(core.NewID(), "p1")
	sess.Status = status
	sess.ActiveTaskID = taskID
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func TestTransitionStatusGatesOnFromSet(t *testing.T) {
	m, s := newMachine(t)
	ctx := context.Background()
	sess := seedSession(t, s, core.StatusIdle, "")

	changed, err := m.TransitionStatus(ctx, sess.ID,
		[]core.SessionStatus{core.StatusIdle}, core.StatusHandoffProcessing, "task-1")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusHandoffProcessing, got.Status)
	assert.Equal(t, "task-1", got.ActiveTaskID)

	// Second acquisition from idle must not fire.
	changed, err = m.TransitionStatus(ctx, sess.ID,
		[]core.SessionStatus{core.StatusIdle}, core.StatusHandoffProcessing, "task-2")
	require.NoError(t, err)
	assert.False(t, changed)

	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "task-1", got.ActiveTaskID)
}

func TestReleaseTaskStatusGuardsHolder(t *testing.T) {
	m, s := newMachine(t)
	ctx := context.Background()
	sess := seedSession(t, s, core.StatusHandoffProcessing, "task-1")

	// A stale task cannot release a lock held by another task.
	require.NoError(t, m.ReleaseTaskStatus(ctx, sess.ID, "task-0"))
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusHandoffProcessing, got.Status)

	require.NoError(t, m.ReleaseTaskStatus(ctx, sess.ID, "task-1"))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusIdle, got.Status)
	assert.Empty(t, got.ActiveTaskID)
}

func TestAcquireForChat(t *testing.T) {
	m, s := newMachine(t)
	ctx := context.Background()
	sess := seedSession(t, s, core.StatusIdle, "")

	require.NoError(t, m.AcquireForChat(ctx, sess.ID))

	err := m.AcquireForChat(ctx, sess.ID)
	require.Error(t, err)
	assert.Equal(t, core.CodeSessionBusy, core.ErrorCode(err))

	require.NoError(t, m.ReleaseFromChat(ctx, sess.ID))
	require.NoError(t, m.AcquireForChat(ctx, sess.ID))
}

func TestAcquireForChatDuringHandoff(t *testing.T) {
	m, s := newMachine(t)
	ctx := context.Background()
	sess := seedSession(t, s, core.StatusHandoffProcessing, "task-1")

	err := m.AcquireForChat(ctx, sess.ID)
	require.Error(t, err)
	assert.Equal(t, core.CodeSessionHandoffProcessing, core.ErrorCode(err))
}

func TestAcquireForChatMissingSession(t *testing.T) {
	m, _ := newMachine(t)
	err := m.AcquireForChat(context.Background(), "missing")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestReleaseFromChatIdempotent(t *testing.T) {
	m, s := newMachine(t)
	ctx := context.Background()
	sess := seedSession(t, s, core.StatusIdle, "")

	require.NoError(t, m.ReleaseFromChat(ctx, sess.ID))
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusIdle, got.Status)
}
