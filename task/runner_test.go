package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeflow/scribeflow/core"
	"github.com/scribeflow/scribeflow/session"
	"github.com/scribeflow/scribeflow/store"
)

type runnerFixture struct {
	store  *store.MemoryStore
	state  *session.StateMachine
	runner *Runner
}

func newRunnerFixture(t *testing.T, opts ...RunnerOption) *runnerFixture {
	t.Helper()
	s := store.NewMemoryStore()
	state := session.NewStateMachine(s, nil)
	return &runnerFixture{store: s, state: state, runner: NewRunner(s, state, nil, opts...)}
}

func (f *runnerFixture) seed(t *testing.T) *core.Task {
	t.Helper()
	ctx := context.Background()
	sess := core.NewSession("s1", "p1")
	require.NoError(t, f.store.CreateSession(ctx, sess))
	task := core.NewTask("p1", "s1", core.TaskTypeHandoff, "api", "k1", []byte(`{}`))
	require.NoError(t, f.store.CreateTask(ctx, task))
	return task
}

func TestScanDispatchesAndReleases(t *testing.T) {
	f := newRunnerFixture(t)
	seeded := f.seed(t)
	ctx := context.Background()

	var gotTaskID string
	f.runner.Register(core.TaskTypeHandoff, HandlerFunc(func(ctx context.Context, task *core.Task) (json.RawMessage, error) {
		gotTaskID = task.ID

		// The session lock is held while the handler runs.
		sess, err := f.store.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, core.StatusHandoffProcessing, sess.Status)
		assert.Equal(t, task.ID, sess.ActiveTaskID)

		return json.RawMessage(`{"ok":true}`), nil
	}))

	require.NoError(t, f.runner.Scan(ctx))
	assert.Equal(t, seeded.ID, gotTaskID)

	done, err := f.store.GetTask(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusSuccess, done.Status)
	assert.JSONEq(t, `{"ok":true}`, string(done.Output))
	assert.False(t, done.Started.IsZero())
	assert.False(t, done.Finished.IsZero())

	sess, err := f.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusIdle, sess.Status)
}

func TestScanRecordsHandlerFailure(t *testing.T) {
	f := newRunnerFixture(t)
	seeded := f.seed(t)
	ctx := context.Background()

	f.runner.Register(core.TaskTypeHandoff, HandlerFunc(func(context.Context, *core.Task) (json.RawMessage, error) {
		return nil, core.NewError(core.CodeNotLocked, "plan is not locked")
	}))

	require.NoError(t, f.runner.Scan(ctx))

	failed, err := f.store.GetTask(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFail, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, core.CodeNotLocked, failed.Error.Code)

	sess, err := f.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusIdle, sess.Status)
}

func TestScanSurvivesHandlerPanic(t *testing.T) {
	f := newRunnerFixture(t)
	seeded := f.seed(t)
	ctx := context.Background()

	f.runner.Register(core.TaskTypeHandoff, HandlerFunc(func(context.Context, *core.Task) (json.RawMessage, error) {
		panic("boom")
	}))

	require.NoError(t, f.runner.Scan(ctx))

	failed, err := f.store.GetTask(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFail, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "HANDLER_ERROR", failed.Error.Code)
}

func TestScanDefersWhenSessionBusy(t *testing.T) {
	f := newRunnerFixture(t)
	seeded := f.seed(t)
	ctx := context.Background()

	_, err := f.store.UpdateSession(ctx, "s1", func(s *core.Session) error {
		s.Status = core.StatusChatting
		return nil
	})
	require.NoError(t, err)

	called := false
	f.runner.Register(core.TaskTypeHandoff, HandlerFunc(func(context.Context, *core.Task) (json.RawMessage, error) {
		called = true
		return nil, nil
	}))

	require.NoError(t, f.runner.Scan(ctx))
	assert.False(t, called)

	pending, err := f.store.GetTask(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusProcessing, pending.Status)
	assert.True(t, pending.Started.IsZero())
}

func TestScanReclaimsStaleTask(t *testing.T) {
	now := time.Now().UTC()
	f := newRunnerFixture(t, WithClock(func() time.Time { return now }))
	seeded := f.seed(t)
	ctx := context.Background()

	// Simulate a crashed execution: started beyond the timeout window,
	// session lock still held.
	_, err := f.store.UpdateTask(ctx, seeded.ID, func(rec *core.Task) error {
		rec.Started = now.Add(-DefaultTaskTimeout - time.Minute)
		return nil
	})
	require.NoError(t, err)
	_, err = f.store.UpdateSession(ctx, "s1", func(s *core.Session) error {
		s.Status = core.StatusHandoffProcessing
		s.ActiveTaskID = seeded.ID
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, f.runner.Scan(ctx))

	reclaimed, err := f.store.GetTask(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFail, reclaimed.Status)
	require.NotNil(t, reclaimed.Error)
	assert.Equal(t, core.CodeTaskTimeout, reclaimed.Error.Code)

	sess, err := f.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusIdle, sess.Status)
}

func TestScanLeavesFreshStartedTaskAlone(t *testing.T) {
	now := time.Now().UTC()
	f := newRunnerFixture(t, WithClock(func() time.Time { return now }))
	seeded := f.seed(t)
	ctx := context.Background()

	_, err := f.store.UpdateTask(ctx, seeded.ID, func(rec *core.Task) error {
		rec.Started = now.Add(-time.Minute)
		return nil
	})
	require.NoError(t, err)

	called := false
	f.runner.Register(core.TaskTypeHandoff, HandlerFunc(func(context.Context, *core.Task) (json.RawMessage, error) {
		called = true
		return nil, nil
	}))

	require.NoError(t, f.runner.Scan(ctx))
	assert.False(t, called)

	got, err := f.store.GetTask(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusProcessing, got.Status)
}

func TestScanFailsUnknownTaskType(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateSession(ctx, core.NewSession("s1", "p1")))
	unknown := core.NewTask("p1", "s1", "compact", "api", "k", nil)
	require.NoError(t, f.store.CreateTask(ctx, unknown))

	require.NoError(t, f.runner.Scan(ctx))

	failed, err := f.store.GetTask(ctx, unknown.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFail, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "UNKNOWN_TASK_TYPE", failed.Error.Code)
}

func TestRunnerKickTriggersPromptScan(t *testing.T) {
	f := newRunnerFixture(t, WithScanInterval(time.Hour))
	seeded := f.seed(t)

	handled := make(chan string, 1)
	f.runner.Register(core.TaskTypeHandoff, HandlerFunc(func(_ context.Context, task *core.Task) (json.RawMessage, error) {
		handled <- task.ID
		return nil, nil
	}))

	f.runner.Start(context.Background())
	defer f.runner.Stop()
	f.runner.Kick()

	select {
	case id := <-handled:
		assert.Equal(t, seeded.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("kick did not trigger a scan")
	}
}

func TestKickCoalesces(t *testing.T) {
	f := newRunnerFixture(t)
	// Kicks before the loop starts must not block.
	for i := 0; i < 10; i++ {
		f.runner.Kick()
	}
}

func TestStopWithoutStartReturns(t *testing.T) {
	f := newRunnerFixture(t)

	done := make(chan struct{})
	go func() {
		f.runner.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a runner that was never started")
	}
}

func TestStopAfterStartWaitsForExit(t *testing.T) {
	f := newRunnerFixture(t, WithScanInterval(time.Hour))
	f.runner.Start(context.Background())

	done := make(chan struct{})
	go func() {
		f.runner.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the loop exited")
	}
}

func TestHandlerTimeoutCode(t *testing.T) {
	f := newRunnerFixture(t, WithTaskTimeout(10*time.Millisecond))
	seeded := f.seed(t)
	ctx := context.Background()

	f.runner.Register(core.TaskTypeHandoff, HandlerFunc(func(hctx context.Context, _ *core.Task) (json.RawMessage, error) {
		<-hctx.Done()
		return nil, hctx.Err()
	}))

	require.NoError(t, f.runner.Scan(ctx))

	failed, err := f.store.GetTask(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFail, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, core.CodeTaskTimeout, failed.Error.Code)
}
