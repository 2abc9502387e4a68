// Package session implements the session state machine: the only code path
// through which a session's concurrency status changes. Chat requests,
// the task runner and the handoff handler all serialize on these
// primitives.
package session

import (
	"context"
	"slices"

	"github.com/scribeflow/scribeflow/core"
	"github.com/scribeflow/scribeflow/logging"
)

// StateMachine owns session status transitions. It relies on the store's
// single-record read-modify-write updates, which are only correct under a
// single orchestrating process with exclusive write access; a multi-instance
// deployment would need an optimistic-concurrency write (version/etag) or a
// database transaction here.
type StateMachine struct {
	sessions core.SessionStore
	logger   logging.Logger
}

// NewStateMachine constructs a state machine over the given session store.
func NewStateMachine(sessions core.SessionStore, logger logging.Logger) *StateMachine {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &StateMachine{sessions: sessions, logger: logger}
}

// TransitionStatus atomically moves a session from any status in from to the
// target status, binding activeTaskID as the new holder. It reports
// changed=false (and leaves the record untouched) when the persisted status
// is not a member of from.
func (m *StateMachine) TransitionStatus(ctx context.Context, sessionID string, from []core.SessionStatus, to core.SessionStatus, activeTaskID string) (bool, error) {
	changed := false
	_, err := m.sessions.UpdateSession(ctx, sessionID, func(s *core.Session) error {
		if !slices.Contains(from, s.Status) {
			return nil
		}
		s.Status = to
		s.ActiveTaskID = activeTaskID
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if changed {
		m.logger.Debug("session status transition", "session_id", sessionID, "to", string(to), "active_task_id", activeTaskID)
	}
	return changed, nil
}

// ReleaseTaskStatus resets a session to idle only if activeTaskID still
// equals taskID. This prevents a stale caller waking up late from releasing
// a lock acquired by a newer task.
func (m *StateMachine) ReleaseTaskStatus(ctx context.Context, sessionID, taskID string) error {
	_, err := m.sessions.UpdateSession(ctx, sessionID, func(s *core.Session) error {
		if s.ActiveTaskID != taskID {
			return nil
		}
		s.Status = core.StatusIdle
		s.ActiveTaskID = ""
		return nil
	})
	return err
}

// AcquireForChat transitions idle -> chatting. On contention it returns a
// coded error distinguishing an in-flight chat (SESSION_BUSY) from a
// background task holding the lock (SESSION_HANDOFF_PROCESSING).
func (m *StateMachine) AcquireForChat(ctx context.Context, sessionID string) error {
	changed, err := m.TransitionStatus(ctx, sessionID, []core.SessionStatus{core.StatusIdle}, core.StatusChatting, "")
	if err != nil {
		return err
	}
	if changed {
		return nil
	}
	sess, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == core.StatusHandoffProcessing {
		return core.NewError(core.CodeSessionHandoffProcessing, "session %s is processing a handoff", sessionID)
	}
	return core.NewError(core.CodeSessionBusy, "session %s is already responding", sessionID)
}

// ReleaseFromChat transitions chatting -> idle. Best-effort: releasing an
// already idle session is a no-op.
func (m *StateMachine) ReleaseFromChat(ctx context.Context, sessionID string) error {
	_, err := m.TransitionStatus(ctx, sessionID, []core.SessionStatus{core.StatusChatting}, core.StatusIdle, "")
	return err
}
