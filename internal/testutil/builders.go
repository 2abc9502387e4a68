// Package testutil provides fluent builders for domain records used across
// the test suites.
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scribeflow/scribeflow/core"
)

// ProjectBuilder builds projects for tests.
type ProjectBuilder struct {
	p *core.Project
}

// Project starts a planning-phase project with fresh ids.
func Project() *ProjectBuilder {
	return &ProjectBuilder{p: core.NewProject(core.NewID(), "plan", core.NewID())}
}

// WithID overrides the project id.
func (b *ProjectBuilder) WithID(id string) *ProjectBuilder {
	b.p.ID = id
	return b
}

// WithPhase overrides the phase.
func (b *ProjectBuilder) WithPhase(phase core.Phase) *ProjectBuilder {
	b.p.Phase = phase
	return b
}

// WithAgent overrides the current agent name.
func (b *ProjectBuilder) WithAgent(name string) *ProjectBuilder {
	b.p.CurrAgentName = name
	return b
}

// WithSession overrides the current session id.
func (b *ProjectBuilder) WithSession(sessionID string) *ProjectBuilder {
	b.p.CurrSessionID = sessionID
	return b
}

// Build returns the project.
func (b *ProjectBuilder) Build() *core.Project { return b.p }

// Create persists the project, failing the test on error.
func (b *ProjectBuilder) Create(t *testing.T, s core.ProjectStore) *core.Project {
	t.Helper()
	require.NoError(t, s.CreateProject(context.Background(), b.p))
	return b.p
}

// SessionBuilder builds sessions for tests.
type SessionBuilder struct {
	s *core.Session
}

// Session starts an idle session with fresh ids.
func Session() *SessionBuilder {
	return &SessionBuilder{s: core.NewSession(core.NewID(), core.NewID())}
}

// WithID overrides the session id.
func (b *SessionBuilder) WithID(id string) *SessionBuilder {
	b.s.ID = id
	return b
}

// WithProject binds the session to a project.
func (b *SessionBuilder) WithProject(projectID string) *SessionBuilder {
	b.s.ProjectID = projectID
	return b
}

// WithStatus overrides the status.
func (b *SessionBuilder) WithStatus(status core.SessionStatus) *SessionBuilder {
	b.s.Status = status
	return b
}

// WithActiveTask overrides the active task id.
func (b *SessionBuilder) WithActiveTask(taskID string) *SessionBuilder {
	b.s.ActiveTaskID = taskID
	return b
}

// Build returns the session.
func (b *SessionBuilder) Build() *core.Session { return b.s }

// Create persists the session, failing the test on error.
func (b *SessionBuilder) Create(t *testing.T, s core.SessionStore) *core.Session {
	t.Helper()
	require.NoError(t, s.CreateSession(context.Background(), b.s))
	return b.s
}

// TaskBuilder builds tasks for tests.
type TaskBuilder struct {
	t *core.Task
}

// Task starts a processing handoff task with fresh ids.
func Task() *TaskBuilder {
	return &TaskBuilder{t: core.NewTask(core.NewID(), core.NewID(), core.TaskTypeHandoff, "test", "key", nil)}
}

// WithProject binds the task to a project.
func (b *TaskBuilder) WithProject(projectID string) *TaskBuilder {
	b.t.ProjectID = projectID
	return b
}

// WithSession binds the task to a session.
func (b *TaskBuilder) WithSession(sessionID string) *TaskBuilder {
	b.t.SessionID = sessionID
	return b
}

// WithType overrides the task type.
func (b *TaskBuilder) WithType(taskType string) *TaskBuilder {
	b.t.Type = taskType
	return b
}

// WithInput sets the input payload from any JSON-marshalable value.
func (b *TaskBuilder) WithInput(t *testing.T, v any) *TaskBuilder {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	b.t.Input = data
	return b
}

// WithStarted stamps the started time.
func (b *TaskBuilder) WithStarted(at time.Time) *TaskBuilder {
	b.t.Started = at
	return b
}

// Build returns the task.
func (b *TaskBuilder) Build() *core.Task { return b.t }

// Create persists the task, failing the test on error.
func (b *TaskBuilder) Create(t *testing.T, s core.TaskStore) *core.Task {
	t.Helper()
	require.NoError(t, s.CreateTask(context.Background(), b.t))
	return b.t
}

// UserMessage persists a user message on the thread, failing the test on
// error.
func UserMessage(t *testing.T, s core.MessageStore, sessionID, threadID, text string) *core.Message {
	t.Helper()
	m := core.NewUserMessage(sessionID, threadID, text)
	require.NoError(t, s.SaveMessage(context.Background(), m))
	return m
}
