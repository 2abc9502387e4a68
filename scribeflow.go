// Package scribeflow wires the orchestration core together: durable stores,
// the agent registry, the event bus, the single-flight agent loop, the task
// queue and the polling task runner. The Orchestrator is the surface the HTTP
// layer and embedding applications talk to.
package scribeflow

import (
	"context"
	"encoding/json"

	"github.com/scribeflow/scribeflow/agent"
	"github.com/scribeflow/scribeflow/bus"
	"github.com/scribeflow/scribeflow/core"
	"github.com/scribeflow/scribeflow/handoff"
	"github.com/scribeflow/scribeflow/logging"
	"github.com/scribeflow/scribeflow/loop"
	"github.com/scribeflow/scribeflow/session"
	"github.com/scribeflow/scribeflow/task"
)

// Orchestrator composes the orchestration core over one store.
type Orchestrator struct {
	store    core.Store
	agents   *agent.Registry
	events   *bus.Bus
	sessions *session.StateMachine
	loop     *loop.Loop
	queue    *task.Queue
	runner   *task.Runner
	logger   logging.Logger
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	logger     logging.Logger
	agents     *agent.Registry
	events     *bus.Bus
	runnerOpts []task.RunnerOption
}

// WithLogger sets the logger used across all components.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAgents supplies a pre-populated agent registry.
func WithAgents(agents *agent.Registry) Option {
	return func(o *options) { o.agents = agents }
}

// WithEventBus supplies an external event bus.
func WithEventBus(events *bus.Bus) Option {
	return func(o *options) { o.events = events }
}

// WithRunnerOptions forwards options to the task runner.
func WithRunnerOptions(opts ...task.RunnerOption) Option {
	return func(o *options) { o.runnerOpts = append(o.runnerOpts, opts...) }
}

// New builds an Orchestrator over the store and registers the handoff task
// handler. Call Start to launch the task runner.
func New(store core.Store, optFns ...Option) *Orchestrator {
	opts := options{
		logger: logging.NoOpLogger{},
		agents: agent.NewRegistry(),
		events: bus.New(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	sessions := session.NewStateMachine(store, opts.logger)
	runner := task.NewRunner(store, sessions, opts.logger, opts.runnerOpts...)
	runner.Register(core.TaskTypeHandoff, handoff.NewHandler(store, opts.agents, opts.events, opts.logger))

	return &Orchestrator{
		store:    store,
		agents:   opts.agents,
		events:   opts.events,
		sessions: sessions,
		loop:     loop.New(store, opts.agents, opts.events, opts.logger),
		queue:    task.NewQueue(store, opts.logger),
		runner:   runner,
		logger:   opts.logger,
	}
}

// Store exposes the underlying store.
func (o *Orchestrator) Store() core.Store { return o.store }

// Agents exposes the agent registry.
func (o *Orchestrator) Agents() *agent.Registry { return o.agents }

// Events exposes the event bus for streaming consumers.
func (o *Orchestrator) Events() *bus.Bus { return o.events }

// Queue exposes the task queue (e.g. for wiring the handoff tool).
func (o *Orchestrator) Queue() *task.Queue { return o.queue }

// Runner exposes the task runner (e.g. for kicks from tools).
func (o *Orchestrator) Runner() *task.Runner { return o.runner }

// Start launches the background task runner.
func (o *Orchestrator) Start(ctx context.Context) {
	o.runner.Start(ctx)
}

// Close stops the task runner and closes the store.
func (o *Orchestrator) Close() error {
	o.runner.Stop()
	return o.store.Close()
}

// CreateProject bootstraps a project with its session, driven by the given
// agent (the plan agent when empty). The agent must be registered.
func (o *Orchestrator) CreateProject(ctx context.Context, agentName string) (*core.Project, *core.Session, error) {
	if agentName == "" {
		agentName = agent.PlanAgentName
	}
	if !o.agents.Has(agentName) {
		return nil, nil, core.NewError(core.CodeAgentNotFound, "agent %q not registered", agentName)
	}

	projectID := core.NewID()
	sess := core.NewSession(core.NewID(), projectID)
	project := core.NewProject(projectID, agentName, sess.ID)

	if err := o.store.CreateProject(ctx, project); err != nil {
		return nil, nil, err
	}
	if err := o.store.CreateSession(ctx, sess); err != nil {
		return nil, nil, err
	}
	o.logger.Info("project created", "project_id", project.ID, "session_id", sess.ID, "agent", agentName)
	return project, sess, nil
}

// Chat acquires the session for chatting, runs the agent loop on the user's
// text and releases the session, returning the final assistant message.
// Contention surfaces as SESSION_BUSY or SESSION_HANDOFF_PROCESSING.
func (o *Orchestrator) Chat(ctx context.Context, sessionID, text string) (*core.Message, error) {
	if err := o.sessions.AcquireForChat(ctx, sessionID); err != nil {
		return nil, err
	}
	// Release must run even when the caller's context is already canceled.
	defer func() {
		if err := o.sessions.ReleaseFromChat(context.WithoutCancel(ctx), sessionID); err != nil {
			o.logger.Error("chat release failed", "session_id", sessionID, "error", err)
		}
	}()
	return o.loop.Prompt(ctx, sessionID, text)
}

// CancelChat aborts the in-flight agent loop for a session.
func (o *Orchestrator) CancelChat(sessionID string) error {
	return o.loop.Cancel(sessionID)
}

// CreateTask enqueues a background task bound to the project's current
// session, deduplicated by idempotency key, and kicks the runner. A project
// without a current session cannot host tasks.
func (o *Orchestrator) CreateTask(ctx context.Context, projectID, taskType string, input json.RawMessage, idempotencyKey string) (*core.Task, bool, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, false, err
	}
	if project.CurrSessionID == "" {
		return nil, false, core.NewError(core.CodeSessionRequired, "project %s has no current session", projectID)
	}
	t, created, err := o.queue.CreateOrGet(ctx, projectID, project.CurrSessionID, taskType, "api", input, idempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if created {
		o.runner.Kick()
	}
	return t, created, nil
}

// GetTask returns one task.
func (o *Orchestrator) GetTask(ctx context.Context, taskID string) (*core.Task, error) {
	return o.store.GetTask(ctx, taskID)
}

// ListProjectTasks returns a project's tasks in creation order.
func (o *Orchestrator) ListProjectTasks(ctx context.Context, projectID string) ([]*core.Task, error) {
	return o.store.ListProjectTasks(ctx, projectID)
}

// GetProject returns one project.
func (o *Orchestrator) GetProject(ctx context.Context, projectID string) (*core.Project, error) {
	return o.store.GetProject(ctx, projectID)
}

// GetSession returns one session.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*core.Session, error) {
	return o.store.GetSession(ctx, sessionID)
}

// ListMessages returns a session's messages in creation order.
func (o *Orchestrator) ListMessages(ctx context.Context, sessionID string) ([]*core.Message, error) {
	return o.store.ListMessages(ctx, sessionID)
}

// ListThreadMessages returns one thread's messages in creation order.
func (o *Orchestrator) ListThreadMessages(ctx context.Context, sessionID, threadID string) ([]*core.Message, error) {
	return o.store.ListThreadMessages(ctx, sessionID, threadID)
}

// PutArtifact stores a named project artifact, overwriting any previous value.
func (o *Orchestrator) PutArtifact(ctx context.Context, projectID, name string, data []byte) error {
	if _, err := o.store.GetProject(ctx, projectID); err != nil {
		return err
	}
	return o.store.PutArtifact(ctx, projectID, name, data)
}

// GetArtifact returns a named project artifact.
func (o *Orchestrator) GetArtifact(ctx context.Context, projectID, name string) ([]byte, error) {
	return o.store.GetArtifact(ctx, projectID, name)
}
