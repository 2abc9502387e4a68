// Package loop executes reasoning/tool-call steps for a conversation turn.
// It enforces one loop per session through an in-process busy registry with
// waiter fan-out: concurrent callers for the same session during the same
// active loop all observe the same outcome (single-flight, not a queue of
// distinct jobs). The registry is process-local and not durable; a restart
// loses in-flight waiters but cannot corrupt persisted session state, since
// the registry only gates new loop starts.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/scribeflow/scribeflow/agent"
	"github.com/scribeflow/scribeflow/bus"
	"github.com/scribeflow/scribeflow/core"
	"github.com/scribeflow/scribeflow/logging"
	"github.com/scribeflow/scribeflow/model"
	"github.com/scribeflow/scribeflow/tool"
)

type outcome struct {
	msg *core.Message
	err error
}

// flight tracks one in-progress loop: its cancellation handle and the
// waiters to broadcast the terminal outcome to.
type flight struct {
	cancel  context.CancelFunc
	waiters []chan outcome
}

// Loop drives agent execution for sessions. Safe for concurrent use.
type Loop struct {
	store  core.Store
	agents *agent.Registry
	events *bus.Bus
	logger logging.Logger

	mu     sync.Mutex
	active map[string]*flight
}

// New constructs a Loop over the given stores, agent registry and event bus.
func New(store core.Store, agents *agent.Registry, events *bus.Bus, logger logging.Logger) *Loop {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Loop{
		store:  store,
		agents: agents,
		events: events,
		logger: logger,
		active: map[string]*flight{},
	}
}

// Prompt appends a user message on the session's current thread and runs the
// loop until the turn is answered, returning the final assistant message.
func (l *Loop) Prompt(ctx context.Context, sessionID, text string) (*core.Message, error) {
	sess, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	project, err := l.store.GetProject(ctx, sess.ProjectID)
	if err != nil {
		return nil, err
	}

	userMsg := core.NewUserMessage(sessionID, project.CurrThreadID, text)
	if err := l.store.SaveMessage(ctx, userMsg); err != nil {
		return nil, err
	}
	l.events.Publish(project.ID, bus.MessageCreated(userMsg))

	return l.Run(ctx, sessionID, project.CurrThreadID)
}

// Run executes the step loop for a session's thread. If no loop is currently
// registered for the session the calling goroutine becomes the runner;
// otherwise the caller is queued as a waiter and receives the runner's
// eventual outcome without re-running any work.
func (l *Loop) Run(ctx context.Context, sessionID, threadID string) (*core.Message, error) {
	l.mu.Lock()
	if f, ok := l.active[sessionID]; ok {
		ch := make(chan outcome, 1)
		f.waiters = append(f.waiters, ch)
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case o := <-ch:
			return o.msg, o.err
		}
	}

	// The runner's context is detached from the caller so an impatient
	// caller abandoning its wait does not abort the shared execution;
	// Cancel is the only way to abort it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{cancel: cancel}
	ch := make(chan outcome, 1)
	f.waiters = append(f.waiters, ch)
	l.active[sessionID] = f
	l.mu.Unlock()

	go func() {
		defer cancel()
		msg, err := l.runSteps(runCtx, sessionID, threadID)
		// A cancellation only overrides a failed run. When runSteps completed
		// despite a racing Cancel, the persisted answer is the outcome.
		if err != nil && runCtx.Err() != nil {
			msg, err = nil, core.ErrLoopCanceled
		}
		l.settle(sessionID, outcome{msg: msg, err: err})
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-ch:
		return o.msg, o.err
	}
}

// Cancel aborts the in-flight loop for a session. Every queued waiter is
// rejected with a cancellation error. Returns NOT_FOUND when no loop is
// registered.
func (l *Loop) Cancel(sessionID string) error {
	l.mu.Lock()
	f, ok := l.active[sessionID]
	l.mu.Unlock()
	if !ok {
		return core.NewError(core.CodeNotFound, "no active loop for session %s", sessionID)
	}
	f.cancel()
	return nil
}

// Busy reports whether a loop is currently registered for the session.
func (l *Loop) Busy(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[sessionID]
	return ok
}

// settle broadcasts the terminal outcome to all waiters and clears the
// registry entry.
func (l *Loop) settle(sessionID string, o outcome) {
	l.mu.Lock()
	f := l.active[sessionID]
	delete(l.active, sessionID)
	l.mu.Unlock()
	if f == nil {
		return
	}
	for _, ch := range f.waiters {
		ch <- o
	}
}

// runSteps drives reasoning/tool-call steps until the turn is answered or
// the step budget is exhausted. Tool calls chain: a resolved tool result
// triggers another model step within the same external call.
func (l *Loop) runSteps(ctx context.Context, sessionID, threadID string) (*core.Message, error) {
	sess, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var last *core.Message
	budget := agent.DefaultSteps
	for step := 0; step < budget; step++ {
		project, err := l.store.GetProject(ctx, sess.ProjectID)
		if err != nil {
			return nil, err
		}
		def, ok := l.agents.Get(project.CurrAgentName)
		if !ok {
			return nil, core.NewError(core.CodeAgentNotFound, "agent %q not registered", project.CurrAgentName)
		}
		budget = def.StepBudget()

		history, err := l.store.ListThreadMessages(ctx, sessionID, threadID)
		if err != nil {
			return nil, err
		}
		lastUser, lastAssistant := splitHistory(history)
		if lastUser == nil {
			return nil, fmt.Errorf("thread %s has no user message", threadID)
		}

		if lastAssistant != nil {
			// An externally-owned tool call is still unresolved; the
			// caller must resolve it before the loop may continue.
			if lastAssistant.HasUnresolvedToolCall() {
				return lastAssistant, nil
			}
			// Re-entrant call on an already answered turn is a no-op. A
			// tool_calls finish is not an answer; the chain continues below.
			if lastAssistant.Finished() && lastAssistant.ParentUserMessageID == lastUser.ID &&
				lastAssistant.FinishReason != "tool_calls" {
				return lastAssistant, nil
			}
		}

		msg, err := l.step(ctx, def, project, sessionID, threadID, lastUser.ID, history)
		if err != nil {
			return nil, err
		}
		last = msg

		// No tool calls means the model produced a plain answer.
		if len(msg.ToolParts()) == 0 {
			return msg, nil
		}
	}

	l.logger.Warn("loop exhausted step budget", "session_id", sessionID, "thread_id", threadID, "steps", budget)
	return last, nil
}

// step performs one model call: creates the assistant message, streams the
// response into parts, executes requested tools synchronously and publishes
// lifecycle events.
func (l *Loop) step(
	ctx context.Context,
	def *agent.Definition,
	project *core.Project,
	sessionID, threadID, parentUserMessageID string,
	history []*core.Message,
) (*core.Message, error) {
	msg := core.NewAssistantMessage(sessionID, threadID, parentUserMessageID)
	if err := l.store.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	l.events.Publish(project.ID, bus.MessageCreated(msg))

	req := model.Request{
		Instructions: def.Instructions,
		Messages:     history,
		Tools:        def.ToolDefinitions(),
		Stream:       true,
	}

	finishReason, err := l.streamResponse(ctx, def, project, msg, req)
	if err != nil {
		return nil, err
	}

	msg.Finish(finishReason)
	if err := l.store.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	l.events.Publish(project.ID, bus.MessageFinished(msg))

	if err := l.executeTools(ctx, def, project, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// streamResponse materializes model output into message parts as chunks
// arrive: text/reasoning deltas accumulate into their part, tool calls
// become pending tool parts on the final chunk.
func (l *Loop) streamResponse(
	ctx context.Context,
	def *agent.Definition,
	project *core.Project,
	msg *core.Message,
	req model.Request,
) (string, error) {
	respCh, errCh := def.Model.Generate(ctx, req)

	finishReason := "stop"
	var textPartID, reasoningPartID string
	for resp := range respCh {
		if resp.TextDelta != "" {
			textPartID = appendDelta(msg, textPartID, resp.TextDelta, false)
			if err := l.store.SaveMessage(ctx, msg); err != nil {
				return "", err
			}
			l.events.Publish(project.ID, bus.MessageDelta(msg, resp.TextDelta))
		}
		if resp.ReasoningDelta != "" {
			reasoningPartID = appendDelta(msg, reasoningPartID, resp.ReasoningDelta, true)
			if err := l.store.SaveMessage(ctx, msg); err != nil {
				return "", err
			}
		}
		if resp.Partial {
			continue
		}
		if resp.FinishReason != "" {
			finishReason = resp.FinishReason
		}
		for _, tc := range resp.ToolCalls {
			callID := tc.ID
			if callID == "" {
				callID = core.NewID()
			}
			msg.UpsertPart(core.ToolPart{
				ID:        core.NewID(),
				CallID:    callID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
				Status:    core.ToolStatusPending,
			})
		}
	}
	if err := <-errCh; err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}
	return finishReason, nil
}

// executeTools runs every pending tool part synchronously, mutating each
// part through running to done or error.
func (l *Loop) executeTools(ctx context.Context, def *agent.Definition, project *core.Project, msg *core.Message) error {
	for _, tp := range msg.ToolParts() {
		if tp.Status != core.ToolStatusPending {
			continue
		}
		tp.Status = core.ToolStatusRunning
		msg.UpsertPart(tp)
		if err := l.store.SaveMessage(ctx, msg); err != nil {
			return err
		}

		result, callErr := l.callTool(ctx, def, project, msg, tp)
		if callErr != nil {
			tp.Status = core.ToolStatusError
			tp.Error = callErr.Error()
		} else {
			tp.Status = core.ToolStatusDone
			tp.Result = result
		}
		msg.UpsertPart(tp)
		if err := l.store.SaveMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) callTool(ctx context.Context, def *agent.Definition, project *core.Project, msg *core.Message, tp core.ToolPart) (string, error) {
	t, ok := def.Tool(tp.Name)
	if !ok {
		return "", fmt.Errorf("tool %q not in agent %q toolset", tp.Name, def.Name)
	}

	args := map[string]any{}
	if tp.Arguments != "" {
		if err := json.Unmarshal([]byte(tp.Arguments), &args); err != nil {
			return "", fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	tc := &tool.Context{
		Ctx:       ctx,
		ProjectID: project.ID,
		SessionID: msg.SessionID,
		ThreadID:  msg.ThreadID,
		MessageID: msg.ID,
		CallID:    tp.CallID,
		Logger:    l.logger,
	}
	result, err := t.Call(tc, args)
	if err != nil {
		return "", err
	}
	if s, ok := result.(string); ok {
		return s, nil
	}
	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(out), nil
}

// appendDelta grows the identified part (creating it on first delta) and
// returns its id.
func appendDelta(msg *core.Message, partID, delta string, reasoning bool) string {
	if partID == "" {
		partID = core.NewID()
		if reasoning {
			msg.UpsertPart(core.ReasoningPart{ID: partID})
		} else {
			msg.UpsertPart(core.TextPart{ID: partID})
		}
	}
	for _, p := range msg.Parts {
		if p.PartID() != partID {
			continue
		}
		switch part := p.(type) {
		case core.TextPart:
			part.Text += delta
			msg.UpsertPart(part)
		case core.ReasoningPart:
			part.Text += delta
			msg.UpsertPart(part)
		}
		break
	}
	return partID
}

// splitHistory finds the last user and last assistant messages.
func splitHistory(history []*core.Message) (lastUser, lastAssistant *core.Message) {
	for _, m := range history {
		switch m.Role {
		case core.RoleUser:
			lastUser = m
		case core.RoleAssistant:
			lastAssistant = m
		}
	}
	return lastUser, lastAssistant
}
