// Package handoff implements the handler behind the handoff task type:
// transferring project control from the plan agent to a writer agent,
// advancing the project phase and seeding the writer's fresh thread with a
// summary message. The handler runs under the task runner, so the session
// lock is already held while it executes.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/scribeflow/scribeflow/agent"
	"github.com/scribeflow/scribeflow/bus"
	"github.com/scribeflow/scribeflow/core"
	"github.com/scribeflow/scribeflow/logging"
	"github.com/scribeflow/scribeflow/task"
)

const (
	// transcriptTailLimit caps how many prior-thread messages are condensed
	// into the summary message.
	transcriptTailLimit = 12
	// transcriptTextLimit caps the length, in bytes, of each condensed
	// message; truncation never splits a rune.
	transcriptTextLimit = 400
)

// Handler validates and executes handoff tasks.
type Handler struct {
	store  core.Store
	agents *agent.Registry
	events *bus.Bus
	logger logging.Logger
}

// NewHandler constructs the handoff task handler.
func NewHandler(store core.Store, agents *agent.Registry, events *bus.Bus, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Handler{store: store, agents: agents, events: events, logger: logger}
}

var _ task.Handler = (*Handler)(nil)

// Handle executes one handoff task: validate the project and artifacts,
// synthesize the summary message on a fresh thread, then atomically switch
// the project's agent, phase and current thread. Validation failures leave
// the project untouched.
func (h *Handler) Handle(ctx context.Context, t *core.Task) (json.RawMessage, error) {
	var input core.HandoffInput
	if err := json.Unmarshal(t.Input, &input); err != nil {
		return nil, fmt.Errorf("invalid handoff input: %w", err)
	}

	project, err := h.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, err
	}
	brief, err := h.validate(ctx, project, input)
	if err != nil {
		return nil, err
	}

	fromThreadID := input.FromThreadID
	if fromThreadID == "" {
		fromThreadID = project.CurrThreadID
	}
	toThreadID := input.ToThreadID
	if toThreadID == "" {
		toThreadID = core.NewID()
	}

	summary, err := h.buildSummary(ctx, t.SessionID, fromThreadID, input, brief)
	if err != nil {
		return nil, err
	}

	// The summary message is written before the project switch: if the
	// switch fails the message is an orphan on an unused thread, which is
	// harmless, whereas switching first could strand the writer agent on
	// an empty thread.
	msg := core.NewUserMessage(t.SessionID, toThreadID, summary)
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("write handoff summary message: %w", err)
	}
	h.events.Publish(project.ID, bus.MessageCreated(msg))

	switchedAt := time.Now().UTC()
	if _, err := h.store.UpdateProject(ctx, project.ID, func(p *core.Project) error {
		// Re-check under the write so a concurrent change since the read
		// cannot be clobbered.
		if p.Phase != core.PhasePlanning {
			return core.NewError(core.CodeWrongPhase, "project %s is in phase %s, expected planning", p.ID, p.Phase)
		}
		p.CurrAgentName = input.TargetAgentName
		p.Phase = core.PhaseWriting
		p.CurrThreadID = toThreadID
		return nil
	}); err != nil {
		return nil, err
	}

	h.logger.Info("handoff completed",
		"project_id", project.ID,
		"target_agent", input.TargetAgentName,
		"thread_id", toThreadID,
		"task_id", t.ID)

	return json.Marshal(core.HandoffOutput{
		HandoffUserMessageID: msg.ID,
		SwitchedAt:           switchedAt,
	})
}

// validate enforces every precondition of a handoff and returns the parsed
// brief. Errors carry stable codes so callers can distinguish failure modes
// from the task record.
func (h *Handler) validate(ctx context.Context, project *core.Project, input core.HandoffInput) (*core.HandoffBrief, error) {
	if project.Phase != core.PhasePlanning {
		return nil, core.NewError(core.CodeWrongPhase, "project %s is in phase %s, expected planning", project.ID, project.Phase)
	}
	if project.CurrAgentName != agent.PlanAgentName {
		return nil, core.NewError(core.CodeWrongPhase, "handoff may only originate from agent %q, current is %q", agent.PlanAgentName, project.CurrAgentName)
	}
	if input.TargetAgentName == "" {
		return nil, core.NewError(core.CodeAgentNotFound, "target agent name is required")
	}
	if !h.agents.Has(input.TargetAgentName) {
		return nil, core.NewError(core.CodeAgentNotFound, "agent %q not registered", input.TargetAgentName)
	}
	if input.TargetAgentName == project.CurrAgentName {
		return nil, core.NewError(core.CodeSameAgent, "project is already driven by agent %q", input.TargetAgentName)
	}

	lockData, err := h.store.GetArtifact(ctx, project.ID, core.ArtifactPlanLock)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.NewError(core.CodeNotLocked, "plan is not locked")
	}
	if err != nil {
		return nil, err
	}
	var lock core.PlanLock
	if err := json.Unmarshal(lockData, &lock); err != nil {
		return nil, core.NewError(core.CodeNotLocked, "plan lock artifact is malformed: %v", err)
	}
	if !lock.Locked {
		return nil, core.NewError(core.CodeNotLocked, "plan is not locked")
	}

	briefData, err := h.store.GetArtifact(ctx, project.ID, core.ArtifactHandoffBrief)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.NewError(core.CodeNotFound, "handoff brief artifact is missing")
	}
	if err != nil {
		return nil, err
	}
	var brief core.HandoffBrief
	if err := json.Unmarshal(briefData, &brief); err != nil {
		return nil, fmt.Errorf("handoff brief artifact is malformed: %w", err)
	}
	return &brief, nil
}

// buildSummary renders the synthesized user message seeding the writer's
// thread: the brief, the stated reason and a condensed tail of the planning
// conversation.
func (h *Handler) buildSummary(ctx context.Context, sessionID, fromThreadID string, input core.HandoffInput, brief *core.HandoffBrief) (string, error) {
	var b strings.Builder
	b.WriteString("Planning is complete. Continue this project in the writing phase.\n")
	if input.Reason != "" {
		fmt.Fprintf(&b, "\nHandoff reason: %s\n", input.Reason)
	}
	if brief.Objective != "" {
		fmt.Fprintf(&b, "\nObjective: %s\n", brief.Objective)
	}
	if len(brief.Constraints) > 0 {
		b.WriteString("\nConstraints:\n")
		for _, c := range brief.Constraints {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(brief.Risks) > 0 {
		b.WriteString("\nRisks:\n")
		for _, r := range brief.Risks {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	messages, err := h.store.ListThreadMessages(ctx, sessionID, fromThreadID)
	if err != nil {
		return "", fmt.Errorf("list planning thread: %w", err)
	}
	if len(messages) > transcriptTailLimit {
		messages = messages[len(messages)-transcriptTailLimit:]
	}
	if len(messages) > 0 {
		b.WriteString("\nPlanning conversation (condensed):\n")
		for _, m := range messages {
			text := strings.TrimSpace(m.Text())
			if text == "" {
				continue
			}
			if len(text) > transcriptTextLimit {
				cut := transcriptTextLimit
				for cut > 0 && !utf8.RuneStart(text[cut]) {
					cut--
				}
				text = text[:cut] + "…"
			}
			fmt.Fprintf(&b, "[%s] %s\n", m.Role, text)
		}
	}
	return b.String(), nil
}
