package tool

import (
	"encoding/json"

	"github.com/scribeflow/scribeflow/core"
)

// TaskCreator is the slice of the task queue the handoff tool needs: creating
// (or deduplicating onto) a background task.
type TaskCreator interface {
	CreateOrGet(tc *Context, projectID, sessionID, taskType string, input json.RawMessage, idempotencyKey string) (*core.Task, bool, error)
}

// handoffTool lets the plan agent request transfer of control to a writer
// agent. It creates a handoff task; the task runner performs the actual
// switch asynchronously.
type handoffTool struct {
	tasks TaskCreator
	kick  func()
}

// NewHandoffTool constructs the handoff-creation tool. kick, when non-nil, is
// invoked after task creation to nudge the task runner (coalesced there).
func NewHandoffTool(tasks TaskCreator, kick func()) Tool {
	return &handoffTool{tasks: tasks, kick: kick}
}

func (t *handoffTool) Name() string { return "request_handoff" }

func (t *handoffTool) Description() string {
	return "Hand the project off to another agent once planning is complete and the plan is locked. The handoff runs in the background."
}

func (t *handoffTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target_agent_name": map[string]any{"type": "string", "description": "Agent to hand control to"},
			"reason":            map[string]any{"type": "string", "description": "Why the handoff should happen now"},
		},
		"required": []string{"target_agent_name"},
	}
}

func (t *handoffTool) Call(tc *Context, args map[string]any) (any, error) {
	target, err := StringArg(args, "target_agent_name")
	if err != nil {
		return nil, err
	}

	input, err := json.Marshal(core.HandoffInput{
		FromThreadID:     tc.ThreadID,
		TargetAgentName:  target,
		TriggerMessageID: tc.MessageID,
		Reason:           OptionalStringArg(args, "reason"),
	})
	if err != nil {
		return nil, err
	}

	task, created, err := t.tasks.CreateOrGet(tc, tc.ProjectID, tc.SessionID, core.TaskTypeHandoff, input, "")
	if err != nil {
		return nil, err
	}
	if t.kick != nil {
		t.kick()
	}

	out, err := json.Marshal(map[string]any{
		"task_id": task.ID,
		"status":  task.Status,
		"created": created,
	})
	if err != nil {
		return nil, err
	}
	return string(out), nil
}
