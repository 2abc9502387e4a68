package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeflow/scribeflow/core"
)

type fakeTaskCreator struct {
	gotProjectID string
	gotSessionID string
	gotType      string
	gotInput     json.RawMessage
	task         *core.Task
	created      bool
}

func (f *fakeTaskCreator) CreateOrGet(_ *Context, projectID, sessionID, taskType string, input json.RawMessage, _ string) (*core.Task, bool, error) {
	f.gotProjectID = projectID
	f.gotSessionID = sessionID
	f.gotType = taskType
	f.gotInput = input
	return f.task, f.created, nil
}

func TestHandoffToolCreatesTaskAndKicks(t *testing.T) {
	creator := &fakeTaskCreator{
		task:    core.NewTask("p1", "s1", core.TaskTypeHandoff, "tool", "k", nil),
		created: true,
	}
	kicked := false
	ht := NewHandoffTool(creator, func() { kicked = true })

	tc := &Context{
		Ctx:       context.Background(),
		ProjectID: "p1",
		SessionID: "s1",
		ThreadID:  "t1",
		MessageID: "m1",
	}
	result, err := ht.Call(tc, map[string]any{
		"target_agent_name": "writer",
		"reason":            "plan approved",
	})
	require.NoError(t, err)
	assert.True(t, kicked)

	assert.Equal(t, "p1", creator.gotProjectID)
	assert.Equal(t, "s1", creator.gotSessionID)
	assert.Equal(t, core.TaskTypeHandoff, creator.gotType)

	var input core.HandoffInput
	require.NoError(t, json.Unmarshal(creator.gotInput, &input))
	assert.Equal(t, "writer", input.TargetAgentName)
	assert.Equal(t, "t1", input.FromThreadID)
	assert.Equal(t, "m1", input.TriggerMessageID)
	assert.Equal(t, "plan approved", input.Reason)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.(string)), &out))
	assert.Equal(t, creator.task.ID, out["task_id"])
	assert.Equal(t, true, out["created"])
}

func TestHandoffToolRequiresTarget(t *testing.T) {
	ht := NewHandoffTool(&fakeTaskCreator{}, nil)
	_, err := ht.Call(&Context{Ctx: context.Background()}, map[string]any{})
	assert.Error(t, err)
}
