package core

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a background task. Transitions go only
// processing -> success or processing -> fail; tasks are never resurrected.
type TaskStatus string

const (
	// TaskStatusProcessing means the task is queued or being handled.
	TaskStatusProcessing TaskStatus = "processing"
	// TaskStatusSuccess means the handler completed and Output is set.
	TaskStatusSuccess TaskStatus = "success"
	// TaskStatusFail means the handler failed or timed out; Error is set.
	TaskStatusFail TaskStatus = "fail"
)

// TaskTypeHandoff is the sole registered task type: transferring active-agent
// control and advancing project phase from planning to writing.
const TaskTypeHandoff = "handoff"

// TaskError is a terminal task failure surfaced in the task record.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Task is a durable, idempotent unit of background work with one registered
// handler per type. The task runner owns a task for its lifetime.
type Task struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"project_id"`
	SessionID      string          `json:"session_id"`
	Type           string          `json:"type"`
	Status         TaskStatus      `json:"status"`
	Source         string          `json:"source,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Input          json.RawMessage `json:"input"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          *TaskError      `json:"error,omitempty"`
	Created        time.Time       `json:"created"`
	Started        time.Time       `json:"started,omitzero"`
	Finished       time.Time       `json:"finished,omitzero"`
}

// NewTask creates a processing task record.
func NewTask(projectID, sessionID, taskType, source, idempotencyKey string, input json.RawMessage) *Task {
	return &Task{
		ID:             NewID(),
		ProjectID:      projectID,
		SessionID:      sessionID,
		Type:           taskType,
		Status:         TaskStatusProcessing,
		Source:         source,
		IdempotencyKey: idempotencyKey,
		Input:          input,
		Created:        time.Now().UTC(),
	}
}
