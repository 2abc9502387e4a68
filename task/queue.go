// Package task implements the durable background task queue and its polling
// runner. Tasks are idempotent units of work: creating a task with a key the
// project has already seen returns the existing record instead of enqueuing a
// duplicate.
package task

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/scribeflow/scribeflow/core"
	"github.com/scribeflow/scribeflow/logging"
	"github.com/scribeflow/scribeflow/tool"
)

// Queue creates tasks and deduplicates them through the per-project
// idempotency index.
type Queue struct {
	store  core.TaskStore
	logger logging.Logger
}

// NewQueue constructs a queue over the given task store.
func NewQueue(store core.TaskStore, logger logging.Logger) *Queue {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Queue{store: store, logger: logger}
}

// DeriveKey computes the automatic idempotency key for a task: a SHA-256
// digest over the canonical JSON of the identifying fields, prefixed so
// derived keys can never collide with caller-supplied ones. The input is
// canonicalized first so payloads that differ only in object key order or
// whitespace derive the same key.
func DeriveKey(projectID, sessionID, taskType string, input json.RawMessage) string {
	canonical, _ := json.Marshal(struct {
		ProjectID string          `json:"project_id"`
		SessionID string          `json:"session_id"`
		Type      string          `json:"type"`
		Input     json.RawMessage `json:"input"`
	}{projectID, sessionID, taskType, canonicalJSON(input)})
	sum := sha256.Sum256(canonical)
	return "auto:" + hex.EncodeToString(sum[:])
}

// canonicalJSON re-encodes raw JSON with object keys sorted at every nesting
// level. Numbers keep their original textual form. Input that is empty or
// not valid JSON is returned unchanged.
func canonicalJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// CreateOrGet creates a task, or returns the existing one when the
// idempotency key was already used in the project. An empty key is derived
// from the task's identifying fields, so retrying the same logical request
// coalesces even without an explicit key. The boolean reports whether a new
// task was created.
func (q *Queue) CreateOrGet(ctx context.Context, projectID, sessionID, taskType, source string, input json.RawMessage, idempotencyKey string) (*core.Task, bool, error) {
	if projectID == "" {
		return nil, false, fmt.Errorf("project id is required")
	}
	key := idempotencyKey
	if key == "" {
		key = DeriveKey(projectID, sessionID, taskType, input)
	}

	if existing, err := q.lookup(ctx, projectID, key); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	t := core.NewTask(projectID, sessionID, taskType, source, key, input)
	if err := q.store.CreateTask(ctx, t); err != nil {
		return nil, false, err
	}
	// The index is written after the task record so a key can never point
	// at a record that does not exist. The write is first-wins; if a
	// concurrent creator beat us the winner's task is returned.
	if err := q.store.PutIdempotencyKey(ctx, projectID, key, t.ID); err != nil {
		return nil, false, err
	}
	winnerID, err := q.store.GetIdempotencyKey(ctx, projectID, key)
	if err != nil {
		return nil, false, err
	}
	if winnerID != t.ID {
		winner, err := q.store.GetTask(ctx, winnerID)
		if errors.Is(err, core.ErrNotFound) {
			// Orphaned index entry; our record is the live one.
			return t, true, nil
		}
		if err != nil {
			return nil, false, err
		}
		q.logger.Debug("task creation lost idempotency race", "project_id", projectID, "winner_task_id", winnerID)
		return winner, false, nil
	}

	q.logger.Info("task created", "task_id", t.ID, "project_id", projectID, "type", taskType, "source", source)
	return t, true, nil
}

// lookup resolves the idempotency key to its task, or nil when the key is
// unused. An index entry whose task record is missing is treated as unused.
func (q *Queue) lookup(ctx context.Context, projectID, key string) (*core.Task, error) {
	taskID, err := q.store.GetIdempotencyKey(ctx, projectID, key)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := q.store.GetTask(ctx, taskID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ToolCreator adapts the queue to the shape tools consume, stamping the
// task source accordingly.
func (q *Queue) ToolCreator() tool.TaskCreator {
	return &toolCreator{q: q}
}

type toolCreator struct {
	q *Queue
}

func (c *toolCreator) CreateOrGet(tc *tool.Context, projectID, sessionID, taskType string, input json.RawMessage, idempotencyKey string) (*core.Task, bool, error) {
	return c.q.CreateOrGet(tc.Ctx, projectID, sessionID, taskType, "tool", input, idempotencyKey)
}

var _ tool.TaskCreator = (*toolCreator)(nil)
