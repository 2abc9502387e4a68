package core

import "context"

// ProjectStore persists projects. UpdateProject performs a read-modify-write
// on a single record: the mutate function receives the current record and
// edits it in place; returning an error aborts the write.
type ProjectStore interface {
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	UpdateProject(ctx context.Context, id string, mutate func(*Project) error) (*Project, error)
}

// SessionStore persists sessions. UpdateSession is the read-modify-write
// primitive underpinning the session state machine; it is only correct under
// the single-writer execution model documented on the state machine.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, id string, mutate func(*Session) error) (*Session, error)
}

// MessageStore persists messages keyed by (session_id, message_id).
// SaveMessage upserts, allowing in-place part mutation while a message
// streams; listings return messages in creation order.
type MessageStore interface {
	SaveMessage(ctx context.Context, message *Message) error
	GetMessage(ctx context.Context, sessionID, messageID string) (*Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]*Message, error)
	ListThreadMessages(ctx context.Context, sessionID, threadID string) ([]*Message, error)
}

// TaskStore persists tasks plus the idempotency index. The index maps
// (project_id, idempotency_key) -> task_id; entries are written once at task
// creation time and never mutated.
type TaskStore interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTask(ctx context.Context, id string, mutate func(*Task) error) (*Task, error)
	ListTasksByStatus(ctx context.Context, status TaskStatus) ([]*Task, error)
	ListProjectTasks(ctx context.Context, projectID string) ([]*Task, error)

	PutIdempotencyKey(ctx context.Context, projectID, key, taskID string) error
	GetIdempotencyKey(ctx context.Context, projectID, key string) (string, error)
}

// ArtifactStore persists small named blobs per project (plan lock, handoff
// brief). Put overwrites; Get returns ErrNotFound when absent.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, projectID, name string, data []byte) error
	GetArtifact(ctx context.Context, projectID, name string) ([]byte, error)
}

// Store aggregates all durable record stores behind one handle. The
// orchestration core assumes a single process with exclusive write access.
type Store interface {
	ProjectStore
	SessionStore
	MessageStore
	TaskStore
	ArtifactStore

	Ping(ctx context.Context) error
	Close() error
}
