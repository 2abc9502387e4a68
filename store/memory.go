package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/scribeflow/scribeflow/core"
)

// MemoryStore is a volatile core.Store implementation keeping all records in
// process-local maps. It is safe for concurrent access. Records are deep
// copied on the way in and out to prevent external mutation of internal
// state.
type MemoryStore struct {
	mu        sync.RWMutex
	projects  map[string]*core.Project
	sessions  map[string]*core.Session
	messages  map[string]map[string]*core.Message // session_id -> message_id
	msgOrder  map[string][]string                 // session_id -> message ids in creation order
	tasks     map[string]*core.Task
	idemIndex map[string]string // project_id + "\x00" + key -> task_id
	artifacts map[string][]byte // project_id + "\x00" + name
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:  map[string]*core.Project{},
		sessions:  map[string]*core.Session{},
		messages:  map[string]map[string]*core.Message{},
		msgOrder:  map[string][]string{},
		tasks:     map[string]*core.Task{},
		idemIndex: map[string]string{},
		artifacts: map[string][]byte{},
	}
}

var _ core.Store = (*MemoryStore)(nil)

// CreateProject stores a copy of the project record.
func (s *MemoryStore) CreateProject(_ context.Context, project *core.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *project
	s.projects[project.ID] = &cp
	return nil
}

// GetProject returns a copy of the project or core.ErrNotFound.
func (s *MemoryStore) GetProject(_ context.Context, id string) (*core.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// UpdateProject applies mutate to the stored record under the write lock.
func (s *MemoryStore) UpdateProject(_ context.Context, id string, mutate func(*core.Project) error) (*core.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *p
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	cp.Updated = time.Now().UTC()
	s.projects[id] = &cp
	out := cp
	return &out, nil
}

// CreateSession stores a copy of the session record.
func (s *MemoryStore) CreateSession(_ context.Context, session *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

// GetSession returns a copy of the session or core.ErrNotFound.
func (s *MemoryStore) GetSession(_ context.Context, id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

// UpdateSession applies mutate to the stored record under the write lock.
func (s *MemoryStore) UpdateSession(_ context.Context, id string, mutate func(*core.Session) error) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *sess
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	cp.Updated = time.Now().UTC()
	s.sessions[id] = &cp
	out := cp
	return &out, nil
}

// SaveMessage upserts a message, preserving creation order for listings.
func (s *MemoryStore) SaveMessage(_ context.Context, message *core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.messages[message.SessionID]
	if !ok {
		byID = map[string]*core.Message{}
		s.messages[message.SessionID] = byID
	}
	if _, exists := byID[message.ID]; !exists {
		s.msgOrder[message.SessionID] = append(s.msgOrder[message.SessionID], message.ID)
	}
	byID[message.ID] = copyMessage(message)
	return nil
}

// GetMessage returns a copy of the message or core.ErrNotFound.
func (s *MemoryStore) GetMessage(_ context.Context, sessionID, messageID string) (*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[sessionID][messageID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyMessage(m), nil
}

// ListMessages returns all session messages in creation order.
func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.msgOrder[sessionID]
	out := make([]*core.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyMessage(s.messages[sessionID][id]))
	}
	return out, nil
}

// ListThreadMessages returns the session messages belonging to one thread.
func (s *MemoryStore) ListThreadMessages(ctx context.Context, sessionID, threadID string) ([]*core.Message, error) {
	all, err := s.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]*core.Message, 0, len(all))
	for _, m := range all {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	return out, nil
}

// CreateTask stores a copy of the task record.
func (s *MemoryStore) CreateTask(_ context.Context, task *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = copyTask(task)
	return nil
}

// GetTask returns a copy of the task or core.ErrNotFound.
func (s *MemoryStore) GetTask(_ context.Context, id string) (*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return copyTask(t), nil
}

// UpdateTask applies mutate to the stored record under the write lock.
func (s *MemoryStore) UpdateTask(_ context.Context, id string, mutate func(*core.Task) error) (*core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := copyTask(t)
	if err := mutate(cp); err != nil {
		return nil, err
	}
	s.tasks[id] = cp
	return copyTask(cp), nil
}

// ListTasksByStatus returns all tasks with the given status ordered by
// creation time.
func (s *MemoryStore) ListTasksByStatus(_ context.Context, status core.TaskStatus) ([]*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

// ListProjectTasks returns all tasks for a project ordered by creation time.
func (s *MemoryStore) ListProjectTasks(_ context.Context, projectID string) ([]*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Task
	for _, t := range s.tasks {
		if t.ProjectID == projectID {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

// PutIdempotencyKey records the index entry; first write wins.
func (s *MemoryStore) PutIdempotencyKey(_ context.Context, projectID, key, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := projectID + "\x00" + key
	if _, exists := s.idemIndex[k]; !exists {
		s.idemIndex[k] = taskID
	}
	return nil
}

// GetIdempotencyKey looks up the task id for a key or core.ErrNotFound.
func (s *MemoryStore) GetIdempotencyKey(_ context.Context, projectID, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	taskID, ok := s.idemIndex[projectID+"\x00"+key]
	if !ok {
		return "", core.ErrNotFound
	}
	return taskID, nil
}

// PutArtifact stores a copy of the blob, overwriting any previous value.
func (s *MemoryStore) PutArtifact(_ context.Context, projectID, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[projectID+"\x00"+name] = append([]byte(nil), data...)
	return nil
}

// GetArtifact returns a copy of the blob or core.ErrNotFound.
func (s *MemoryStore) GetArtifact(_ context.Context, projectID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.artifacts[projectID+"\x00"+name]
	if !ok {
		return nil, core.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func copyMessage(m *core.Message) *core.Message {
	cp := *m
	cp.Parts = append(core.Parts{}, m.Parts...)
	return &cp
}

func copyTask(t *core.Task) *core.Task {
	cp := *t
	cp.Input = append([]byte(nil), t.Input...)
	cp.Output = append([]byte(nil), t.Output...)
	if t.Error != nil {
		e := *t.Error
		cp.Error = &e
	}
	return &cp
}
