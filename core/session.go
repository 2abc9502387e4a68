package core

import "time"

// SessionStatus is the concurrency status of a session. Status changes go
// exclusively through the session state machine's transition primitive.
type SessionStatus string

const (
	// StatusIdle means no holder; chat and background tasks may acquire.
	StatusIdle SessionStatus = "idle"
	// StatusChatting means an agent loop owns the session.
	StatusChatting SessionStatus = "chatting"
	// StatusHandoffProcessing means a background task owns the session;
	// ActiveTaskID identifies the holder.
	StatusHandoffProcessing SessionStatus = "handoff_processing"
)

// Session is one persistent conversation container. A session never has two
// simultaneously active holders: Status != idle implies ActiveTaskID is either
// empty (chatting) or the id of the live task (handoff_processing).
type Session struct {
	ID           string        `json:"id"`
	ProjectID    string        `json:"project_id"`
	Status       SessionStatus `json:"status"`
	ActiveTaskID string        `json:"active_task_id,omitempty"`
	Created      time.Time     `json:"created"`
	Updated      time.Time     `json:"updated"`
}

// NewSession creates an idle session bound to a project.
func NewSession(id, projectID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		ProjectID: projectID,
		Status:    StatusIdle,
		Created:   now,
		Updated:   now,
	}
}
