package core

import "time"

// Phase is the lifecycle stage of a project. A project starts in planning and
// moves to writing exactly once, via a successful handoff task. The reverse
// transition never happens.
type Phase string

const (
	// PhasePlanning is the initial research/outline stage driven by the plan agent.
	PhasePlanning Phase = "planning"
	// PhaseWriting is the drafting stage driven by a writer agent.
	PhaseWriting Phase = "writing"
)

// Project is the writing workspace. The orchestration core reads it and
// atomically edits CurrAgentName, Phase and CurrThreadID during a handoff;
// everything else is owned by the application layer.
type Project struct {
	ID            string    `json:"id"`
	Phase         Phase     `json:"phase"`
	CurrAgentName string    `json:"curr_agent_name"`
	CurrSessionID string    `json:"curr_session_id"`
	CurrThreadID  string    `json:"curr_thread_id"`
	RootThreadID  string    `json:"root_thread_id"`
	Created       time.Time `json:"created"`
	Updated       time.Time `json:"updated"`
}

// NewProject creates a planning-phase project driven by the given agent, with
// a freshly minted root thread that is also the current thread.
func NewProject(id, agentName, sessionID string) *Project {
	now := time.Now().UTC()
	rootThread := NewID()
	return &Project{
		ID:            id,
		Phase:         PhasePlanning,
		CurrAgentName: agentName,
		CurrSessionID: sessionID,
		CurrThreadID:  rootThread,
		RootThreadID:  rootThread,
		Created:       now,
		Updated:       now,
	}
}
