package core

import "time"

// Artifact names the handoff validation depends on.
const (
	// ArtifactPlanLock marks the plan as locked; its JSON body must report
	// locked=true before a handoff may run.
	ArtifactPlanLock = "plan.lock"
	// ArtifactHandoffBrief is the structured brief (objective, constraints,
	// risks) condensed into the handoff summary message.
	ArtifactHandoffBrief = "handoff_brief"
)

// HandoffInput is the input payload of a handoff task.
type HandoffInput struct {
	FromThreadID     string `json:"from_thread_id"`
	ToThreadID       string `json:"to_thread_id,omitempty"`
	TargetAgentName  string `json:"target_agent_name"`
	TriggerMessageID string `json:"trigger_message_id,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// HandoffOutput is the output payload of a successful handoff task.
type HandoffOutput struct {
	HandoffUserMessageID string    `json:"handoff_user_message_id"`
	SwitchedAt           time.Time `json:"switched_at"`
}

// PlanLock is the JSON body of the plan lock artifact.
type PlanLock struct {
	Locked   bool      `json:"locked"`
	LockedAt time.Time `json:"locked_at,omitzero"`
}

// HandoffBrief is the JSON body of the handoff brief artifact.
type HandoffBrief struct {
	Objective   string   `json:"objective"`
	Constraints []string `json:"constraints,omitempty"`
	Risks       []string `json:"risks,omitempty"`
}
