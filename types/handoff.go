package types

import "time"

// HandoffRequest asks the context-handoff collaborator to stage a task's
// context for a target agent.
type HandoffRequest struct {
	HandoffID     string    `json:"handoff_id"`
	SourceAgentID string    `json:"source_agent_id"`
	TargetAgentID string    `json:"target_agent_id"`
	TaskID        string    `json:"task_id"`
	Context       any       `json:"context,omitempty"`
	Priority      int       `json:"priority"`
	Deadline      time.Time `json:"deadline,omitzero"`
}

// HandoffResponse reports the staging result.
type HandoffResponse struct {
	HandoffID      string        `json:"handoff_id"`
	Success        bool          `json:"success"`
	CompressedSize int           `json:"compressed_size"`
	TransferTime   time.Duration `json:"transfer_time"`
	Error          string        `json:"error,omitempty"`
}
