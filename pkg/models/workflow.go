package models

import "time"

// WorkflowStatus represents the state of a workflow.
type WorkflowStatus string

const (
	// WorkflowStatusActive indicates the workflow is being worked.
	WorkflowStatusActive WorkflowStatus = "active"
	// WorkflowStatusCompleted indicates all phases finished.
	WorkflowStatusCompleted WorkflowStatus = "completed"
	// WorkflowStatusArchived indicates the workflow is retired.
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// Valid returns true if the status is a known value.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusActive, WorkflowStatusCompleted, WorkflowStatusArchived:
		return true
	default:
		return false
	}
}

// Workflow is an ordered multi-phase effort toward a goal.
type Workflow struct {
	// ID is the unique identifier for this workflow.
	ID string `json:"id"`
	// Name is a short label for the workflow.
	Name string `json:"name"`
	// Goal describes what the workflow is trying to achieve.
	Goal string `json:"goal"`
	// Status is the current state.
	Status WorkflowStatus `json:"status"`
	// WorkingDir is the default working directory for phase agents.
	WorkingDir string `json:"working_dir,omitempty"`
	// CreatedAt is when the workflow was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the workflow finished, if it did.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PhaseStatus represents the state of a workflow phase.
type PhaseStatus string

const (
	// PhaseStatusPending indicates the phase has not started.
	PhaseStatusPending PhaseStatus = "pending"
	// PhaseStatusInProgress indicates the phase has active or queued tasks.
	PhaseStatusInProgress PhaseStatus = "in_progress"
	// PhaseStatusCompleted indicates the phase's done criteria passed.
	PhaseStatusCompleted PhaseStatus = "completed"
)

// Valid returns true if the status is a known value.
func (s PhaseStatus) Valid() bool {
	switch s {
	case PhaseStatusPending, PhaseStatusInProgress, PhaseStatusCompleted:
		return true
	default:
		return false
	}
}

// Phase is one ordered stage of a workflow.
type Phase struct {
	// ID is the unique identifier for this phase.
	ID string `json:"id"`
	// WorkflowID is the owning workflow.
	WorkflowID string `json:"workflow_id"`
	// Order is the 1-based position within the workflow. Unique per workflow.
	Order int `json:"order"`
	// Name is a short label for the phase.
	Name string `json:"name"`
	// Description explains the phase's work.
	Description string `json:"description"`
	// DoneDefinitions lists the criteria that complete the phase.
	DoneDefinitions []string `json:"done_definitions,omitempty"`
	// ValidationEnabled applies task validation to tasks in this phase.
	ValidationEnabled bool `json:"validation_enabled,omitempty"`
	// WorkingDir overrides the workflow working directory for this phase.
	WorkingDir string `json:"working_dir,omitempty"`
	// Status is the current state.
	Status PhaseStatus `json:"status"`
	// CompletedAt is when the phase completed, if it did.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// WorkflowResult is a markdown result submitted by an agent for a workflow.
type WorkflowResult struct {
	// ID is the unique identifier for this result.
	ID string `json:"id"`
	// WorkflowID is the workflow the result belongs to.
	WorkflowID string `json:"workflow_id"`
	// AgentID is the submitting agent.
	AgentID string `json:"agent_id"`
	// Path is the markdown file on disk.
	Path string `json:"path"`
	// Summary is a short description of the result.
	Summary string `json:"summary,omitempty"`
	// Validated indicates a result validator approved the result.
	Validated bool `json:"validated"`
	// SubmittedAt is when the result was submitted.
	SubmittedAt time.Time `json:"submitted_at"`
}
