// Package models defines the persisted entities shared across Hephaestus.
package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has been created but not queued.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusQueued indicates the task is waiting for an agent slot.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusBlocked indicates the task cannot run because its ticket is blocked.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusAssigned indicates an agent has been allocated to the task.
	TaskStatusAssigned TaskStatus = "assigned"
	// TaskStatusInProgress indicates the agent is actively working.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusUnderReview indicates the task is awaiting validator spawn.
	TaskStatusUnderReview TaskStatus = "under_review"
	// TaskStatusValidationInProgress indicates a validator agent is reviewing.
	TaskStatusValidationInProgress TaskStatus = "validation_in_progress"
	// TaskStatusNeedsWork indicates validation failed and rework is required.
	TaskStatusNeedsWork TaskStatus = "needs_work"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusDuplicated indicates the task duplicates an earlier one and never runs.
	TaskStatusDuplicated TaskStatus = "duplicated"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusQueued, TaskStatusBlocked, TaskStatusAssigned,
		TaskStatusInProgress, TaskStatusUnderReview, TaskStatusValidationInProgress,
		TaskStatusNeedsWork, TaskStatusDone, TaskStatusFailed, TaskStatusDuplicated:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed || s == TaskStatusDuplicated
}

// RequiresAgent returns true if a task in this status must have an assigned agent.
func (s TaskStatus) RequiresAgent() bool {
	switch s {
	case TaskStatusAssigned, TaskStatusInProgress, TaskStatusUnderReview, TaskStatusValidationInProgress:
		return true
	default:
		return false
	}
}

// TaskPriority represents the scheduling priority of a task.
type TaskPriority string

const (
	// TaskPriorityLow is the lowest scheduling priority.
	TaskPriorityLow TaskPriority = "low"
	// TaskPriorityMedium is the default scheduling priority.
	TaskPriorityMedium TaskPriority = "medium"
	// TaskPriorityHigh is the highest scheduling priority.
	TaskPriorityHigh TaskPriority = "high"
)

// Valid returns true if the priority is a known value.
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh:
		return true
	default:
		return false
	}
}

// Rank returns the numeric ordering of the priority, higher is more urgent.
func (p TaskPriority) Rank() int {
	switch p {
	case TaskPriorityHigh:
		return 2
	case TaskPriorityMedium:
		return 1
	default:
		return 0
	}
}

// Task represents a unit of work dispatched to an agent.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// RawDescription is the description as originally submitted.
	RawDescription string `json:"raw_description"`
	// EnrichedDescription is the LLM-enriched description, empty until enrichment runs.
	EnrichedDescription string `json:"enriched_description,omitempty"`
	// DoneCriterion defines when the task counts as complete.
	DoneCriterion string `json:"done_criterion,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Priority is the scheduling priority.
	Priority TaskPriority `json:"priority"`
	// PriorityBoosted marks a queued task manually bumped to the front.
	PriorityBoosted bool `json:"priority_boosted,omitempty"`
	// QueuePosition is the 1-based rank in the queue; nil unless queued.
	QueuePosition *int `json:"queue_position,omitempty"`
	// QueuedAt is when the task entered the queue.
	QueuedAt *time.Time `json:"queued_at,omitempty"`
	// AssignedAgentID is the agent currently working on this task.
	AssignedAgentID string `json:"assigned_agent_id,omitempty"`
	// CreatedByAgentID is the agent that created this task, if any.
	CreatedByAgentID string `json:"created_by_agent_id,omitempty"`
	// ParentTaskID is the parent task, if any.
	ParentTaskID string `json:"parent_task_id,omitempty"`
	// PhaseID is the workflow phase this task belongs to.
	PhaseID string `json:"phase_id,omitempty"`
	// WorkflowID is the owning workflow.
	WorkflowID string `json:"workflow_id,omitempty"`
	// TicketID links the task to a ticket for blocking derivation.
	TicketID string `json:"ticket_id,omitempty"`
	// Embedding is the vector for the enriched description.
	Embedding []float32 `json:"embedding,omitempty"`
	// DuplicateOfTaskID points to the task this one duplicates.
	DuplicateOfTaskID string `json:"duplicate_of_task_id,omitempty"`
	// SimilarityScore is the similarity to the duplicated task.
	SimilarityScore float64 `json:"similarity_score,omitempty"`
	// RelatedTaskIDs lists tasks above the related threshold but below duplicate.
	RelatedTaskIDs []string `json:"related_task_ids,omitempty"`
	// ValidationEnabled gates the validator round-trip on completion.
	ValidationEnabled bool `json:"validation_enabled,omitempty"`
	// ValidationIteration counts validator rounds for this task.
	ValidationIteration int `json:"validation_iteration,omitempty"`
	// EstimatedComplexity is the enrichment estimate used for timeouts (minutes).
	EstimatedComplexity int `json:"estimated_complexity,omitempty"`
	// HasResults indicates the task produced result artifacts.
	HasResults bool `json:"has_results,omitempty"`
	// CompletionNotes carries a human-readable reason for blocked/failed states.
	CompletionNotes string `json:"completion_notes,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}
