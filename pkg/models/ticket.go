package models

import "time"

// TicketPriority mirrors task priority for tickets.
type TicketPriority string

const (
	// TicketPriorityLow is the lowest ticket priority.
	TicketPriorityLow TicketPriority = "low"
	// TicketPriorityMedium is the default ticket priority.
	TicketPriorityMedium TicketPriority = "medium"
	// TicketPriorityHigh is the highest ticket priority.
	TicketPriorityHigh TicketPriority = "high"
)

// Valid returns true if the priority is a known value.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	default:
		return false
	}
}

// Ticket is a unit of planned work on a workflow's board.
// Ticket status values are board columns, validated against the
// workflow's BoardConfig rather than a closed enum.
type Ticket struct {
	// ID is the unique identifier for this ticket.
	ID string `json:"id"`
	// WorkflowID is the owning workflow.
	WorkflowID string `json:"workflow_id"`
	// Title is the short ticket title.
	Title string `json:"title"`
	// Description is the full ticket description.
	Description string `json:"description,omitempty"`
	// Type categorizes the ticket (feature, bugfix, ...), validated
	// against the board's allowed types.
	Type string `json:"type"`
	// Priority orders tickets for planning.
	Priority TicketPriority `json:"priority"`
	// Status is the board column the ticket sits in.
	Status string `json:"status"`
	// ParentTicketID is the parent ticket for breakdowns.
	ParentTicketID string `json:"parent_ticket_id,omitempty"`
	// BlockedByTicketIDs lists unresolved tickets blocking this one.
	// A ticket with a non-empty list cannot change status.
	BlockedByTicketIDs []string `json:"blocked_by_ticket_ids,omitempty"`
	// Tags are free-form labels weighted into the ticket embedding.
	Tags []string `json:"tags,omitempty"`
	// Embedding is the weighted vector for similarity search.
	Embedding []float32 `json:"embedding,omitempty"`
	// Resolved indicates the ticket is finished and no longer blocks others.
	Resolved bool `json:"resolved"`
	// CreatedAt is when the ticket was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the ticket was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Blocked returns true if the ticket has unresolved blockers.
func (t *Ticket) Blocked() bool {
	return len(t.BlockedByTicketIDs) > 0
}

// BoardConfig defines a workflow's ticket board.
type BoardConfig struct {
	// WorkflowID is the workflow this board belongs to.
	WorkflowID string `json:"workflow_id" yaml:"workflow_id"`
	// Columns is the ordered list of ticket statuses.
	Columns []string `json:"columns" yaml:"columns"`
	// TicketTypes lists the allowed ticket types.
	TicketTypes []string `json:"ticket_types" yaml:"ticket_types"`
	// InitialStatus is the column new tickets start in. Must be a column.
	InitialStatus string `json:"initial_status" yaml:"initial_status"`
	// AutoLinkCommits links merge commits to tickets on validation pass.
	AutoLinkCommits bool `json:"auto_link_commits" yaml:"auto_link_commits"`
}

// HasColumn returns true if the status is a column of this board.
func (b *BoardConfig) HasColumn(status string) bool {
	for _, c := range b.Columns {
		if c == status {
			return true
		}
	}
	return false
}

// HasType returns true if the ticket type is allowed on this board.
func (b *BoardConfig) HasType(t string) bool {
	for _, tt := range b.TicketTypes {
		if tt == t {
			return true
		}
	}
	return false
}

// DefaultBoardConfig returns the board used when a workflow has none configured.
func DefaultBoardConfig(workflowID string) *BoardConfig {
	return &BoardConfig{
		WorkflowID:      workflowID,
		Columns:         []string{"backlog", "ready", "in_progress", "review", "done"},
		TicketTypes:     []string{"feature", "bugfix", "tech-debt", "research"},
		InitialStatus:   "backlog",
		AutoLinkCommits: true,
	}
}

// TicketComment is a comment on a ticket.
type TicketComment struct {
	// ID is the unique identifier for this comment.
	ID string `json:"id"`
	// TicketID is the ticket commented on.
	TicketID string `json:"ticket_id"`
	// Author identifies who wrote the comment (agent id or "system").
	Author string `json:"author"`
	// Body is the comment text.
	Body string `json:"body"`
	// CreatedAt is when the comment was written.
	CreatedAt time.Time `json:"created_at"`
}

// TicketHistoryEntry records a ticket state transition or audit event.
type TicketHistoryEntry struct {
	// ID is the unique identifier for this entry.
	ID string `json:"id"`
	// TicketID is the ticket the entry belongs to.
	TicketID string `json:"ticket_id"`
	// Kind is the entry kind: "status_change", "unblocked", "resolved",
	// "commit_linked", "blocked_update".
	Kind string `json:"kind"`
	// FromStatus is the previous column for status changes.
	FromStatus string `json:"from_status,omitempty"`
	// ToStatus is the new column for status changes.
	ToStatus string `json:"to_status,omitempty"`
	// Detail carries additional context (commit sha, blocker id, reason).
	Detail string `json:"detail,omitempty"`
	// CreatedAt is when the entry was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// TicketCommit links a merge commit to a ticket.
type TicketCommit struct {
	// ID is the unique identifier for this link.
	ID string `json:"id"`
	// TicketID is the linked ticket.
	TicketID string `json:"ticket_id"`
	// CommitSHA is the linked commit.
	CommitSHA string `json:"commit_sha"`
	// TaskID is the task whose merge produced the commit.
	TaskID string `json:"task_id,omitempty"`
	// CreatedAt is when the link was recorded.
	CreatedAt time.Time `json:"created_at"`
}
