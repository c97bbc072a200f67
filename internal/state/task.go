package state

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// taskColumns is the column list shared by every task query.
const taskColumns = `id, raw_description, enriched_description, done_criterion, status,
	priority, priority_boosted, queue_position, queued_at, assigned_agent_id,
	created_by_agent_id, parent_task_id, phase_id, workflow_id, ticket_id,
	embedding, duplicate_of_task_id, similarity_score, related_task_ids,
	validation_enabled, validation_iteration, estimated_complexity, has_results,
	completion_notes, created_at, updated_at`

// CreateTask inserts a new task.
func (db *DB) CreateTask(t *models.Task) error {
	_, err := db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.RawDescription, t.EnrichedDescription, t.DoneCriterion, string(t.Status),
		string(t.Priority), t.PriorityBoosted, t.QueuePosition, formatNullableTime(t.QueuedAt),
		nullString(t.AssignedAgentID), nullString(t.CreatedByAgentID), nullString(t.ParentTaskID),
		nullString(t.PhaseID), nullString(t.WorkflowID), nullString(t.TicketID),
		encodeVector(t.Embedding), nullString(t.DuplicateOfTaskID), t.SimilarityScore,
		encodeStrings(t.RelatedTaskIDs), t.ValidationEnabled, t.ValidationIteration,
		t.EstimatedComplexity, t.HasResults, t.CompletionNotes,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns nil if the task does not exist.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// UpdateTask persists every mutable field of a task.
func (db *DB) UpdateTask(t *models.Task) error {
	res, err := db.Exec(`
		UPDATE tasks SET
			raw_description = ?, enriched_description = ?, done_criterion = ?,
			status = ?, priority = ?, priority_boosted = ?, queue_position = ?,
			queued_at = ?, assigned_agent_id = ?, created_by_agent_id = ?,
			parent_task_id = ?, phase_id = ?, workflow_id = ?, ticket_id = ?,
			embedding = ?, duplicate_of_task_id = ?, similarity_score = ?,
			related_task_ids = ?, validation_enabled = ?, validation_iteration = ?,
			estimated_complexity = ?, has_results = ?, completion_notes = ?,
			updated_at = ?
		WHERE id = ?
	`, t.RawDescription, t.EnrichedDescription, t.DoneCriterion, string(t.Status),
		string(t.Priority), t.PriorityBoosted, t.QueuePosition, formatNullableTime(t.QueuedAt),
		nullString(t.AssignedAgentID), nullString(t.CreatedByAgentID), nullString(t.ParentTaskID),
		nullString(t.PhaseID), nullString(t.WorkflowID), nullString(t.TicketID),
		encodeVector(t.Embedding), nullString(t.DuplicateOfTaskID), t.SimilarityScore,
		encodeStrings(t.RelatedTaskIDs), t.ValidationEnabled, t.ValidationIteration,
		t.EstimatedComplexity, t.HasResults, t.CompletionNotes,
		formatTime(t.UpdatedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update task %s: not found", t.ID)
	}
	return nil
}

// ListTasksByStatus returns all tasks in any of the given statuses.
func (db *DB) ListTasksByStatus(statuses ...models.TaskStatus) ([]*models.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = string(s)
	}
	rows, err := db.Query(`SELECT `+taskColumns+` FROM tasks
		WHERE status IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListQueuedTasks returns queued tasks in scheduling order:
// boosted first, then priority high > medium > low, then oldest queued_at.
func (db *DB) ListQueuedTasks() ([]*models.Task, error) {
	rows, err := db.Query(`SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'queued'
		ORDER BY priority_boosted DESC,
			CASE priority WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END DESC,
			queued_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list queued tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListTasksByWorkflow returns all tasks belonging to a workflow.
func (db *DB) ListTasksByWorkflow(workflowID string) ([]*models.Task, error) {
	rows, err := db.Query(`SELECT `+taskColumns+` FROM tasks
		WHERE workflow_id = ? ORDER BY created_at`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by workflow: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListTasksByPhase returns all tasks in a phase.
func (db *DB) ListTasksByPhase(phaseID string) ([]*models.Task, error) {
	rows, err := db.Query(`SELECT `+taskColumns+` FROM tasks
		WHERE phase_id = ? ORDER BY created_at`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by phase: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListEmbeddedTasksInPhase returns tasks in a phase that carry embeddings
// and are candidates for duplicate comparison (not failed, not duplicated).
func (db *DB) ListEmbeddedTasksInPhase(phaseID string) ([]*models.Task, error) {
	rows, err := db.Query(`SELECT `+taskColumns+` FROM tasks
		WHERE phase_id = ?
		  AND embedding IS NOT NULL
		  AND status NOT IN ('failed', 'duplicated')
		ORDER BY created_at`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("list embedded tasks in phase: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// CountActiveTasks returns the number of non-terminal, non-waiting tasks in
// a workflow (assigned, in_progress, under_review, validation_in_progress).
func (db *DB) CountActiveTasks(workflowID string) (int, error) {
	var n int
	row := db.QueryRow(`SELECT COUNT(*) FROM tasks
		WHERE workflow_id = ?
		  AND status IN ('assigned', 'in_progress', 'under_review', 'validation_in_progress')`,
		workflowID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count active tasks: %w", err)
	}
	return n, nil
}

// CountTasks returns the total number of tasks in a workflow.
func (db *DB) CountTasks(workflowID string) (int, error) {
	var n int
	row := db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE workflow_id = ?`, workflowID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// LastTaskActivity returns the newest updated_at across a workflow's tasks.
// Returns nil when the workflow has no tasks.
func (db *DB) LastTaskActivity(workflowID string) (*models.Task, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks
		WHERE workflow_id = ? ORDER BY updated_at DESC LIMIT 1`, workflowID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last task activity: %w", err)
	}
	return t, nil
}

// SetQueuePositions writes the given 1-based positions in one transaction.
// Tasks not present in the map are untouched.
func (db *DB) SetQueuePositions(positions map[string]int) error {
	return db.Transaction(func(tx *sql.Tx) error {
		for id, pos := range positions {
			if _, err := tx.Exec(`UPDATE tasks SET queue_position = ? WHERE id = ?`, pos, id); err != nil {
				return fmt.Errorf("set queue position for %s: %w", id, err)
			}
		}
		return nil
	})
}

// scanTask reads one task from a row scanner.
func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var t models.Task
	var status, priority string
	var queuePos sql.NullInt64
	var queuedAt, enriched, doneCriterion sql.NullString
	var assigned, createdBy, parent, phase, workflow, ticket sql.NullString
	var embedding, dupOf, related, notes sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.RawDescription, &enriched, &doneCriterion, &status,
		&priority, &t.PriorityBoosted, &queuePos, &queuedAt, &assigned,
		&createdBy, &parent, &phase, &workflow, &ticket,
		&embedding, &dupOf, &t.SimilarityScore, &related,
		&t.ValidationEnabled, &t.ValidationIteration, &t.EstimatedComplexity, &t.HasResults,
		&notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.EnrichedDescription = enriched.String
	t.DoneCriterion = doneCriterion.String
	t.Status = models.TaskStatus(status)
	t.Priority = models.TaskPriority(priority)
	if queuePos.Valid {
		pos := int(queuePos.Int64)
		t.QueuePosition = &pos
	}
	t.QueuedAt = parseNullableTime(queuedAt)
	t.AssignedAgentID = assigned.String
	t.CreatedByAgentID = createdBy.String
	t.ParentTaskID = parent.String
	t.PhaseID = phase.String
	t.WorkflowID = workflow.String
	t.TicketID = ticket.String
	t.Embedding = decodeVector(embedding)
	t.DuplicateOfTaskID = dupOf.String
	t.RelatedTaskIDs = decodeStrings(related)
	t.CompletionNotes = notes.String
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	return &t, nil
}

// scanTasks reads all tasks from a result set.
func scanTasks(rows *sql.Rows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// nullString stores empty strings as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
