package state

import (
	"database/sql"
	"fmt"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// CreateWorkflow inserts a new workflow.
func (db *DB) CreateWorkflow(w *models.Workflow) error {
	_, err := db.Exec(`
		INSERT INTO workflows (id, name, goal, status, working_dir, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.Name, w.Goal, string(w.Status), w.WorkingDir,
		formatTime(w.CreatedAt), formatNullableTime(w.CompletedAt))
	if err != nil {
		return fmt.Errorf("create workflow %s: %w", w.ID, err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID. Returns nil if not found.
func (db *DB) GetWorkflow(id string) (*models.Workflow, error) {
	row := db.QueryRow(`
		SELECT id, name, goal, status, working_dir, created_at, completed_at
		FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return w, nil
}

// UpdateWorkflow persists the mutable fields of a workflow.
func (db *DB) UpdateWorkflow(w *models.Workflow) error {
	_, err := db.Exec(`
		UPDATE workflows SET name = ?, goal = ?, status = ?, working_dir = ?, completed_at = ?
		WHERE id = ?
	`, w.Name, w.Goal, string(w.Status), w.WorkingDir,
		formatNullableTime(w.CompletedAt), w.ID)
	if err != nil {
		return fmt.Errorf("update workflow %s: %w", w.ID, err)
	}
	return nil
}

// ListActiveWorkflows returns all workflows with status active.
func (db *DB) ListActiveWorkflows() ([]*models.Workflow, error) {
	rows, err := db.Query(`
		SELECT id, name, goal, status, working_dir, created_at, completed_at
		FROM workflows WHERE status = 'active' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// scanWorkflow reads one workflow from a row scanner.
func scanWorkflow(row interface{ Scan(...any) error }) (*models.Workflow, error) {
	var w models.Workflow
	var status, createdAt string
	var workingDir, completedAt sql.NullString

	err := row.Scan(&w.ID, &w.Name, &w.Goal, &status, &workingDir, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	w.Status = models.WorkflowStatus(status)
	w.WorkingDir = workingDir.String
	w.CreatedAt, _ = parseTime(createdAt)
	w.CompletedAt = parseNullableTime(completedAt)
	return &w, nil
}

// Phase operations

const phaseColumns = `id, workflow_id, phase_order, name, description, done_definitions,
	validation_enabled, working_dir, status, completed_at`

// CreatePhase inserts a new phase.
func (db *DB) CreatePhase(p *models.Phase) error {
	_, err := db.Exec(`
		INSERT INTO phases (`+phaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.WorkflowID, p.Order, p.Name, p.Description,
		encodeStrings(p.DoneDefinitions), p.ValidationEnabled, p.WorkingDir,
		string(p.Status), formatNullableTime(p.CompletedAt))
	if err != nil {
		return fmt.Errorf("create phase %s: %w", p.ID, err)
	}
	return nil
}

// GetPhase retrieves a phase by ID. Returns nil if not found.
func (db *DB) GetPhase(id string) (*models.Phase, error) {
	row := db.QueryRow(`SELECT `+phaseColumns+` FROM phases WHERE id = ?`, id)
	p, err := scanPhase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get phase %s: %w", id, err)
	}
	return p, nil
}

// UpdatePhase persists the mutable fields of a phase.
func (db *DB) UpdatePhase(p *models.Phase) error {
	_, err := db.Exec(`
		UPDATE phases SET name = ?, description = ?, done_definitions = ?,
			validation_enabled = ?, working_dir = ?, status = ?, completed_at = ?
		WHERE id = ?
	`, p.Name, p.Description, encodeStrings(p.DoneDefinitions),
		p.ValidationEnabled, p.WorkingDir, string(p.Status),
		formatNullableTime(p.CompletedAt), p.ID)
	if err != nil {
		return fmt.Errorf("update phase %s: %w", p.ID, err)
	}
	return nil
}

// ListPhases returns a workflow's phases in order.
func (db *DB) ListPhases(workflowID string) ([]*models.Phase, error) {
	rows, err := db.Query(`SELECT `+phaseColumns+` FROM phases
		WHERE workflow_id = ? ORDER BY phase_order`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	defer rows.Close()

	var phases []*models.Phase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

// NextPhase returns the phase after the given order in a workflow,
// or nil when the given phase is the last one.
func (db *DB) NextPhase(workflowID string, afterOrder int) (*models.Phase, error) {
	row := db.QueryRow(`SELECT `+phaseColumns+` FROM phases
		WHERE workflow_id = ? AND phase_order > ?
		ORDER BY phase_order LIMIT 1`, workflowID, afterOrder)
	p, err := scanPhase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next phase: %w", err)
	}
	return p, nil
}

// scanPhase reads one phase from a row scanner.
func scanPhase(row interface{ Scan(...any) error }) (*models.Phase, error) {
	var p models.Phase
	var description, doneDefs, workingDir, completedAt sql.NullString
	var status string

	err := row.Scan(&p.ID, &p.WorkflowID, &p.Order, &p.Name, &description, &doneDefs,
		&p.ValidationEnabled, &workingDir, &status, &completedAt)
	if err != nil {
		return nil, err
	}

	p.Description = description.String
	p.DoneDefinitions = decodeStrings(doneDefs)
	p.WorkingDir = workingDir.String
	p.Status = models.PhaseStatus(status)
	p.CompletedAt = parseNullableTime(completedAt)
	return &p, nil
}

// Workflow result operations

// CreateWorkflowResult inserts a submitted workflow result.
func (db *DB) CreateWorkflowResult(r *models.WorkflowResult) error {
	_, err := db.Exec(`
		INSERT INTO workflow_results (id, workflow_id, agent_id, path, summary, validated, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.WorkflowID, r.AgentID, r.Path, r.Summary, r.Validated, formatTime(r.SubmittedAt))
	if err != nil {
		return fmt.Errorf("create workflow result %s: %w", r.ID, err)
	}
	return nil
}

// UpdateWorkflowResult persists the validated flag and summary of a result.
func (db *DB) UpdateWorkflowResult(r *models.WorkflowResult) error {
	_, err := db.Exec(`
		UPDATE workflow_results SET summary = ?, validated = ? WHERE id = ?
	`, r.Summary, r.Validated, r.ID)
	if err != nil {
		return fmt.Errorf("update workflow result %s: %w", r.ID, err)
	}
	return nil
}

// GetWorkflowResult retrieves a result by ID. Returns nil if not found.
func (db *DB) GetWorkflowResult(id string) (*models.WorkflowResult, error) {
	row := db.QueryRow(`
		SELECT id, workflow_id, agent_id, path, summary, validated, submitted_at
		FROM workflow_results WHERE id = ?`, id)
	r, err := scanWorkflowResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow result %s: %w", id, err)
	}
	return r, nil
}

// ListWorkflowResults returns a workflow's submitted results, newest first.
func (db *DB) ListWorkflowResults(workflowID string) ([]*models.WorkflowResult, error) {
	rows, err := db.Query(`
		SELECT id, workflow_id, agent_id, path, summary, validated, submitted_at
		FROM workflow_results WHERE workflow_id = ? ORDER BY submitted_at DESC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow results: %w", err)
	}
	defer rows.Close()

	var results []*models.WorkflowResult
	for rows.Next() {
		r, err := scanWorkflowResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// HasValidatedResult reports whether the workflow has any validated result.
func (db *DB) HasValidatedResult(workflowID string) (bool, error) {
	var n int
	row := db.QueryRow(`SELECT COUNT(*) FROM workflow_results
		WHERE workflow_id = ? AND validated = 1`, workflowID)
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("has validated result: %w", err)
	}
	return n > 0, nil
}

// scanWorkflowResult reads one result from a row scanner.
func scanWorkflowResult(row interface{ Scan(...any) error }) (*models.WorkflowResult, error) {
	var r models.WorkflowResult
	var summary sql.NullString
	var submittedAt string

	err := row.Scan(&r.ID, &r.WorkflowID, &r.AgentID, &r.Path, &summary, &r.Validated, &submittedAt)
	if err != nil {
		return nil, err
	}

	r.Summary = summary.String
	r.SubmittedAt, _ = parseTime(submittedAt)
	return &r, nil
}
