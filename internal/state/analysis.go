package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// CreateGuardianAnalysis appends a Guardian analysis row.
func (db *DB) CreateGuardianAnalysis(a *models.GuardianAnalysis) error {
	res, err := db.Exec(`
		INSERT INTO guardian_analyses (agent_id, current_phase, trajectory_aligned,
			alignment_score, alignment_issues, needs_steering, steering_type,
			steering_recommendation, trajectory_summary, last_message_marker, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.AgentID, a.CurrentPhase, a.TrajectoryAligned, a.AlignmentScore,
		encodeStrings(a.AlignmentIssues), a.NeedsSteering, string(a.SteeringType),
		a.SteeringRecommendation, a.TrajectorySummary, a.LastMessageMarker,
		formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("create guardian analysis: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

// ListGuardianAnalyses returns up to limit analyses for an agent, newest first.
func (db *DB) ListGuardianAnalyses(agentID string, limit int) ([]*models.GuardianAnalysis, error) {
	rows, err := db.Query(`
		SELECT id, agent_id, current_phase, trajectory_aligned, alignment_score,
			alignment_issues, needs_steering, steering_type, steering_recommendation,
			trajectory_summary, last_message_marker, created_at
		FROM guardian_analyses WHERE agent_id = ?
		ORDER BY id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list guardian analyses: %w", err)
	}
	defer rows.Close()

	var analyses []*models.GuardianAnalysis
	for rows.Next() {
		var a models.GuardianAnalysis
		var currentPhase, issues, steeringType, recommendation, summary, marker sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.AgentID, &currentPhase, &a.TrajectoryAligned,
			&a.AlignmentScore, &issues, &a.NeedsSteering, &steeringType,
			&recommendation, &summary, &marker, &createdAt); err != nil {
			return nil, fmt.Errorf("scan guardian analysis: %w", err)
		}
		a.CurrentPhase = currentPhase.String
		a.AlignmentIssues = decodeStrings(issues)
		a.SteeringType = models.SteeringType(steeringType.String)
		a.SteeringRecommendation = recommendation.String
		a.TrajectorySummary = summary.String
		a.LastMessageMarker = marker.String
		a.CreatedAt, _ = parseTime(createdAt)
		analyses = append(analyses, &a)
	}
	return analyses, rows.Err()
}

// CreateConductorAnalysis appends a Conductor analysis row.
func (db *DB) CreateConductorAnalysis(a *models.ConductorAnalysis) error {
	res, err := db.Exec(`
		INSERT INTO conductor_analyses (coherence_score, agents_analyzed, system_summary, decisions, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.CoherenceScore, a.AgentsAnalyzed, a.SystemSummary, nullString(a.Decisions),
		formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("create conductor analysis: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

// ListRecentConductorAnalyses returns up to limit analyses, newest first.
func (db *DB) ListRecentConductorAnalyses(limit int) ([]*models.ConductorAnalysis, error) {
	rows, err := db.Query(`
		SELECT id, coherence_score, agents_analyzed, system_summary, decisions, created_at
		FROM conductor_analyses ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conductor analyses: %w", err)
	}
	defer rows.Close()

	var analyses []*models.ConductorAnalysis
	for rows.Next() {
		var a models.ConductorAnalysis
		var summary, decisions sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.CoherenceScore, &a.AgentsAnalyzed, &summary,
			&decisions, &createdAt); err != nil {
			return nil, fmt.Errorf("scan conductor analysis: %w", err)
		}
		a.SystemSummary = summary.String
		a.Decisions = decisions.String
		a.CreatedAt, _ = parseTime(createdAt)
		analyses = append(analyses, &a)
	}
	return analyses, rows.Err()
}

// CreateDetectedDuplicate appends a detected-duplicate row.
func (db *DB) CreateDetectedDuplicate(d *models.DetectedDuplicate) error {
	res, err := db.Exec(`
		INSERT INTO detected_duplicates (analysis_id, agent1_id, agent2_id, similarity, work, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.AnalysisID, d.Agent1ID, d.Agent2ID, d.Similarity, nullString(d.Work),
		formatTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("create detected duplicate: %w", err)
	}
	d.ID, _ = res.LastInsertId()
	return nil
}

// CreateSteeringIntervention appends a steering delivery or discard record.
func (db *DB) CreateSteeringIntervention(s *models.SteeringIntervention) error {
	res, err := db.Exec(`
		INSERT INTO steering_interventions (agent_id, steering_type, message, delivered, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.AgentID, string(s.SteeringType), s.Message, s.Delivered, formatTime(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("create steering intervention: %w", err)
	}
	s.ID, _ = res.LastInsertId()
	return nil
}

// LastDeliveredSteering returns when the agent last received a delivered
// steering message, or nil when it never has. Discarded sends do not count
// against the throttle.
func (db *DB) LastDeliveredSteering(agentID string) (*time.Time, error) {
	var createdAt sql.NullString
	row := db.QueryRow(`SELECT MAX(created_at) FROM steering_interventions
		WHERE agent_id = ? AND delivered = 1`, agentID)
	if err := row.Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("last delivered steering: %w", err)
	}
	return parseNullableTime(createdAt), nil
}

// CreateDiagnosticRun appends a diagnostic-run record.
func (db *DB) CreateDiagnosticRun(r *models.DiagnosticRun) error {
	res, err := db.Exec(`
		INSERT INTO diagnostic_runs (workflow_id, agent_id, task_id, context, created_task_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.WorkflowID, r.AgentID, r.TaskID, nullString(r.Context),
		encodeStrings(r.CreatedTaskIDs), formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("create diagnostic run: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// LastDiagnosticRun returns the newest diagnostic run for a workflow, or nil.
func (db *DB) LastDiagnosticRun(workflowID string) (*models.DiagnosticRun, error) {
	row := db.QueryRow(`
		SELECT id, workflow_id, agent_id, task_id, context, created_task_ids, created_at
		FROM diagnostic_runs WHERE workflow_id = ?
		ORDER BY id DESC LIMIT 1`, workflowID)

	var r models.DiagnosticRun
	var context, createdIDs sql.NullString
	var createdAt string
	err := row.Scan(&r.ID, &r.WorkflowID, &r.AgentID, &r.TaskID, &context, &createdIDs, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last diagnostic run: %w", err)
	}
	r.Context = context.String
	r.CreatedTaskIDs = decodeStrings(createdIDs)
	r.CreatedAt, _ = parseTime(createdAt)
	return &r, nil
}
