package state

import (
	"database/sql"
	"fmt"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

const agentColumns = `id, status, session_name, agent_type, current_task_id,
	working_dir, last_activity, health_check_failures, kept_alive_for_validation,
	created_at, terminated_at`

// CreateAgent inserts a new agent.
func (db *DB) CreateAgent(a *models.Agent) error {
	_, err := db.Exec(`
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.Status), a.SessionName, string(a.AgentType),
		nullString(a.CurrentTaskID), a.WorkingDir, formatTime(a.LastActivity),
		a.HealthCheckFailures, a.KeptAliveForValidation,
		formatTime(a.CreatedAt), formatNullableTime(a.TerminatedAt))
	if err != nil {
		return fmt.Errorf("create agent %s: %w", a.ID, err)
	}
	return nil
}

// GetAgent retrieves an agent by ID. Returns nil if not found.
func (db *DB) GetAgent(id string) (*models.Agent, error) {
	row := db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

// GetAgentBySession retrieves a non-terminated agent by session name.
// Returns nil if no live agent owns the session.
func (db *DB) GetAgentBySession(sessionName string) (*models.Agent, error) {
	row := db.QueryRow(`SELECT `+agentColumns+` FROM agents
		WHERE session_name = ? AND status != 'terminated'`, sessionName)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent by session %s: %w", sessionName, err)
	}
	return a, nil
}

// UpdateAgent persists every mutable field of an agent.
func (db *DB) UpdateAgent(a *models.Agent) error {
	res, err := db.Exec(`
		UPDATE agents SET
			status = ?, session_name = ?, agent_type = ?, current_task_id = ?,
			working_dir = ?, last_activity = ?, health_check_failures = ?,
			kept_alive_for_validation = ?, created_at = ?, terminated_at = ?
		WHERE id = ?
	`, string(a.Status), a.SessionName, string(a.AgentType), nullString(a.CurrentTaskID),
		a.WorkingDir, formatTime(a.LastActivity), a.HealthCheckFailures,
		a.KeptAliveForValidation, formatTime(a.CreatedAt),
		formatNullableTime(a.TerminatedAt), a.ID)
	if err != nil {
		return fmt.Errorf("update agent %s: %w", a.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update agent %s: not found", a.ID)
	}
	return nil
}

// ListActiveAgents returns all agents with status other than terminated.
func (db *DB) ListActiveAgents() ([]*models.Agent, error) {
	rows, err := db.Query(`SELECT ` + agentColumns + ` FROM agents
		WHERE status != 'terminated' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// CountActiveAgents returns the number of non-terminated agents.
// This is the count admission control compares against the concurrency cap.
func (db *DB) CountActiveAgents() (int, error) {
	var n int
	row := db.QueryRow(`SELECT COUNT(*) FROM agents WHERE status != 'terminated'`)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count active agents: %w", err)
	}
	return n, nil
}

// ListRecentTerminatedAgents returns up to limit terminated agents, newest first.
func (db *DB) ListRecentTerminatedAgents(limit int) ([]*models.Agent, error) {
	rows, err := db.Query(`SELECT `+agentColumns+` FROM agents
		WHERE status = 'terminated' ORDER BY terminated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list terminated agents: %w", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// scanAgent reads one agent from a row scanner.
func scanAgent(row interface{ Scan(...any) error }) (*models.Agent, error) {
	var a models.Agent
	var status, agentType string
	var taskID sql.NullString
	var lastActivity, createdAt string
	var terminatedAt sql.NullString

	err := row.Scan(&a.ID, &status, &a.SessionName, &agentType, &taskID,
		&a.WorkingDir, &lastActivity, &a.HealthCheckFailures, &a.KeptAliveForValidation,
		&createdAt, &terminatedAt)
	if err != nil {
		return nil, err
	}

	a.Status = models.AgentStatus(status)
	a.AgentType = models.AgentType(agentType)
	a.CurrentTaskID = taskID.String
	a.LastActivity, _ = parseTime(lastActivity)
	a.CreatedAt, _ = parseTime(createdAt)
	a.TerminatedAt = parseNullableTime(terminatedAt)
	return &a, nil
}

// scanAgents reads all agents from a result set.
func scanAgents(rows *sql.Rows) ([]*models.Agent, error) {
	var agents []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}
