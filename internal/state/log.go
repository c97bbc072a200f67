package state

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// AppendAgentLog appends a log row for an agent. Rows for a single agent are
// strictly ordered by the autoincrement id.
func (db *DB) AppendAgentLog(l *models.AgentLog) error {
	res, err := db.Exec(`
		INSERT INTO agent_logs (agent_id, type, content, details, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, l.AgentID, string(l.Type), l.Content, nullString(l.Details), formatTime(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("append agent log: %w", err)
	}
	l.ID, _ = res.LastInsertId()
	return nil
}

// ListAgentLogs returns an agent's log rows in arrival order, optionally
// filtered to the given types. limit <= 0 means no limit.
func (db *DB) ListAgentLogs(agentID string, limit int, types ...models.AgentLogType) ([]*models.AgentLog, error) {
	query := `SELECT id, agent_id, type, content, details, created_at
		FROM agent_logs WHERE agent_id = ?`
	args := []any{agentID}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += ` AND type IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agent logs: %w", err)
	}
	defer rows.Close()
	return scanAgentLogs(rows)
}

// LatestAgentLog returns the newest log row of the given type for an agent,
// or nil when none exists.
func (db *DB) LatestAgentLog(agentID string, logType models.AgentLogType) (*models.AgentLog, error) {
	row := db.QueryRow(`
		SELECT id, agent_id, type, content, details, created_at
		FROM agent_logs WHERE agent_id = ? AND type = ?
		ORDER BY id DESC LIMIT 1`, agentID, string(logType))
	l, err := scanAgentLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest agent log: %w", err)
	}
	return l, nil
}

// scanAgentLog reads one log row from a row scanner.
func scanAgentLog(row interface{ Scan(...any) error }) (*models.AgentLog, error) {
	var l models.AgentLog
	var logType, createdAt string
	var details sql.NullString

	err := row.Scan(&l.ID, &l.AgentID, &logType, &l.Content, &details, &createdAt)
	if err != nil {
		return nil, err
	}

	l.Type = models.AgentLogType(logType)
	l.Details = details.String
	l.CreatedAt, _ = parseTime(createdAt)
	return &l, nil
}

// scanAgentLogs reads all log rows from a result set.
func scanAgentLogs(rows *sql.Rows) ([]*models.AgentLog, error) {
	var logs []*models.AgentLog
	for rows.Next() {
		l, err := scanAgentLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
