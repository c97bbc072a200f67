// Package state provides SQLite-based state management for Hephaestus.
// All orchestrator state (tasks, agents, worktrees, workflows, tickets,
// logs, analyses) lives in a single database so crash recovery is a
// re-open and re-read.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with Hephaestus-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the path to the default Hephaestus database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "hephaestus", "hephaestus.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	// Create schema version table
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	// Apply migrations
	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Workflows},
		{2, migrationV2Tasks},
		{3, migrationV3Agents},
		{4, migrationV4Worktrees},
		{5, migrationV5Tickets},
		{6, migrationV6Logs},
		{7, migrationV7Analyses},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Workflows = `
CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	goal TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	working_dir TEXT,
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);

CREATE TABLE IF NOT EXISTS phases (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflows(id),
	phase_order INTEGER NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	done_definitions TEXT,
	validation_enabled INTEGER NOT NULL DEFAULT 0,
	working_dir TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	completed_at DATETIME,
	UNIQUE(workflow_id, phase_order)
);

CREATE INDEX IF NOT EXISTS idx_phases_workflow ON phases(workflow_id, status);

CREATE TABLE IF NOT EXISTS workflow_results (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflows(id),
	agent_id TEXT NOT NULL,
	path TEXT NOT NULL,
	summary TEXT,
	validated INTEGER NOT NULL DEFAULT 0,
	submitted_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflow_results_workflow ON workflow_results(workflow_id);
`

const migrationV2Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	raw_description TEXT NOT NULL,
	enriched_description TEXT,
	done_criterion TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	priority TEXT NOT NULL DEFAULT 'medium',
	priority_boosted INTEGER NOT NULL DEFAULT 0,
	queue_position INTEGER,
	queued_at DATETIME,
	assigned_agent_id TEXT,
	created_by_agent_id TEXT,
	parent_task_id TEXT,
	phase_id TEXT,
	workflow_id TEXT,
	ticket_id TEXT,
	embedding TEXT,
	duplicate_of_task_id TEXT,
	similarity_score REAL NOT NULL DEFAULT 0,
	related_task_ids TEXT,
	validation_enabled INTEGER NOT NULL DEFAULT 0,
	validation_iteration INTEGER NOT NULL DEFAULT 0,
	estimated_complexity INTEGER NOT NULL DEFAULT 0,
	has_results INTEGER NOT NULL DEFAULT 0,
	completion_notes TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_workflow_status ON tasks(workflow_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_phase ON tasks(phase_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(assigned_agent_id);
CREATE INDEX IF NOT EXISTS idx_tasks_queue ON tasks(status, priority_boosted, priority, queued_at);
`

const migrationV3Agents = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'working',
	session_name TEXT NOT NULL UNIQUE,
	agent_type TEXT NOT NULL DEFAULT 'phase',
	current_task_id TEXT,
	working_dir TEXT,
	last_activity DATETIME NOT NULL,
	health_check_failures INTEGER NOT NULL DEFAULT 0,
	kept_alive_for_validation INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	terminated_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
CREATE INDEX IF NOT EXISTS idx_agents_task ON agents(current_task_id);
CREATE INDEX IF NOT EXISTS idx_agents_type ON agents(agent_type, status);
`

const migrationV4Worktrees = `
CREATE TABLE IF NOT EXISTS worktrees (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	parent_agent_id TEXT,
	branch TEXT NOT NULL,
	parent_branch TEXT NOT NULL,
	path TEXT NOT NULL,
	parent_commit_sha TEXT,
	base_commit_sha TEXT,
	merge_status TEXT NOT NULL DEFAULT 'active',
	merge_commit_sha TEXT,
	created_at DATETIME NOT NULL,
	UNIQUE(branch)
);

CREATE INDEX IF NOT EXISTS idx_worktrees_agent ON worktrees(agent_id);
CREATE INDEX IF NOT EXISTS idx_worktrees_status ON worktrees(merge_status);

CREATE TABLE IF NOT EXISTS merge_resolutions (
	id TEXT PRIMARY KEY,
	worktree_id TEXT NOT NULL REFERENCES worktrees(id),
	file_path TEXT NOT NULL,
	chosen_side TEXT NOT NULL,
	child_modified DATETIME,
	parent_modified DATETIME,
	resolved_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_merge_resolutions_worktree ON merge_resolutions(worktree_id);
`

const migrationV5Tickets = `
CREATE TABLE IF NOT EXISTS tickets (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL REFERENCES workflows(id),
	title TEXT NOT NULL,
	description TEXT,
	type TEXT NOT NULL,
	priority TEXT NOT NULL DEFAULT 'medium',
	status TEXT NOT NULL,
	parent_ticket_id TEXT,
	blocked_by_ticket_ids TEXT,
	tags TEXT,
	embedding TEXT,
	resolved INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tickets_workflow_status ON tickets(workflow_id, status);
CREATE INDEX IF NOT EXISTS idx_tickets_resolved ON tickets(resolved);

CREATE VIRTUAL TABLE IF NOT EXISTS tickets_fts USING fts5(
	ticket_id UNINDEXED,
	title,
	description,
	tags
);

CREATE TABLE IF NOT EXISTS board_configs (
	workflow_id TEXT PRIMARY KEY REFERENCES workflows(id),
	columns TEXT NOT NULL,
	ticket_types TEXT NOT NULL,
	initial_status TEXT NOT NULL,
	auto_link_commits INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS ticket_comments (
	id TEXT PRIMARY KEY,
	ticket_id TEXT NOT NULL REFERENCES tickets(id),
	author TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ticket_comments_ticket ON ticket_comments(ticket_id);

CREATE TABLE IF NOT EXISTS ticket_history (
	id TEXT PRIMARY KEY,
	ticket_id TEXT NOT NULL REFERENCES tickets(id),
	kind TEXT NOT NULL,
	from_status TEXT,
	to_status TEXT,
	detail TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ticket_history_ticket ON ticket_history(ticket_id);

CREATE TABLE IF NOT EXISTS ticket_commits (
	id TEXT PRIMARY KEY,
	ticket_id TEXT NOT NULL REFERENCES tickets(id),
	commit_sha TEXT NOT NULL,
	task_id TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ticket_commits_ticket ON ticket_commits(ticket_id);
`

const migrationV6Logs = `
CREATE TABLE IF NOT EXISTS agent_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	details TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agent_logs_agent ON agent_logs(agent_id, id);
`

const migrationV7Analyses = `
CREATE TABLE IF NOT EXISTS guardian_analyses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	current_phase TEXT,
	trajectory_aligned INTEGER NOT NULL DEFAULT 1,
	alignment_score REAL NOT NULL DEFAULT 1.0,
	alignment_issues TEXT,
	needs_steering INTEGER NOT NULL DEFAULT 0,
	steering_type TEXT,
	steering_recommendation TEXT,
	trajectory_summary TEXT,
	last_message_marker TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_guardian_analyses_agent ON guardian_analyses(agent_id, id);

CREATE TABLE IF NOT EXISTS conductor_analyses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	coherence_score REAL NOT NULL DEFAULT 1.0,
	agents_analyzed INTEGER NOT NULL DEFAULT 0,
	system_summary TEXT,
	decisions TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS detected_duplicates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_id INTEGER NOT NULL REFERENCES conductor_analyses(id),
	agent1_id TEXT NOT NULL,
	agent2_id TEXT NOT NULL,
	similarity REAL NOT NULL DEFAULT 0,
	work TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS steering_interventions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	steering_type TEXT NOT NULL,
	message TEXT NOT NULL,
	delivered INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_steering_agent ON steering_interventions(agent_id, created_at);

CREATE TABLE IF NOT EXISTS diagnostic_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workflow_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	context TEXT,
	created_task_ids TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_diagnostic_runs_workflow ON diagnostic_runs(workflow_id, created_at);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// formatNullableTime formats an optional time for SQLite storage.
func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

// encodeStrings serializes a string slice as JSON for storage.
// Empty slices store as NULL.
func encodeStrings(ss []string) any {
	if len(ss) == 0 {
		return nil
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

// decodeStrings deserializes a JSON string slice column.
func decodeStrings(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(s.String), &ss); err != nil {
		return nil
	}
	return ss
}

// encodeVector serializes an embedding as JSON for storage.
func encodeVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// decodeVector deserializes a JSON embedding column.
func decodeVector(s sql.NullString) []float32 {
	if !s.Valid || s.String == "" {
		return nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil
	}
	return v
}
