package state

import (
	"database/sql"
	"fmt"

	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

const worktreeColumns = `id, agent_id, parent_agent_id, branch, parent_branch, path,
	parent_commit_sha, base_commit_sha, merge_status, merge_commit_sha, created_at`

// CreateWorktree inserts a new worktree record.
func (db *DB) CreateWorktree(w *models.Worktree) error {
	_, err := db.Exec(`
		INSERT INTO worktrees (`+worktreeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.AgentID, nullString(w.ParentAgentID), w.Branch, w.ParentBranch, w.Path,
		w.ParentCommitSHA, w.BaseCommitSHA, string(w.MergeStatus),
		nullString(w.MergeCommitSHA), formatTime(w.CreatedAt))
	if err != nil {
		return fmt.Errorf("create worktree %s: %w", w.ID, err)
	}
	return nil
}

// GetWorktree retrieves a worktree by ID. Returns nil if not found.
func (db *DB) GetWorktree(id string) (*models.Worktree, error) {
	row := db.QueryRow(`SELECT `+worktreeColumns+` FROM worktrees WHERE id = ?`, id)
	w, err := scanWorktree(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get worktree %s: %w", id, err)
	}
	return w, nil
}

// GetWorktreeByAgent retrieves an agent's worktree, preferring the active one.
// Returns nil if the agent has no worktree.
func (db *DB) GetWorktreeByAgent(agentID string) (*models.Worktree, error) {
	row := db.QueryRow(`SELECT `+worktreeColumns+` FROM worktrees
		WHERE agent_id = ?
		ORDER BY CASE merge_status WHEN 'active' THEN 0 ELSE 1 END, created_at DESC
		LIMIT 1`, agentID)
	w, err := scanWorktree(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get worktree by agent %s: %w", agentID, err)
	}
	return w, nil
}

// UpdateWorktree persists the mutable fields of a worktree.
func (db *DB) UpdateWorktree(w *models.Worktree) error {
	res, err := db.Exec(`
		UPDATE worktrees SET
			parent_commit_sha = ?, base_commit_sha = ?, merge_status = ?, merge_commit_sha = ?
		WHERE id = ?
	`, w.ParentCommitSHA, w.BaseCommitSHA, string(w.MergeStatus),
		nullString(w.MergeCommitSHA), w.ID)
	if err != nil {
		return fmt.Errorf("update worktree %s: %w", w.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update worktree %s: not found", w.ID)
	}
	return nil
}

// ListWorktreesByStatus returns worktrees in the given merge status.
func (db *DB) ListWorktreesByStatus(status models.MergeStatus) ([]*models.Worktree, error) {
	rows, err := db.Query(`SELECT `+worktreeColumns+` FROM worktrees
		WHERE merge_status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list worktrees by status: %w", err)
	}
	defer rows.Close()

	var trees []*models.Worktree
	for rows.Next() {
		w, err := scanWorktree(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worktree: %w", err)
		}
		trees = append(trees, w)
	}
	return trees, rows.Err()
}

// CreateMergeResolution records one file-level conflict resolution.
func (db *DB) CreateMergeResolution(r *models.MergeResolution) error {
	_, err := db.Exec(`
		INSERT INTO merge_resolutions (id, worktree_id, file_path, chosen_side,
			child_modified, parent_modified, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.WorktreeID, r.FilePath, r.ChosenSide,
		formatTime(r.ChildModified), formatTime(r.ParentModified), formatTime(r.ResolvedAt))
	if err != nil {
		return fmt.Errorf("create merge resolution: %w", err)
	}
	return nil
}

// ListMergeResolutions returns the conflict resolutions for a worktree.
func (db *DB) ListMergeResolutions(worktreeID string) ([]*models.MergeResolution, error) {
	rows, err := db.Query(`
		SELECT id, worktree_id, file_path, chosen_side, child_modified, parent_modified, resolved_at
		FROM merge_resolutions WHERE worktree_id = ? ORDER BY resolved_at`, worktreeID)
	if err != nil {
		return nil, fmt.Errorf("list merge resolutions: %w", err)
	}
	defer rows.Close()

	var resolutions []*models.MergeResolution
	for rows.Next() {
		var r models.MergeResolution
		var childMod, parentMod, resolvedAt string
		if err := rows.Scan(&r.ID, &r.WorktreeID, &r.FilePath, &r.ChosenSide,
			&childMod, &parentMod, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan merge resolution: %w", err)
		}
		r.ChildModified, _ = parseTime(childMod)
		r.ParentModified, _ = parseTime(parentMod)
		r.ResolvedAt, _ = parseTime(resolvedAt)
		resolutions = append(resolutions, &r)
	}
	return resolutions, rows.Err()
}

// scanWorktree reads one worktree from a row scanner.
func scanWorktree(row interface{ Scan(...any) error }) (*models.Worktree, error) {
	var w models.Worktree
	var parentAgent, mergeCommit sql.NullString
	var mergeStatus, createdAt string

	err := row.Scan(&w.ID, &w.AgentID, &parentAgent, &w.Branch, &w.ParentBranch, &w.Path,
		&w.ParentCommitSHA, &w.BaseCommitSHA, &mergeStatus, &mergeCommit, &createdAt)
	if err != nil {
		return nil, err
	}

	w.ParentAgentID = parentAgent.String
	w.MergeStatus = models.MergeStatus(mergeStatus)
	w.MergeCommitSHA = mergeCommit.String
	w.CreatedAt, _ = parseTime(createdAt)
	return &w, nil
}
