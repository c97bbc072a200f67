package models

import "time"

// MergeStatus represents the lifecycle state of a worktree.
type MergeStatus string

const (
	// MergeStatusActive indicates the worktree is in use by its agent.
	MergeStatusActive MergeStatus = "active"
	// MergeStatusMerged indicates the branch was merged back to its parent.
	MergeStatusMerged MergeStatus = "merged"
	// MergeStatusAbandoned indicates the worktree was given up without merging.
	MergeStatusAbandoned MergeStatus = "abandoned"
	// MergeStatusCleaned indicates the on-disk tree has been removed.
	MergeStatusCleaned MergeStatus = "cleaned"
)

// Valid returns true if the status is a known value.
func (s MergeStatus) Valid() bool {
	switch s {
	case MergeStatusActive, MergeStatusMerged, MergeStatusAbandoned, MergeStatusCleaned:
		return true
	default:
		return false
	}
}

// Terminal returns true once the worktree can no longer change state
// (other than cleanup of an abandoned tree).
func (s MergeStatus) Terminal() bool {
	return s == MergeStatusMerged || s == MergeStatusAbandoned || s == MergeStatusCleaned
}

// Worktree represents an isolated working tree on a private branch,
// owned by exactly one agent.
type Worktree struct {
	// ID is the unique identifier for this worktree.
	ID string `json:"id"`
	// AgentID is the owning agent.
	AgentID string `json:"agent_id"`
	// ParentAgentID is set for nested worktrees forked from another agent's branch.
	ParentAgentID string `json:"parent_agent_id,omitempty"`
	// Branch is the private branch name. Unique across worktrees.
	Branch string `json:"branch"`
	// ParentBranch is the branch the worktree was forked from and merges back into.
	ParentBranch string `json:"parent_branch"`
	// Path is the on-disk location of the working tree.
	Path string `json:"path"`
	// ParentCommitSHA is the head of the parent branch at fork time.
	ParentCommitSHA string `json:"parent_commit_sha"`
	// BaseCommitSHA is the first commit on the private branch.
	BaseCommitSHA string `json:"base_commit_sha"`
	// MergeStatus is the lifecycle state.
	MergeStatus MergeStatus `json:"merge_status"`
	// MergeCommitSHA records the merge commit after a successful merge.
	MergeCommitSHA string `json:"merge_commit_sha,omitempty"`
	// CreatedAt is when the worktree was created.
	CreatedAt time.Time `json:"created_at"`
}

// MergeResolution records one file-level conflict resolution during a merge.
type MergeResolution struct {
	// ID is the unique identifier for this resolution record.
	ID string `json:"id"`
	// WorktreeID is the worktree whose merge produced the conflict.
	WorktreeID string `json:"worktree_id"`
	// FilePath is the conflicted file.
	FilePath string `json:"file_path"`
	// ChosenSide is "child" or "parent".
	ChosenSide string `json:"chosen_side"`
	// ChildModified is the child branch's last modification time for the file.
	ChildModified time.Time `json:"child_modified"`
	// ParentModified is the parent branch's last modification time for the file.
	ParentModified time.Time `json:"parent_modified"`
	// ResolvedAt is when the resolution was applied.
	ResolvedAt time.Time `json:"resolved_at"`
}
