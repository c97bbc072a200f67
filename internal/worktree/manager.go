// Package worktree manages per-agent git worktrees: creation on private
// branches, validation commits, timestamp-based merge back to the parent,
// and cleanup.
package worktree

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-dev/hephaestus/internal/git"
	"github.com/hephaestus-dev/hephaestus/internal/state"
	"github.com/hephaestus-dev/hephaestus/pkg/models"
)

// branchPrefix namespaces agent branches in the main repository.
const branchPrefix = "hph/agent-"

// Manager creates, merges, and cleans up agent worktrees.
type Manager struct {
	db       *state.DB
	git      git.Runner
	mainRepo string
	base     string
}

// NewManager creates a worktree manager. base is where trees are
// materialized; empty means a .hephaestus/worktrees directory inside the
// main repository.
func NewManager(db *state.DB, runner git.Runner, mainRepo, base string) *Manager {
	if base == "" {
		base = filepath.Join(mainRepo, ".hephaestus", "worktrees")
	}
	return &Manager{db: db, git: runner, mainRepo: mainRepo, base: base}
}

// BranchFor returns the deterministic branch name for an agent.
func BranchFor(agentID string) string {
	short := agentID
	if len(short) > 8 {
		short = short[:8]
	}
	return branchPrefix + short
}

// Create forks a fresh worktree for the agent. With a parent agent the new
// branch starts at the parent's branch head; otherwise it starts at the main
// repository's current branch.
func (m *Manager) Create(ctx context.Context, agentID, parentAgentID string) (*models.Worktree, error) {
	parentBranch, err := m.parentBranch(parentAgentID)
	if err != nil {
		return nil, err
	}

	main := m.git.At(m.mainRepo)
	parentSHA, err := main.RevParse(parentBranch)
	if err != nil {
		return nil, fmt.Errorf("resolve parent branch %s: %w", parentBranch, err)
	}

	branch := BranchFor(agentID)
	path := filepath.Join(m.base, branch[len(branchPrefix):])
	if err := main.WorktreeAddNewBranch(path, branch, parentSHA); err != nil {
		return nil, fmt.Errorf("create worktree for agent %s: %w", agentID, err)
	}

	tree := &models.Worktree{
		ID:              uuid.New().String(),
		AgentID:         agentID,
		ParentAgentID:   parentAgentID,
		Branch:          branch,
		ParentBranch:    parentBranch,
		Path:            path,
		ParentCommitSHA: parentSHA,
		BaseCommitSHA:   parentSHA,
		MergeStatus:     models.MergeStatusActive,
		CreatedAt:       time.Now().UTC(),
	}
	if err := m.db.CreateWorktree(tree); err != nil {
		// Roll the tree back so no orphan checkout survives a DB failure.
		if rmErr := main.WorktreeRemove(path); rmErr != nil {
			log.Printf("[worktree] rollback remove %s: %v", path, rmErr)
		}
		return nil, err
	}
	return tree, nil
}

// parentBranch resolves where a new branch forks from.
func (m *Manager) parentBranch(parentAgentID string) (string, error) {
	if parentAgentID == "" {
		branch, err := m.git.At(m.mainRepo).CurrentBranch()
		if err != nil {
			return "", fmt.Errorf("resolve default branch: %w", err)
		}
		return branch, nil
	}
	parentTree, err := m.db.GetWorktreeByAgent(parentAgentID)
	if err != nil {
		return "", err
	}
	if parentTree == nil {
		return "", fmt.Errorf("parent agent %s has no worktree", parentAgentID)
	}
	return parentTree.Branch, nil
}

// CommitForValidation stages everything in the agent's tree and commits a
// validation checkpoint. Returns the head SHA; with nothing to commit the
// current head is returned unchanged.
func (m *Manager) CommitForValidation(ctx context.Context, agentID string, iteration int) (string, error) {
	tree, err := m.activeTree(agentID)
	if err != nil {
		return "", err
	}

	repo := m.git.At(tree.Path)
	dirty, err := repo.HasChanges()
	if err != nil {
		return "", fmt.Errorf("check changes for agent %s: %w", agentID, err)
	}
	if dirty {
		msg := fmt.Sprintf("checkpoint: validation iteration %d", iteration)
		if err := repo.CommitAll(msg); err != nil {
			return "", fmt.Errorf("commit validation checkpoint for agent %s: %w", agentID, err)
		}
	}
	sha, err := repo.RevParse("HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve head for agent %s: %w", agentID, err)
	}
	return sha, nil
}

// MergeToParent three-way merges the agent's branch into its parent branch.
// File-level conflicts resolve to the side with the newer last-commit time
// for that file, ties to the child. Every resolution is recorded. The merge
// is idempotent: an already-merged tree returns its recorded merge commit,
// and a child already reachable from the parent returns the parent head as
// a no-op.
func (m *Manager) MergeToParent(ctx context.Context, agentID string) (string, error) {
	tree, err := m.db.GetWorktreeByAgent(agentID)
	if err != nil {
		return "", err
	}
	if tree == nil {
		return "", fmt.Errorf("agent %s has no worktree", agentID)
	}
	if tree.MergeStatus == models.MergeStatusMerged {
		return tree.MergeCommitSHA, nil
	}
	if tree.MergeStatus != models.MergeStatusActive {
		return "", fmt.Errorf("worktree %s for agent %s is %s, not active",
			tree.ID, agentID, tree.MergeStatus)
	}

	parentPath, err := m.parentPath(tree)
	if err != nil {
		return "", err
	}
	parent := m.git.At(parentPath)

	childHead, err := parent.RevParse(tree.Branch)
	if err != nil {
		return "", fmt.Errorf("resolve child head: %w", err)
	}
	parentHead, err := parent.RevParse(tree.ParentBranch)
	if err != nil {
		return "", fmt.Errorf("resolve parent head: %w", err)
	}

	merged, err := parent.IsAncestor(childHead, parentHead)
	if err != nil {
		return "", fmt.Errorf("ancestor check: %w", err)
	}
	if merged {
		m.markMerged(tree, parentHead)
		return parentHead, nil
	}

	if err := parent.CheckoutBranch(tree.ParentBranch); err != nil {
		return "", fmt.Errorf("checkout parent branch %s: %w", tree.ParentBranch, err)
	}

	msg := fmt.Sprintf("merge %s into %s", tree.Branch, tree.ParentBranch)
	mergeErr := parent.MergeNoFFMessage(tree.Branch, msg)
	if mergeErr != nil {
		conflicts, err := parent.ConflictedFiles()
		if err != nil || len(conflicts) == 0 {
			if abortErr := parent.MergeAbort(); abortErr != nil {
				log.Printf("[worktree] merge abort for agent %s: %v", agentID, abortErr)
			}
			return "", fmt.Errorf("merge agent %s: %w", agentID, mergeErr)
		}
		if err := m.resolveConflicts(parent, tree, conflicts); err != nil {
			if abortErr := parent.MergeAbort(); abortErr != nil {
				log.Printf("[worktree] merge abort for agent %s: %v", agentID, abortErr)
			}
			return "", err
		}
		if err := parent.Commit(msg); err != nil {
			return "", fmt.Errorf("conclude merge for agent %s: %w", agentID, err)
		}
	}

	mergeSHA, err := parent.RevParse("HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve merge commit: %w", err)
	}
	m.markMerged(tree, mergeSHA)
	return mergeSHA, nil
}

// resolveConflicts applies the newer-file-wins policy and records every
// choice in the audit table.
func (m *Manager) resolveConflicts(parent git.Runner, tree *models.Worktree, conflicts []string) error {
	for _, file := range conflicts {
		childMod, err := parent.FileLastCommitTime(tree.Branch, file)
		if err != nil {
			return fmt.Errorf("child mtime for %s: %w", file, err)
		}
		parentMod, err := parent.FileLastCommitTime(tree.ParentBranch, file)
		if err != nil {
			return fmt.Errorf("parent mtime for %s: %w", file, err)
		}

		// Merging runs on the parent branch, so "theirs" is the child.
		side := "child"
		if parentMod.After(childMod) {
			side = "parent"
		}
		if side == "child" {
			err = parent.CheckoutTheirs(file)
		} else {
			err = parent.CheckoutOurs(file)
		}
		if err != nil {
			return fmt.Errorf("resolve %s as %s: %w", file, side, err)
		}
		if err := parent.Add(file); err != nil {
			return fmt.Errorf("stage resolved %s: %w", file, err)
		}

		resolution := &models.MergeResolution{
			ID:             uuid.New().String(),
			WorktreeID:     tree.ID,
			FilePath:       file,
			ChosenSide:     side,
			ChildModified:  childMod,
			ParentModified: parentMod,
			ResolvedAt:     time.Now().UTC(),
		}
		if err := m.db.CreateMergeResolution(resolution); err != nil {
			log.Printf("[worktree] record resolution for %s: %v", file, err)
		}
	}
	return nil
}

// markMerged persists the terminal merged state; storage failures are logged
// because the git merge itself already happened.
func (m *Manager) markMerged(tree *models.Worktree, mergeSHA string) {
	tree.MergeStatus = models.MergeStatusMerged
	tree.MergeCommitSHA = mergeSHA
	if err := m.db.UpdateWorktree(tree); err != nil {
		log.Printf("[worktree] mark merged %s: %v", tree.ID, err)
	}
}

// parentPath returns the checkout the merge runs in: the parent agent's tree
// when one exists, else the main repository.
func (m *Manager) parentPath(tree *models.Worktree) (string, error) {
	if tree.ParentAgentID == "" {
		return m.mainRepo, nil
	}
	parentTree, err := m.db.GetWorktreeByAgent(tree.ParentAgentID)
	if err != nil {
		return "", err
	}
	if parentTree == nil || parentTree.MergeStatus != models.MergeStatusActive {
		return m.mainRepo, nil
	}
	return parentTree.Path, nil
}

// Abandon marks the agent's worktree abandoned. The on-disk tree stays until
// Cleanup runs.
func (m *Manager) Abandon(ctx context.Context, agentID string) error {
	tree, err := m.activeTree(agentID)
	if err != nil {
		return err
	}
	tree.MergeStatus = models.MergeStatusAbandoned
	if err := m.db.UpdateWorktree(tree); err != nil {
		return err
	}
	return nil
}

// Cleanup removes the on-disk trees and branches of abandoned worktrees and
// prunes stale worktree metadata. Per-tree failures are logged and skipped.
// Returns how many trees were cleaned.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	trees, err := m.db.ListWorktreesByStatus(models.MergeStatusAbandoned)
	if err != nil {
		return 0, err
	}

	main := m.git.At(m.mainRepo)
	cleaned := 0
	for _, tree := range trees {
		if err := main.WorktreeRemove(tree.Path); err != nil {
			log.Printf("[worktree] cleanup remove %s: %v", tree.Path, err)
		}
		if err := main.DeleteBranch(tree.Branch); err != nil {
			log.Printf("[worktree] cleanup delete branch %s: %v", tree.Branch, err)
		}
		tree.MergeStatus = models.MergeStatusCleaned
		if err := m.db.UpdateWorktree(tree); err != nil {
			log.Printf("[worktree] cleanup mark %s: %v", tree.ID, err)
			continue
		}
		cleaned++
	}
	if err := main.WorktreePrune(); err != nil {
		log.Printf("[worktree] prune: %v", err)
	}
	return cleaned, nil
}

// activeTree loads the agent's worktree and refuses terminal ones.
func (m *Manager) activeTree(agentID string) (*models.Worktree, error) {
	tree, err := m.db.GetWorktreeByAgent(agentID)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, fmt.Errorf("agent %s has no worktree", agentID)
	}
	if tree.MergeStatus != models.MergeStatusActive {
		return nil, fmt.Errorf("worktree %s for agent %s is %s, not active",
			tree.ID, agentID, tree.MergeStatus)
	}
	return tree, nil
}
