package git

import (
	"fmt"
	"time"
)

// FakeRunner is an in-memory Runner for tests. Branch heads, conflicts, and
// file timestamps are plain fields the test seeds directly. All At() views
// share the same state; Dir records the most recent directory.
type FakeRunner struct {
	Dir     string
	Current string
	// Branches maps branch name to head SHA.
	Branches map[string]string
	// Dirty reports uncommitted changes until the next commit.
	Dirty bool
	// Conflicts are the files the next merge will conflict on.
	Conflicts []string
	// FileTimes maps ref -> path -> last commit time.
	FileTimes map[string]map[string]time.Time
	// Ancestors holds "ancestor..descendant" pairs that are reachable.
	Ancestors map[string]bool
	// Worktrees lists materialized worktree paths.
	Worktrees []string
	// Ops records every operation for assertions.
	Ops []string
	// Err, when set, fails every operation.
	Err error

	commits int
}

// NewFakeRunner returns a fake positioned on branch main.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Current:   "main",
		Branches:  map[string]string{"main": "sha-main"},
		FileTimes: map[string]map[string]time.Time{},
		Ancestors: map[string]bool{},
	}
}

func (f *FakeRunner) record(op string, args ...any) {
	f.Ops = append(f.Ops, fmt.Sprintf(op, args...))
}

func (f *FakeRunner) nextSHA() string {
	f.commits++
	return fmt.Sprintf("sha-%d", f.commits)
}

// At returns the same fake with the directory recorded.
func (f *FakeRunner) At(dir string) Runner {
	f.Dir = dir
	return f
}

// Run records the raw command and returns empty output.
func (f *FakeRunner) Run(args ...string) (string, error) {
	f.record("run %v", args)
	return "", f.Err
}

// Branch operations

func (f *FakeRunner) CurrentBranch() (string, error) {
	return f.Current, f.Err
}

func (f *FakeRunner) CheckoutBranch(name string) error {
	if f.Err != nil {
		return f.Err
	}
	f.record("checkout %s", name)
	f.Current = name
	return nil
}

func (f *FakeRunner) BranchExists(name string) (bool, error) {
	_, ok := f.Branches[name]
	return ok, f.Err
}

func (f *FakeRunner) DeleteBranch(name string) error {
	if f.Err != nil {
		return f.Err
	}
	f.record("delete-branch %s", name)
	delete(f.Branches, name)
	return nil
}

// Diff operations

func (f *FakeRunner) Status() (string, error) {
	if f.Dirty {
		return " M file", f.Err
	}
	return "", f.Err
}

func (f *FakeRunner) HasChanges() (bool, error) {
	return f.Dirty, f.Err
}

func (f *FakeRunner) ChangedFilesRelative(branch, relativeTo string) ([]string, error) {
	return nil, f.Err
}

func (f *FakeRunner) ConflictedFiles() ([]string, error) {
	return f.Conflicts, f.Err
}

// Commit operations

func (f *FakeRunner) Add(paths ...string) error {
	if f.Err != nil {
		return f.Err
	}
	f.record("add %v", paths)
	return nil
}

func (f *FakeRunner) Commit(message string) error {
	if f.Err != nil {
		return f.Err
	}
	f.record("commit %q", message)
	f.Branches[f.Current] = f.nextSHA()
	f.Dirty = false
	f.Conflicts = nil
	return nil
}

func (f *FakeRunner) CommitAll(message string) error {
	if f.Err != nil {
		return f.Err
	}
	f.record("commit-all %q", message)
	f.Branches[f.Current] = f.nextSHA()
	f.Dirty = false
	return nil
}

func (f *FakeRunner) RevParse(ref string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	if ref == "HEAD" {
		ref = f.Current
	}
	if sha, ok := f.Branches[ref]; ok {
		return sha, nil
	}
	return ref, nil
}

func (f *FakeRunner) IsAncestor(ancestor, descendant string) (bool, error) {
	return f.Ancestors[ancestor+".."+descendant], f.Err
}

func (f *FakeRunner) FileLastCommitTime(ref, path string) (time.Time, error) {
	if f.Err != nil {
		return time.Time{}, f.Err
	}
	return f.FileTimes[ref][path], nil
}

// Merge operations

func (f *FakeRunner) MergeNoFFMessage(branch, message string) error {
	if f.Err != nil {
		return f.Err
	}
	f.record("merge %s %q", branch, message)
	if len(f.Conflicts) > 0 {
		return fmt.Errorf("merge conflict in %v", f.Conflicts)
	}
	f.Branches[f.Current] = f.nextSHA()
	return nil
}

func (f *FakeRunner) MergeAbort() error {
	f.record("merge-abort")
	f.Conflicts = nil
	return f.Err
}

func (f *FakeRunner) MergeBase(ref1, ref2 string) (string, error) {
	return "sha-base", f.Err
}

func (f *FakeRunner) HasConflicts() (bool, error) {
	return len(f.Conflicts) > 0, f.Err
}

// Worktree operations

func (f *FakeRunner) WorktreeAddNewBranch(path, branch, startPoint string) error {
	if f.Err != nil {
		return f.Err
	}
	f.record("worktree-add %s %s %s", path, branch, startPoint)
	f.Branches[branch] = startPoint
	f.Worktrees = append(f.Worktrees, path)
	return nil
}

func (f *FakeRunner) WorktreeRemove(path string) error {
	if f.Err != nil {
		return f.Err
	}
	f.record("worktree-remove %s", path)
	kept := f.Worktrees[:0]
	for _, p := range f.Worktrees {
		if p != path {
			kept = append(kept, p)
		}
	}
	f.Worktrees = kept
	return nil
}

func (f *FakeRunner) WorktreeList() ([]string, error) {
	return f.Worktrees, f.Err
}

func (f *FakeRunner) WorktreePrune() error {
	f.record("worktree-prune")
	return f.Err
}

// File operations

func (f *FakeRunner) ShowFile(ref, path string) (string, error) {
	return "", f.Err
}

func (f *FakeRunner) CheckoutOurs(path string) error {
	if f.Err != nil {
		return f.Err
	}
	f.record("checkout-ours %s", path)
	return nil
}

func (f *FakeRunner) CheckoutTheirs(path string) error {
	if f.Err != nil {
		return f.Err
	}
	f.record("checkout-theirs %s", path)
	return nil
}

var _ Runner = (*FakeRunner)(nil)
