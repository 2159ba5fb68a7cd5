// Package git provides an interface for git operations.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(name string) error
	// CommitsAhead counts commits on branch that are not on base.
	CommitsAhead(base, branch string) (int, error)
}

// CommitOperations defines the interface for git commit operations.
type CommitOperations interface {
	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// HasStagedChanges returns true if the index differs from HEAD.
	HasStagedChanges() (bool, error)
	// AddAll stages every change in the working tree.
	AddAll() error
	// Commit creates a new commit with the given message.
	Commit(message string) error
	// HeadSHA returns the commit id of HEAD.
	HeadSHA() (string, error)
	// FilesInCommit lists the paths touched by a commit.
	FilesInCommit(ref string) ([]string, error)
}

// MergeOperations defines the interface for git merge operations.
type MergeOperations interface {
	// MergeSquash stages the changes of branch onto the current branch
	// without committing (git merge --squash).
	MergeSquash(branch string) error
	// ResetMerge abandons a failed merge, keeping unrelated local changes.
	ResetMerge() error
	// ConflictedFiles returns a list of files with unmerged changes.
	ConflictedFiles() ([]string, error)
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAddNewBranch creates a worktree at path on a new branch
	// started from base (git worktree add <path> -b <branch> <base>).
	WorktreeAddNewBranch(path, branch, base string) error
	// WorktreeAdd creates a worktree at path on an existing branch.
	WorktreeAdd(path, branch string) error
	// WorktreeRemove removes the worktree at the given path, discarding
	// uncommitted changes.
	WorktreeRemove(path string) error
	// WorktreeListPorcelain returns the raw porcelain output for detailed parsing.
	WorktreeListPorcelain() (string, error)
	// WorktreePrune removes stale worktree entries.
	WorktreePrune() error
}

// Runner defines the complete interface for git operations.
// This interface embeds all focused interfaces for full functionality.
// Consumers should prefer using focused interfaces when possible.
type Runner interface {
	BranchOperations
	CommitOperations
	MergeOperations
	WorktreeOperations
	// Run executes an arbitrary git command with the given arguments.
	// Returns the command output and an error if the command fails.
	Run(args ...string) (string, error)
	// RepoPath returns the directory commands run in.
	RepoPath() string
}
