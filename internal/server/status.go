package server

import (
	"context"
	"fmt"

	"github.com/jisqyv/pygitfs/internal/engine"
	"github.com/jisqyv/pygitfs/internal/gitproto"
)

// FileStatus is one path's change state within a pending transaction.
type FileStatus struct {
	Path       string `json:"path"`
	StatusCode string `json:"statusCode"` // A(dded) M(odified) D(eleted)
}

// WorkingTreeStatus groups a pending transaction's index against its
// parent snapshot. There is no checked-out working directory in this
// module's bare-repository model (spec.md §1), so unlike the teacher's
// `git status --porcelain` this reports index-vs-parent-tree, not
// index-vs-worktree; the grouping shape (staged/modified/untracked) is
// kept, mapped onto added/modified/deleted.
type WorkingTreeStatus struct {
	Added    []FileStatus `json:"added"`
	Modified []FileStatus `json:"modified"`
	Deleted  []FileStatus `json:"deleted"`
}

// pendingTransactionStatus diffs the index at indexPath against parentTree
// (the empty-tree sentinel if the transaction has no parent commit),
// without touching any working directory.
func pendingTransactionStatus(ctx context.Context, eng *engine.Engine, indexPath string, parentTree gitproto.Hash) (*WorkingTreeStatus, error) {
	staged, err := eng.ListIndexAll(ctx, indexPath)
	if err != nil {
		return nil, fmt.Errorf("server: listing index for status: %w", err)
	}
	var base []gitproto.TreeEntry
	if parentTree != "" {
		base, err = eng.LsTreeAll(ctx, parentTree)
		if err != nil {
			return nil, fmt.Errorf("server: listing parent tree for status: %w", err)
		}
	}

	baseByPath := make(map[string]gitproto.Hash, len(base))
	for _, e := range base {
		baseByPath[e.Path] = e.ID
	}
	stagedByPath := make(map[string]bool, len(staged))

	status := &WorkingTreeStatus{}
	for _, e := range staged {
		stagedByPath[e.Path] = true
		oldID, existed := baseByPath[e.Path]
		switch {
		case !existed:
			status.Added = append(status.Added, FileStatus{Path: e.Path, StatusCode: "A"})
		case oldID != e.ID:
			status.Modified = append(status.Modified, FileStatus{Path: e.Path, StatusCode: "M"})
		}
	}
	for _, e := range base {
		if !stagedByPath[e.Path] {
			status.Deleted = append(status.Deleted, FileStatus{Path: e.Path, StatusCode: "D"})
		}
	}
	return status, nil
}
