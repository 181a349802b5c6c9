// Package merge implements the 3-way merge entry point spec.md §9 calls
// out as living in the adapter but deliberately outside the transactional
// core: nothing in internal/txn ever calls this package. It is grounded on
// the teacher's internal/gitcore/threeway.go for the conflict-reporting
// shape, but delegates the actual tree merge to `git read-tree -m` via
// internal/engine rather than reimplementing merge arithmetic in Go.
package merge

import (
	"context"
	"fmt"

	"github.com/jisqyv/pygitfs/internal/engine"
	"github.com/jisqyv/pygitfs/internal/gitproto"
	"github.com/jisqyv/pygitfs/internal/indexfs"
)

// Result is the outcome of a 3-way merge attempt.
type Result struct {
	Tree      gitproto.Hash
	Conflicts []string // paths left at a non-zero stage, if any
}

// ThreeWay merges ours and theirs against base, using a scratch index
// (spec.md §9). It does not advance any ref or create a commit; callers
// that want that wrap the result in their own internal/txn.Transaction.
//
// `git read-tree -m` resolves unconflicted changes automatically and
// leaves conflicting paths at higher stages; conflicts are reported back
// rather than resolved, matching spec.md's explicit non-goal of "no
// implicit conflict resolution."
func ThreeWay(ctx context.Context, eng *engine.Engine, base, ours, theirs gitproto.Hash) (Result, error) {
	tmp, err := indexfs.NewTemporaryIndexFS(ctx, eng, "")
	if err != nil {
		return Result{}, err
	}

	if err := eng.ReadTreeMerge(ctx, tmp.Root().IndexPath(), base, ours, theirs); err != nil {
		_ = tmp.Close(ctx, false)
		return Result{}, err
	}

	conflicts, err := conflictPaths(ctx, eng, tmp.Root().IndexPath())
	if err != nil {
		_ = tmp.Close(ctx, false)
		return Result{}, err
	}
	if len(conflicts) > 0 {
		_ = tmp.Close(ctx, false)
		return Result{Conflicts: conflicts}, nil
	}

	if err := tmp.Close(ctx, true); err != nil {
		return Result{}, err
	}
	return Result{Tree: tmp.TreeID()}, nil
}

// conflictPaths lists any path left at a non-zero stage after read-tree -m.
// internal/engine's ListIndex refuses non-zero stages outright (the
// transactional core never tolerates them), so this package uses the
// engine's separate ListConflictedPaths query rather than that helper.
func conflictPaths(ctx context.Context, eng *engine.Engine, indexPath string) ([]string, error) {
	paths, err := eng.ListConflictedPaths(ctx, indexPath)
	if err != nil {
		return nil, fmt.Errorf("merge: listing conflicted paths: %w", err)
	}
	return paths, nil
}
