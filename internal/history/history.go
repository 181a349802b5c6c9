// Package history provides ref and ancestry convenience wrappers that sit
// outside the transactional core (spec.md §9 supplemented features):
// for-each-ref, rev-list and merge-base, plus a file-history helper that
// replaces the teacher's pure-Go BFS-over-parents blame algorithm
// (internal/gitcore/blame.go) with calls into the external engine, per this
// module's external-engine architecture (spec.md §1).
package history

import (
	"context"
	"fmt"

	"github.com/jisqyv/pygitfs/internal/engine"
	"github.com/jisqyv/pygitfs/internal/gitproto"
)

// Ref is one entry from ForEachRef.
type Ref = engine.RefEntry

// ForEachRef lists refs matching patterns (no patterns = all refs).
func ForEachRef(ctx context.Context, eng *engine.Engine, patterns ...string) ([]Ref, error) {
	return eng.ForEachRef(ctx, patterns...)
}

// Log walks commit ancestry starting at head, oldest-first when reverse is
// set, stopping at (not including) any commit reachable from excludeFrom.
func Log(ctx context.Context, eng *engine.Engine, head gitproto.Hash, excludeFrom []gitproto.Hash, reverse bool) ([]gitproto.Hash, error) {
	return eng.RevList(ctx, engine.RevListOpts{
		Include: []gitproto.Hash{head},
		Exclude: excludeFrom,
		Reverse: reverse,
	})
}

// MergeBase returns the best common ancestor of a and b.
func MergeBase(ctx context.Context, eng *engine.Engine, a, b gitproto.Hash) (gitproto.Hash, error) {
	return eng.MergeBase(ctx, a, b)
}

// FileChange is one commit in a file's history where its content changed.
type FileChange struct {
	Commit gitproto.Hash
	Blob   gitproto.Hash
}

// FileHistory walks the ancestry of head, newest first, and reports every
// commit at which path's blob id differs from the next older commit
// examined (the file's "blame-adjacent" history), stopping at the first
// commit where path does not exist. This mirrors what the teacher's blame.go computed with a
// pure-Go BFS over parsed commit objects; here every step is a plain
// ls-tree query against the engine instead.
func FileHistory(ctx context.Context, eng *engine.Engine, head gitproto.Hash, path string) ([]FileChange, error) {
	commits, err := eng.RevList(ctx, engine.RevListOpts{Include: []gitproto.Hash{head}})
	if err != nil {
		return nil, fmt.Errorf("history: walking ancestry: %w", err)
	}

	var out []FileChange
	// cur is the oldest commit seen so far that still carries cur.Blob.
	var cur FileChange
	for _, c := range commits {
		tree, err := eng.ResolveTree(ctx, c)
		if err != nil {
			return nil, err
		}
		entries, err := eng.LsTree(ctx, tree, path, false)
		if err != nil {
			return nil, err
		}
		var blob gitproto.Hash
		for _, e := range entries {
			if e.Path == path && e.Kind == "blob" {
				blob = e.ID
				break
			}
		}
		if blob == "" {
			break
		}
		if blob != cur.Blob && cur.Blob != "" {
			out = append(out, cur)
		}
		cur = FileChange{Commit: c, Blob: blob}
	}
	if cur.Blob != "" {
		out = append(out, cur)
	}
	return out, nil
}
