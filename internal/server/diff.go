package server

import (
	"context"
	"fmt"

	"github.com/jisqyv/pygitfs/internal/engine"
	"github.com/jisqyv/pygitfs/internal/gitproto"
	"github.com/jisqyv/pygitfs/internal/readonlyfs"
)

// diffSnapshots reports which paths changed between two committed trees.
// old may be nil (first snapshot ever taken), in which case every path in
// fresh is reported as added.
func diffSnapshots(ctx context.Context, eng *engine.Engine, old, fresh *readonlyfs.ReadOnlyFS) (*TreeDelta, error) {
	newEntries, err := eng.LsTreeAll(ctx, fresh.TreeID())
	if err != nil {
		return nil, fmt.Errorf("server: listing new tree for diff: %w", err)
	}

	var oldEntries []gitproto.TreeEntry
	if old != nil {
		oldEntries, err = eng.LsTreeAll(ctx, old.TreeID())
		if err != nil {
			return nil, fmt.Errorf("server: listing old tree for diff: %w", err)
		}
	}

	oldByPath := make(map[string]gitproto.Hash, len(oldEntries))
	for _, e := range oldEntries {
		oldByPath[e.Path] = e.ID
	}
	newByPath := make(map[string]bool, len(newEntries))

	delta := &TreeDelta{}
	for _, e := range newEntries {
		newByPath[e.Path] = true
		oldID, existed := oldByPath[e.Path]
		switch {
		case !existed:
			delta.Added = append(delta.Added, e.Path)
		case oldID != e.ID:
			delta.Modified = append(delta.Modified, e.Path)
		}
	}
	for _, e := range oldEntries {
		if !newByPath[e.Path] {
			delta.Deleted = append(delta.Deleted, e.Path)
		}
	}
	return delta, nil
}
