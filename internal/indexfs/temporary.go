package indexfs

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync/atomic"

	"github.com/jisqyv/pygitfs/internal/engine"
	"github.com/jisqyv/pygitfs/internal/gitproto"
)

// instanceCounter disambiguates index file names within one process, per
// spec.md §4.D ("keyed by process id and a per-instance counter").
var instanceCounter int64

// TemporaryIndexFS is a scoped IndexFS (spec.md §4.D): it allocates a
// private index file under the repository's auxiliary directory, optionally
// populates it from a tree, and on Close writes the index back out as a
// tree and unlinks the index file unconditionally.
type TemporaryIndexFS struct {
	eng       *engine.Engine
	indexPath string
	fs        *IndexFS

	treeID gitproto.Hash
	closed bool
}

// NewTemporaryIndexFS allocates the scratch index file and, if tree is
// non-empty, populates it via read-tree (spec.md §4.D entry).
func NewTemporaryIndexFS(ctx context.Context, eng *engine.Engine, tree gitproto.Hash) (*TemporaryIndexFS, error) {
	aux, err := eng.AuxDir()
	if err != nil {
		return nil, err
	}
	n := atomic.AddInt64(&instanceCounter, 1)
	indexPath := path.Join(aux, fmt.Sprintf("index.%d.%d", os.Getpid(), n))

	if tree != "" {
		if err := eng.ReadTreeInto(ctx, tree, indexPath); err != nil {
			return nil, err
		}
	}

	return &TemporaryIndexFS{
		eng:       eng,
		indexPath: indexPath,
		fs:        New(eng, indexPath),
	}, nil
}

// Root returns the IndexFS rooted at the empty path, for operations within
// the scope.
func (t *TemporaryIndexFS) Root() *IndexFS { return t.fs }

// TreeID returns the tree produced by the most recent successful Close. It
// is unset (empty string) until then.
func (t *TemporaryIndexFS) TreeID() gitproto.Hash { return t.treeID }

// Close ends the scope (spec.md §4.D exit): on normal exit (ok == true) it
// writes the index out as a tree and records it via TreeID; the index file
// is unlinked unconditionally regardless of ok. Callers on an error path
// must still call Close(ctx, false) so the index file is cleaned up; no
// tree id is produced in that case.
func (t *TemporaryIndexFS) Close(ctx context.Context, ok bool) error {
	if t.closed {
		return nil
	}
	t.closed = true

	var writeErr error
	if ok {
		t.treeID, writeErr = t.eng.WriteTree(ctx, t.indexPath)
	}

	if err := os.Remove(t.indexPath); err != nil && !os.IsNotExist(err) {
		if writeErr != nil {
			return fmt.Errorf("indexfs: removing temporary index (write-tree also failed: %v): %w", writeErr, err)
		}
		return fmt.Errorf("indexfs: removing temporary index: %w", err)
	}
	return writeErr
}
