// Package txn implements Transaction and Repository (spec.md §4.E, §4.F),
// grounded on original_source/gitfs/repo.py: a scoped snapshot-stage-commit
// cycle over one ref with compare-and-swap advance and a fixed commit
// identity, and a thin factory that owns a repository path.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/jisqyv/pygitfs/internal/engine"
	"github.com/jisqyv/pygitfs/internal/gitproto"
	"github.com/jisqyv/pygitfs/internal/indexfs"
	"github.com/jisqyv/pygitfs/internal/readonlyfs"
)

// Identity is the fixed author/committer identity every synthesized commit
// carries (spec.md §4.E step 4: "a fixed identity (name and email of the
// tool)"), matching original_source/gitfs/repo.py's committer_name/email.
var Identity = engine.Identity{Name: "pygitfs", Email: "pygitfs@invalid"}

// CommitMessage is the fixed message every synthesized commit carries.
const CommitMessage = "pygitfs"

// state is Transaction's internal lifecycle position (spec.md §4.E state
// diagram), kept only for panic-on-misuse guards; callers never observe it
// directly.
type state int

const (
	stateInit state = iota
	stateSnapshotted
	stateDone
)

// Transaction is a scoped snapshot → stage → commit/abort cycle over one
// ref (spec.md §4.E).
type Transaction struct {
	eng       *engine.Engine
	ref       string
	log       *slog.Logger
	state     state
	parent    gitproto.Hash // "" when the ref was unset at snapshot time
	hadParent bool
	tmp       *indexfs.TemporaryIndexFS
}

// Begin snapshots ref's current commit (if any) and, if present, stages its
// tree into a fresh index, returning the Transaction and the IndexFS node
// rooted at the empty path (spec.md §4.E enter).
func Begin(ctx context.Context, eng *engine.Engine, ref string, log *slog.Logger) (*Transaction, *indexfs.IndexFS, error) {
	if log == nil {
		log = slog.Default()
	}
	commitID, ok, err := eng.Resolve(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	var tree gitproto.Hash
	if ok {
		tree, err = eng.ResolveTree(ctx, commitID)
		if err != nil {
			return nil, nil, err
		}
	}

	tmp, err := indexfs.NewTemporaryIndexFS(ctx, eng, tree)
	if err != nil {
		return nil, nil, err
	}

	t := &Transaction{
		eng:       eng,
		ref:       ref,
		log:       log.With("ref", ref),
		state:     stateSnapshotted,
		parent:    commitID,
		hadParent: ok,
		tmp:       tmp,
	}
	return t, tmp.Root(), nil
}

// ParentTree returns the tree id of the commit the transaction snapshotted,
// or gitproto.EmptyTree if the ref was unset at snapshot time. Callers (the
// HTTP status endpoint) use this to diff the transaction's live index
// against its starting point.
func (t *Transaction) ParentTree(ctx context.Context) (gitproto.Hash, error) {
	if !t.hadParent {
		return gitproto.EmptyTree, nil
	}
	return t.eng.ResolveTree(ctx, t.parent)
}

// elide reports whether the commit-elision predicate holds (spec.md §4.E):
// no parents and an empty tree, or exactly one parent whose tree matches.
func (t *Transaction) elide(ctx context.Context, tree gitproto.Hash) (bool, error) {
	if !t.hadParent {
		return tree == gitproto.EmptyTree, nil
	}
	parentTree, err := t.eng.ResolveTree(ctx, t.parent)
	if err != nil {
		return false, err
	}
	return tree == parentTree, nil
}

// Commit ends the transaction on the success path (spec.md §4.E exit,
// normal path): it closes the TemporaryIndexFS to obtain the produced tree,
// applies the elision predicate, and otherwise synthesizes a commit and
// advances the ref via compare-and-swap. A rejected CAS is reported as
// gitproto.ErrRaceLost.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.state != stateSnapshotted {
		panic("txn: Commit called outside the snapshotted state")
	}
	t.state = stateDone

	if err := t.tmp.Close(ctx, true); err != nil {
		return err
	}
	tree := t.tmp.TreeID()
	if tree == "" {
		return fmt.Errorf("%w: produced tree id is unset after a successful close", gitproto.ErrEngine)
	}

	elide, err := t.elide(ctx, tree)
	if err != nil {
		return err
	}
	if elide {
		t.log.Debug("transaction elided: tree unchanged from parent", "tree", tree)
		return nil
	}

	var parents []gitproto.Hash
	if t.hadParent {
		parents = []gitproto.Hash{t.parent}
	}

	commitID, err := t.eng.CommitTree(ctx, tree, parents, CommitMessage, Identity, Identity)
	if err != nil {
		return err
	}

	err = t.eng.UpdateRef(ctx, t.ref, commitID, t.parent, !t.hadParent, "pygitfs transaction commit")
	if err != nil {
		t.log.Warn("transaction lost the race to advance ref", "parent", t.parent, "attempted", commitID, "error", err)
		return fmt.Errorf("%w: %v", gitproto.ErrRaceLost, err)
	}
	t.log.Debug("transaction committed", "commit", commitID, "tree", tree)
	return nil
}

// Abort ends the transaction on the error path (spec.md §4.E exit, error
// path): the TemporaryIndexFS is still closed (index file removed, no tree
// id produced), and the ref is never touched. cause is the caller's error,
// aggregated with any cleanup failure via multierr so neither is lost.
func (t *Transaction) Abort(ctx context.Context, cause error) error {
	if t.state != stateSnapshotted {
		panic("txn: Abort called outside the snapshotted state")
	}
	t.state = stateDone

	cleanupErr := t.tmp.Close(ctx, false)
	if cleanupErr != nil {
		t.log.Warn("cleanup failure while aborting transaction", "error", cleanupErr)
	}
	return multierr.Append(cause, cleanupErr)
}

// Run is a convenience wrapper that begins a transaction, runs fn with its
// IndexFS root, and commits or aborts depending on whether fn returns an
// error — the shape original_source/gitfs/repo.py exposes as a context
// manager.
func Run(ctx context.Context, eng *engine.Engine, ref string, log *slog.Logger, fn func(ctx context.Context, root *indexfs.IndexFS) error) error {
	t, root, err := Begin(ctx, eng, ref, log)
	if err != nil {
		return err
	}
	if err := fn(ctx, root); err != nil {
		return t.Abort(ctx, err)
	}
	return t.Commit(ctx)
}

// IsRaceLost reports whether err is, or wraps, gitproto.ErrRaceLost.
func IsRaceLost(err error) bool { return errors.Is(err, gitproto.ErrRaceLost) }

// Repository is a thin factory scoped to one repository path (spec.md
// §4.F), grounded on original_source/gitfs/repo.py's Repository class.
type Repository struct {
	eng *engine.Engine
	log *slog.Logger
}

// Open binds a Repository to the bare repository at repoDir.
func Open(repoDir string, log *slog.Logger) *Repository {
	if log == nil {
		log = slog.Default()
	}
	return &Repository{eng: engine.New(repoDir), log: log}
}

// Engine returns the underlying adapter, for callers (internal/history,
// internal/merge, internal/provision) that need direct engine access.
func (r *Repository) Engine() *engine.Engine { return r.eng }

// Close releases the repository's engine resources (the shared batch
// cat-file subprocess, if one was started).
func (r *Repository) Close() error { return r.eng.Close() }

// defaultRef is the symbolic head used when no ref is specified.
const defaultRef = "HEAD"

// Transaction begins a transaction against ref (default: the repository's
// symbolic head) and returns it along with its IndexFS root.
func (r *Repository) Transaction(ctx context.Context, ref string) (*Transaction, *indexfs.IndexFS, error) {
	if ref == "" {
		ref = defaultRef
	}
	return Begin(ctx, r.eng, ref, r.log)
}

// WithTransaction runs fn inside a transaction against ref, committing on
// success and aborting on error.
func (r *Repository) WithTransaction(ctx context.Context, ref string, fn func(ctx context.Context, root *indexfs.IndexFS) error) error {
	if ref == "" {
		ref = defaultRef
	}
	return Run(ctx, r.eng, ref, r.log, fn)
}

// ReadOnly returns a ReadOnlyFS snapshot of ref (default: the repository's
// symbolic head).
func (r *Repository) ReadOnly(ctx context.Context, ref string) (*readonlyfs.ReadOnlyFS, error) {
	if ref == "" {
		ref = defaultRef
	}
	return readonlyfs.Snapshot(ctx, r.eng, ref)
}
