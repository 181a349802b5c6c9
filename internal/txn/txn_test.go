package txn

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jisqyv/pygitfs/internal/engine"
	"github.com/jisqyv/pygitfs/internal/indexfs"
)

func newBareRepo(t *testing.T) *engine.Engine {
	t.Helper()
	dir, err := os.MkdirTemp("", "pygitfs-txn-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	eng := engine.New(dir)
	if err := eng.InitBare(context.Background()); err != nil {
		t.Fatalf("InitBare: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestBeginCommit_FirstCommit(t *testing.T) {
	ctx := context.Background()
	eng := newBareRepo(t)

	tr, root, err := Begin(ctx, eng, "refs/heads/main", nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	hello, err := root.Join("hello.txt")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := hello.WriteAll(ctx, []byte("hi")); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	if err := tr.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	commitID, ok, err := eng.Resolve(ctx, "refs/heads/main")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ok {
		t.Fatal("ref was not created by Commit")
	}
	tree, err := eng.ResolveTree(ctx, commitID)
	if err != nil {
		t.Fatalf("ResolveTree: %v", err)
	}
	entries, err := eng.LsTree(ctx, tree, "", false)
	if err != nil {
		t.Fatalf("LsTree: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "hello.txt" {
		t.Fatalf("LsTree = %+v, want a single hello.txt entry", entries)
	}
}

func TestCommit_Elision(t *testing.T) {
	ctx := context.Background()
	eng := newBareRepo(t)

	// First commit establishes a parent.
	if err := Run(ctx, eng, "refs/heads/main", nil, func(ctx context.Context, root *indexfs.IndexFS) error {
		f, err := root.Join("a.txt")
		if err != nil {
			return err
		}
		return f.WriteAll(ctx, []byte("content"))
	}); err != nil {
		t.Fatalf("seeding commit: %v", err)
	}

	firstCommit, _, err := eng.Resolve(ctx, "refs/heads/main")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// A transaction that touches nothing should elide: the ref must not
	// advance past firstCommit.
	if err := Run(ctx, eng, "refs/heads/main", nil, func(ctx context.Context, root *indexfs.IndexFS) error {
		return nil
	}); err != nil {
		t.Fatalf("no-op commit: %v", err)
	}

	afterCommit, _, err := eng.Resolve(ctx, "refs/heads/main")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if afterCommit != firstCommit {
		t.Fatalf("elided transaction advanced the ref: %s -> %s", firstCommit, afterCommit)
	}
}

func TestAbort_DoesNotAdvanceRef(t *testing.T) {
	ctx := context.Background()
	eng := newBareRepo(t)

	tr, root, err := Begin(ctx, eng, "refs/heads/main", nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	f, err := root.Join("doomed.txt")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := f.WriteAll(ctx, []byte("never committed")); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	cause := errors.New("caller-supplied abort reason")
	if err := tr.Abort(ctx, cause); err == nil {
		t.Fatal("Abort should propagate the cause error")
	}

	if _, ok, err := eng.Resolve(ctx, "refs/heads/main"); err != nil {
		t.Fatalf("Resolve: %v", err)
	} else if ok {
		t.Fatal("Abort must not create the ref")
	}
}

func TestRaceLost_ConcurrentTransactionsOnSameParent(t *testing.T) {
	ctx := context.Background()
	eng := newBareRepo(t)

	// Seed an initial commit both transactions will snapshot from.
	if err := Run(ctx, eng, "refs/heads/main", nil, func(ctx context.Context, root *indexfs.IndexFS) error {
		f, err := root.Join("base.txt")
		if err != nil {
			return err
		}
		return f.WriteAll(ctx, []byte("base"))
	}); err != nil {
		t.Fatalf("seeding commit: %v", err)
	}

	trA, rootA, err := Begin(ctx, eng, "refs/heads/main", nil)
	if err != nil {
		t.Fatalf("Begin A: %v", err)
	}
	trB, rootB, err := Begin(ctx, eng, "refs/heads/main", nil)
	if err != nil {
		t.Fatalf("Begin B: %v", err)
	}

	fa, err := rootA.Join("a.txt")
	if err != nil {
		t.Fatalf("Join a: %v", err)
	}
	if err := fa.WriteAll(ctx, []byte("from A")); err != nil {
		t.Fatalf("WriteAll a: %v", err)
	}
	fb, err := rootB.Join("b.txt")
	if err != nil {
		t.Fatalf("Join b: %v", err)
	}
	if err := fb.WriteAll(ctx, []byte("from B")); err != nil {
		t.Fatalf("WriteAll b: %v", err)
	}

	if err := trA.Commit(ctx); err != nil {
		t.Fatalf("A should win the race and commit cleanly: %v", err)
	}

	err = trB.Commit(ctx)
	if err == nil {
		t.Fatal("B should lose the race")
	}
	if !IsRaceLost(err) {
		t.Fatalf("B's error should wrap gitproto.ErrRaceLost, got: %v", err)
	}
}
