package engine

import (
	"context"
	"os"
	"testing"

	"github.com/jisqyv/pygitfs/internal/gitproto"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir, err := os.MkdirTemp("", "pygitfs-engine-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	e := New(dir)
	if err := e.InitBare(context.Background()); err != nil {
		t.Fatalf("InitBare: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestInitBare_CreatesUsableRepo(t *testing.T) {
	e := newTestEngine(t)
	if e.RepoDir() == "" {
		t.Error("RepoDir should be set after InitBare")
	}
	if _, err := os.Stat(e.RepoDir()); err != nil {
		t.Errorf("bare repo directory missing: %v", err)
	}
}

func TestResolve_UnsetRefReturnsNotOk(t *testing.T) {
	e := newTestEngine(t)
	id, ok, err := e.Resolve(context.Background(), "refs/heads/main")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ok {
		t.Errorf("expected ok=false on an unset ref, got id=%s", id)
	}
}

func TestFastImportAndResolve(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	err := e.FastImport(ctx, "refs/heads/main", []FastImportCommit{
		{
			Message:       "seed",
			Committer:     "Test <test@example.com>",
			CommitterDate: "1700000000 +0000",
			Files:         []FastImportFile{{Path: "a.txt", Content: []byte("hello")}},
		},
	})
	if err != nil {
		t.Fatalf("FastImport: %v", err)
	}

	commit, ok, err := e.Resolve(ctx, "refs/heads/main")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ok {
		t.Fatal("expected refs/heads/main to resolve after FastImport")
	}

	tree, err := e.ResolveTree(ctx, commit)
	if err != nil {
		t.Fatalf("ResolveTree: %v", err)
	}
	if tree == gitproto.EmptyTree {
		t.Error("expected a non-empty tree after importing a file")
	}

	entries, err := e.LsTreeAll(ctx, tree)
	if err != nil {
		t.Fatalf("LsTreeAll: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "a.txt" {
		t.Errorf("LsTreeAll = %+v, want a single a.txt entry", entries)
	}
}

func TestResolve_UnknownRevisionIsNotOk(t *testing.T) {
	e := newTestEngine(t)
	_, ok, err := e.Resolve(context.Background(), "not-a-valid-ref-at-all-xyz")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ok {
		t.Error("a nonsense revision string should not resolve")
	}
}
