package merge

import (
	"context"
	"os"
	"testing"

	"github.com/jisqyv/pygitfs/internal/engine"
	"github.com/jisqyv/pygitfs/internal/gitproto"
	"github.com/jisqyv/pygitfs/internal/indexfs"
)

func newMergeRepo(t *testing.T) *engine.Engine {
	t.Helper()
	dir, err := os.MkdirTemp("", "pygitfs-merge-test-*")
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

// writeTree builds a tree directly (no commit, no ref) from a set of
// path->content pairs, via a throwaway TemporaryIndexFS.
func writeTree(t *testing.T, ctx context.Context, eng *engine.Engine, files map[string]string) gitproto.Hash {
	t.Helper()
	tmp, err := indexfs.NewTemporaryIndexFS(ctx, eng, "")
	if err != nil {
		t.Fatalf("NewTemporaryIndexFS: %v", err)
	}
	for path, content := range files {
		f, err := tmp.Root().Join(path)
		if err != nil {
			t.Fatalf("Join(%s): %v", path, err)
		}
		if err := f.WriteAll(ctx, []byte(content)); err != nil {
			t.Fatalf("WriteAll(%s): %v", path, err)
		}
	}
	if err := tmp.Close(ctx, true); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return tmp.TreeID()
}

func TestThreeWay_NonConflicting(t *testing.T) {
	ctx := context.Background()
	eng := newMergeRepo(t)

	base := writeTree(t, ctx, eng, map[string]string{"shared.txt": "base", "a.txt": "a"})
	ours := writeTree(t, ctx, eng, map[string]string{"shared.txt": "base", "a.txt": "a changed by ours"})
	theirs := writeTree(t, ctx, eng, map[string]string{"shared.txt": "base", "a.txt": "a", "b.txt": "b added by theirs"})

	result, err := ThreeWay(ctx, eng, base, ours, theirs)
	if err != nil {
		t.Fatalf("ThreeWay: %v", err)
	}
	if len(result.Conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %v", result.Conflicts)
	}
	if result.Tree == "" {
		t.Fatal("expected a merged tree id")
	}

	entries, err := eng.LsTreeAll(ctx, result.Tree)
	if err != nil {
		t.Fatalf("LsTreeAll: %v", err)
	}
	byPath := map[string]gitproto.Hash{}
	for _, e := range entries {
		byPath[e.Path] = e.ID
	}
	if len(byPath) != 3 {
		t.Fatalf("merged tree has %d entries, want 3: %+v", len(byPath), byPath)
	}
	if _, ok := byPath["a.txt"]; !ok {
		t.Error("merged tree missing a.txt (ours's change)")
	}
	if _, ok := byPath["b.txt"]; !ok {
		t.Error("merged tree missing b.txt (theirs's addition)")
	}
}

func TestThreeWay_Conflicting(t *testing.T) {
	ctx := context.Background()
	eng := newMergeRepo(t)

	base := writeTree(t, ctx, eng, map[string]string{"shared.txt": "base"})
	ours := writeTree(t, ctx, eng, map[string]string{"shared.txt": "ours's edit"})
	theirs := writeTree(t, ctx, eng, map[string]string{"shared.txt": "theirs's conflicting edit"})

	result, err := ThreeWay(ctx, eng, base, ours, theirs)
	if err != nil {
		t.Fatalf("ThreeWay: %v", err)
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0] != "shared.txt" {
		t.Fatalf("Conflicts = %v, want [shared.txt]", result.Conflicts)
	}
	if result.Tree != "" {
		t.Errorf("Tree should be unset on a conflicting merge, got %s", result.Tree)
	}
}
