package indexfs

import (
	"context"
	"os"
	"testing"

	"github.com/jisqyv/pygitfs/internal/engine"
)

func newBareEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dir, err := os.MkdirTemp("", "pygitfs-indexfs-test-*")
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

func TestWriteReadRemove(t *testing.T) {
	ctx := context.Background()
	eng := newBareEngine(t)

	tmp, err := NewTemporaryIndexFS(ctx, eng, "")
	if err != nil {
		t.Fatalf("NewTemporaryIndexFS: %v", err)
	}
	root := tmp.Root()

	f, err := root.Join("file.txt")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := f.WriteAll(ctx, []byte("payload")); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	got, err := f.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("ReadAll = %q, want %q", got, "payload")
	}

	if err := f.Remove(ctx); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if exists, err := f.Exists(ctx); err != nil {
		t.Fatalf("Exists: %v", err)
	} else if exists {
		t.Error("file should not exist after Remove")
	}

	if err := tmp.Close(ctx, false); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestMkdirAndChildren(t *testing.T) {
	ctx := context.Background()
	eng := newBareEngine(t)

	tmp, err := NewTemporaryIndexFS(ctx, eng, "")
	if err != nil {
		t.Fatalf("NewTemporaryIndexFS: %v", err)
	}
	defer tmp.Close(ctx, false)
	root := tmp.Root()

	a, err := root.Join("dir/a.txt")
	if err != nil {
		t.Fatalf("Join a: %v", err)
	}
	if err := a.WriteAll(ctx, []byte("a")); err != nil {
		t.Fatalf("WriteAll a: %v", err)
	}
	b, err := root.Join("dir/b.txt")
	if err != nil {
		t.Fatalf("Join b: %v", err)
	}
	if err := b.WriteAll(ctx, []byte("b")); err != nil {
		t.Fatalf("WriteAll b: %v", err)
	}

	dir, err := root.Join("dir")
	if err != nil {
		t.Fatalf("Join dir: %v", err)
	}
	isDir, err := dir.IsDir(ctx)
	if err != nil {
		t.Fatalf("IsDir: %v", err)
	}
	if !isDir {
		t.Fatal("dir should report as a directory once it has children")
	}

	children, err := dir.Children(ctx)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("Children() = %d entries, want 2", len(children))
	}
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	eng := newBareEngine(t)

	tmp, err := NewTemporaryIndexFS(ctx, eng, "")
	if err != nil {
		t.Fatalf("NewTemporaryIndexFS: %v", err)
	}
	defer tmp.Close(ctx, false)
	root := tmp.Root()

	from, err := root.Join("old.txt")
	if err != nil {
		t.Fatalf("Join from: %v", err)
	}
	if err := from.WriteAll(ctx, []byte("moved")); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	to, err := root.Join("new.txt")
	if err != nil {
		t.Fatalf("Join to: %v", err)
	}

	if err := from.Rename(ctx, to); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	// Rename rebinds from to the new path, so look the old path up afresh.
	old, err := root.Join("old.txt")
	if err != nil {
		t.Fatalf("Join old: %v", err)
	}
	if exists, err := old.Exists(ctx); err != nil {
		t.Fatalf("Exists from: %v", err)
	} else if exists {
		t.Error("old path should not exist after Rename")
	}
	content, err := to.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll to: %v", err)
	}
	if string(content) != "moved" {
		t.Errorf("ReadAll to = %q, want %q", content, "moved")
	}
}

func TestClose_ProducesTreeOnlyWhenOk(t *testing.T) {
	ctx := context.Background()
	eng := newBareEngine(t)

	tmp, err := NewTemporaryIndexFS(ctx, eng, "")
	if err != nil {
		t.Fatalf("NewTemporaryIndexFS: %v", err)
	}
	f, err := tmp.Root().Join("x.txt")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := f.WriteAll(ctx, []byte("x")); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	if err := tmp.Close(ctx, true); err != nil {
		t.Fatalf("Close(ok=true): %v", err)
	}
	if tmp.TreeID() == "" {
		t.Error("TreeID should be set after a successful Close")
	}

	// A second Close is a no-op, even with a different ok value.
	if err := tmp.Close(ctx, false); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
