package server

import (
	"context"
	"os"
	"sort"
	"testing"

	"github.com/jisqyv/pygitfs/internal/engine"
	"github.com/jisqyv/pygitfs/internal/indexfs"
)

func newStatusTestRepo(t *testing.T) *engine.Engine {
	t.Helper()
	dir, err := os.MkdirTemp("", "pygitfs-server-status-test-*")
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

func TestPendingTransactionStatus_NoParent(t *testing.T) {
	ctx := context.Background()
	eng := newStatusTestRepo(t)

	tmp, err := indexfs.NewTemporaryIndexFS(ctx, eng, "")
	if err != nil {
		t.Fatalf("NewTemporaryIndexFS: %v", err)
	}
	defer tmp.Close(ctx, false)

	f, err := tmp.Root().Join("new.txt")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := f.WriteAll(ctx, []byte("hi")); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	status, err := pendingTransactionStatus(ctx, eng, tmp.Root().IndexPath(), "")
	if err != nil {
		t.Fatalf("pendingTransactionStatus: %v", err)
	}
	if len(status.Added) != 1 || status.Added[0].Path != "new.txt" || status.Added[0].StatusCode != "A" {
		t.Errorf("Added = %+v, want a single A new.txt", status.Added)
	}
	if len(status.Modified) != 0 || len(status.Deleted) != 0 {
		t.Errorf("unexpected Modified/Deleted: %+v", status)
	}
}

func TestPendingTransactionStatus_AgainstParentTree(t *testing.T) {
	ctx := context.Background()
	eng := newStatusTestRepo(t)

	err := eng.FastImport(ctx, "refs/heads/main", []engine.FastImportCommit{
		{
			Message:       "base",
			Committer:     "Test <test@example.com>",
			CommitterDate: "1700000000 +0000",
			Files: []engine.FastImportFile{
				{Path: "keep.txt", Content: []byte("keep")},
				{Path: "edit.txt", Content: []byte("before")},
				{Path: "drop.txt", Content: []byte("drop me")},
			},
		},
	})
	if err != nil {
		t.Fatalf("FastImport: %v", err)
	}

	parentCommit, ok, err := eng.Resolve(ctx, "refs/heads/main")
	if err != nil || !ok {
		t.Fatalf("Resolve: ok=%v err=%v", ok, err)
	}
	parentTree, err := eng.ResolveTree(ctx, parentCommit)
	if err != nil {
		t.Fatalf("ResolveTree: %v", err)
	}

	tmp, err := indexfs.NewTemporaryIndexFS(ctx, eng, parentTree)
	if err != nil {
		t.Fatalf("NewTemporaryIndexFS: %v", err)
	}
	defer tmp.Close(ctx, false)
	root := tmp.Root()

	edit, err := root.Join("edit.txt")
	if err != nil {
		t.Fatalf("Join edit: %v", err)
	}
	if err := edit.WriteAll(ctx, []byte("after")); err != nil {
		t.Fatalf("WriteAll edit: %v", err)
	}
	drop, err := root.Join("drop.txt")
	if err != nil {
		t.Fatalf("Join drop: %v", err)
	}
	if err := drop.Remove(ctx); err != nil {
		t.Fatalf("Remove drop: %v", err)
	}
	added, err := root.Join("added.txt")
	if err != nil {
		t.Fatalf("Join added: %v", err)
	}
	if err := added.WriteAll(ctx, []byte("brand new")); err != nil {
		t.Fatalf("WriteAll added: %v", err)
	}

	status, err := pendingTransactionStatus(ctx, eng, root.IndexPath(), parentTree)
	if err != nil {
		t.Fatalf("pendingTransactionStatus: %v", err)
	}

	sortStatuses(status.Added)
	sortStatuses(status.Modified)
	sortStatuses(status.Deleted)

	if len(status.Added) != 1 || status.Added[0].Path != "added.txt" {
		t.Errorf("Added = %+v, want [added.txt]", status.Added)
	}
	if len(status.Modified) != 1 || status.Modified[0].Path != "edit.txt" {
		t.Errorf("Modified = %+v, want [edit.txt]", status.Modified)
	}
	if len(status.Deleted) != 1 || status.Deleted[0].Path != "drop.txt" {
		t.Errorf("Deleted = %+v, want [drop.txt]", status.Deleted)
	}
}

func sortStatuses(s []FileStatus) {
	sort.Slice(s, func(i, j int) bool { return s[i].Path < s[j].Path })
}
