package server

import (
	"context"
	"os"
	"testing"

	"github.com/jisqyv/pygitfs/internal/engine"
	"github.com/jisqyv/pygitfs/internal/txn"
)

// newTestServer builds a Server against a fresh bare repository seeded with
// one commit, without starting its HTTP listener or ref watcher.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir, err := os.MkdirTemp("", "pygitfs-server-http-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	eng := engine.New(dir)
	ctx := context.Background()
	if err := eng.InitBare(ctx); err != nil {
		t.Fatalf("InitBare: %v", err)
	}

	err = eng.FastImport(ctx, "refs/heads/main", []engine.FastImportCommit{
		{
			Message:       "seed",
			Committer:     "Test <test@example.com>",
			CommitterDate: "1700000000 +0000",
			Files: []engine.FastImportFile{
				{Path: "README.md", Content: []byte("# hello")},
				{Path: "dir/nested.txt", Content: []byte("nested content")},
			},
		},
	})
	if err != nil {
		t.Fatalf("FastImport: %v", err)
	}
	eng.Close()

	repo := txn.Open(dir, nil)
	t.Cleanup(func() { repo.Close() })

	s, err := New(ctx, Config{Repo: repo, Ref: "refs/heads/main"})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	t.Cleanup(func() {
		s.cancel()
		s.rateLimiter.Close()
		if s.audit != nil {
			s.audit.Close()
		}
	})
	return s
}
