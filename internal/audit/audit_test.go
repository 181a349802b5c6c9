package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jisqyv/pygitfs/internal/gitproto"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	dir, err := os.MkdirTemp("", "pygitfs-audit-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	l, err := Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestOpen_AppliesMigrations(t *testing.T) {
	l := newTestLog(t)
	entries, err := l.Recent(context.Background(), "/repo", 10)
	if err != nil {
		t.Fatalf("Recent on freshly migrated db: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries in a fresh db, got %d", len(entries))
	}
}

func TestRecordAndRecent_NewestFirstAndScoped(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	if err := l.Record(ctx, "/repo/a", "refs/heads/main", OutcomeCommitted, gitproto.Hash("aaa"), nil); err != nil {
		t.Fatalf("Record 1: %v", err)
	}
	if err := l.Record(ctx, "/repo/a", "refs/heads/main", OutcomeElided, gitproto.Hash("bbb"), nil); err != nil {
		t.Fatalf("Record 2: %v", err)
	}
	if err := l.Record(ctx, "/repo/a", "refs/heads/main", OutcomeRaceLost, "", errors.New("lost the race")); err != nil {
		t.Fatalf("Record 3: %v", err)
	}
	// A row for a different repo must not leak into /repo/a's Recent results.
	if err := l.Record(ctx, "/repo/b", "refs/heads/main", OutcomeCommitted, gitproto.Hash("zzz"), nil); err != nil {
		t.Fatalf("Record for other repo: %v", err)
	}

	entries, err := l.Recent(ctx, "/repo/a", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Recent returned %d entries, want 3", len(entries))
	}
	if entries[0].Outcome != OutcomeRaceLost {
		t.Errorf("entries[0].Outcome = %s, want %s (newest first)", entries[0].Outcome, OutcomeRaceLost)
	}
	if entries[0].Detail != "lost the race" {
		t.Errorf("entries[0].Detail = %q, want %q", entries[0].Detail, "lost the race")
	}
	if entries[2].Outcome != OutcomeCommitted || entries[2].CommitID != "aaa" {
		t.Errorf("entries[2] = %+v, want the first committed row", entries[2])
	}
}

func TestRecent_RespectsLimit(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	for i := 0; i < 5; i++ {
		if err := l.Record(ctx, "/repo", "refs/heads/main", OutcomeCommitted, "", nil); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	entries, err := l.Recent(ctx, "/repo", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent with limit 2 returned %d entries", len(entries))
	}
}

func TestClose_Idempotent(t *testing.T) {
	dir, err := os.MkdirTemp("", "pygitfs-audit-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(dir)

	l, err := Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
