package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHead_ReportsWatchedRef(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/head", nil)
	rec := httptest.NewRecorder()
	withLocalSession(s.session, s.handleHead)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ref"] != "refs/heads/main" {
		t.Errorf("ref = %v, want refs/heads/main", body["ref"])
	}
	if body["commitId"] == "" {
		t.Error("expected a non-empty commitId")
	}
}

func TestHandleTree_ListsRootEntries(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tree/", nil)
	rec := httptest.NewRecorder()
	withLocalSession(s.session, s.handleTree)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Entries []treeEntryView `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Entries) != 2 {
		t.Fatalf("entries = %+v, want README.md and dir", body.Entries)
	}
}

func TestHandleTree_RejectsFilePath(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tree/README.md", nil)
	rec := httptest.NewRecorder()
	withLocalSession(s.session, s.handleTree)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a non-directory path", rec.Code)
	}
}

func TestHandleBlob_ReturnsContentAndCaches(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/blob/README.md", nil)
	rec := httptest.NewRecorder()
	withLocalSession(s.session, s.handleBlob)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["content"] != "# hello" {
		t.Errorf("content = %v, want %q", body["content"], "# hello")
	}
	if body["binary"] != false {
		t.Errorf("binary = %v, want false", body["binary"])
	}

	cacheKey := string(s.session.Snapshot().CommitID()) + ":README.md"
	if _, cached := s.session.blobCache.Get(cacheKey); !cached {
		t.Error("expected handleBlob to populate the blob cache")
	}
}

func TestHandleBlob_MissingPathReturns404(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/blob/nope.txt", nil)
	rec := httptest.NewRecorder()
	withLocalSession(s.session, s.handleBlob)(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleFileHistory_ReturnsChangeForSeededFile(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/history/README.md", nil)
	rec := httptest.NewRecorder()
	withLocalSession(s.session, s.handleFileHistory)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Commits []any `json:"commits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Commits) != 1 {
		t.Errorf("commits = %+v, want exactly 1 (the seed commit)", body.Commits)
	}
}
