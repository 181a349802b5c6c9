package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func beginTxn(t *testing.T, s *Server, ref string) string {
	t.Helper()
	var body bytes.Buffer
	if ref != "" {
		json.NewEncoder(&body).Encode(beginTransactionRequest{Ref: ref})
	}
	req := httptest.NewRequest(http.MethodPost, "/api/transactions", &body)
	rec := httptest.NewRecorder()
	withLocalSession(s.session, s.handleBeginTransaction)(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("handleBeginTransaction status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode begin response: %v", err)
	}
	return resp.ID
}

func txnOp(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	withLocalSession(s.session, s.handleTransactionOp)(rec, r)
	return rec
}

func TestTransactionLifecycle_WriteStatusCommit(t *testing.T) {
	s := newTestServer(t)
	id := beginTxn(t, s, "refs/heads/main")

	writeBody, _ := json.Marshal(writeFileRequest{Content: "brand new"})
	rec := txnOp(s, http.MethodPut, "/api/transactions/"+id+"/files/added.txt", writeBody)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("write status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = txnOp(s, http.MethodGet, "/api/transactions/"+id+"/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var status WorkingTreeStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(status.Added) != 1 || status.Added[0].Path != "added.txt" {
		t.Fatalf("status.Added = %+v, want [added.txt]", status.Added)
	}

	rec = txnOp(s, http.MethodPost, "/api/transactions/"+id+"/commit", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("commit status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// The head ref must have advanced, and the transaction is no longer usable.
	head, ok, err := s.session.Engine().Resolve(s.ctx, "refs/heads/main")
	if err != nil || !ok {
		t.Fatalf("Resolve after commit: ok=%v err=%v", ok, err)
	}
	if head == "" {
		t.Fatal("expected a resolved head after commit")
	}

	rec = txnOp(s, http.MethodPost, "/api/transactions/"+id+"/commit", nil)
	if rec.Code != http.StatusBadRequest && rec.Code != http.StatusNotFound {
		t.Errorf("re-committing a finished transaction should not succeed, got %d", rec.Code)
	}
}

func TestTransactionLifecycle_Abort(t *testing.T) {
	s := newTestServer(t)
	id := beginTxn(t, s, "refs/heads/main")

	before, _, err := s.session.Engine().Resolve(s.ctx, "refs/heads/main")
	if err != nil {
		t.Fatalf("Resolve before: %v", err)
	}

	writeBody, _ := json.Marshal(writeFileRequest{Content: "discarded"})
	rec := txnOp(s, http.MethodPut, "/api/transactions/"+id+"/files/scratch.txt", writeBody)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("write status = %d", rec.Code)
	}

	rec = txnOp(s, http.MethodPost, "/api/transactions/"+id+"/abort", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("abort status = %d, body = %s", rec.Code, rec.Body.String())
	}

	after, _, err := s.session.Engine().Resolve(s.ctx, "refs/heads/main")
	if err != nil {
		t.Fatalf("Resolve after: %v", err)
	}
	if after != before {
		t.Errorf("abort must not advance the ref: before=%s after=%s", before, after)
	}
}

func TestTransactionLifecycle_MkdirAndRename(t *testing.T) {
	s := newTestServer(t)
	id := beginTxn(t, s, "refs/heads/main")

	rec := txnOp(s, http.MethodPost, "/api/transactions/"+id+"/mkdir/newdir?createParents=true", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("mkdir status = %d, body = %s", rec.Code, rec.Body.String())
	}

	writeBody, _ := json.Marshal(writeFileRequest{Content: "x"})
	rec = txnOp(s, http.MethodPut, "/api/transactions/"+id+"/files/newdir/x.txt", writeBody)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("write status = %d", rec.Code)
	}

	renameBody, _ := json.Marshal(renameRequest{NewPath: "newdir/y.txt"})
	rec = txnOp(s, http.MethodPost, "/api/transactions/"+id+"/rename/newdir/x.txt", renameBody)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("rename status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = txnOp(s, http.MethodGet, "/api/transactions/"+id+"/files/newdir/y.txt", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read after rename status = %d", rec.Code)
	}
	if rec.Body.String() != "x" {
		t.Errorf("content after rename = %q, want %q", rec.Body.String(), "x")
	}

	txnOp(s, http.MethodPost, "/api/transactions/"+id+"/abort", nil)
}

func TestHandleTransactionOp_UnknownTransaction(t *testing.T) {
	s := newTestServer(t)
	rec := txnOp(s, http.MethodGet, "/api/transactions/does-not-exist/status", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for an unknown transaction id", rec.Code)
	}
}
