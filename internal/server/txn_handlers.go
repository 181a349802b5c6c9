package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jisqyv/pygitfs/internal/audit"
	"github.com/jisqyv/pygitfs/internal/indexfs"
	"github.com/jisqyv/pygitfs/internal/txn"
)

// txnEntry is one in-flight transaction parked between HTTP requests: a
// transaction is begun by POST /api/transactions and lives until a later
// request commits or aborts it (spec.md §4.E's scoped snapshot→stage→commit
// cycle, exposed here over a request/response API rather than the single
// in-process call the core itself models).
type txnEntry struct {
	mu   sync.Mutex
	txn  *txn.Transaction
	root *indexfs.IndexFS
	ref  string
	done bool
}

var txnSeq atomic.Int64

func newTxnID() string {
	return fmt.Sprintf("t%d", txnSeq.Add(1))
}

type beginTransactionRequest struct {
	Ref string `json:"ref"`
}

// handleBeginTransaction starts a transaction against ref (default: the
// session's watched ref) and returns its id.
func (s *Server) handleBeginTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req beginTransactionRequest
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, 4096)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	session := sessionFromCtx(r.Context())
	if session == nil {
		http.Error(w, "Repository not available", http.StatusInternalServerError)
		return
	}
	if req.Ref == "" {
		req.Ref = session.ref
	}

	t, root, err := session.Repo().Transaction(r.Context(), req.Ref)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to begin transaction: %v", err), http.StatusInternalServerError)
		return
	}

	id := newTxnID()
	s.txnMu.Lock()
	s.txns[id] = &txnEntry{txn: t, root: root, ref: req.Ref}
	s.txnMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "ref": req.Ref})
}

func (s *Server) lookupTxn(id string) *txnEntry {
	s.txnMu.Lock()
	defer s.txnMu.Unlock()
	return s.txns[id]
}

func (s *Server) dropTxn(id string) {
	s.txnMu.Lock()
	delete(s.txns, id)
	s.txnMu.Unlock()
}

type writeFileRequest struct {
	Content string `json:"content"`
}

type renameRequest struct {
	NewPath string `json:"newPath"`
}

// handleTransactionOp dispatches every /api/transactions/{id}/{action}[/path]
// request to the matching operation against that transaction's IndexFS.
func (s *Server) handleTransactionOp(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
	if rest == r.URL.Path || rest == "" {
		http.Error(w, "Missing transaction id", http.StatusBadRequest)
		return
	}
	id, remainder, _ := strings.Cut(rest, "/")
	action, filePath, _ := strings.Cut(remainder, "/")

	entry := s.lookupTxn(id)
	if entry == nil {
		http.Error(w, "Unknown transaction", http.StatusNotFound)
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.done {
		http.Error(w, "Transaction already finished", http.StatusConflict)
		return
	}

	ctx := r.Context()

	switch action {
	case "commit":
		s.finishTransaction(w, id, entry, audit.OutcomeCommitted, func() error { return entry.txn.Commit(ctx) })
	case "abort":
		s.finishTransaction(w, id, entry, audit.OutcomeAborted, func() error { return entry.txn.Abort(ctx, nil) })
	case "status":
		s.handleTransactionStatus(w, r, entry)
	case "files":
		s.handleTransactionFile(w, r, entry, filePath)
	case "mkdir":
		s.handleTransactionMkdir(w, r, entry, filePath)
	case "rename":
		s.handleTransactionRename(w, r, entry, filePath)
	default:
		http.Error(w, "Unknown transaction action", http.StatusNotFound)
	}
}

func (s *Server) finishTransaction(w http.ResponseWriter, id string, entry *txnEntry, wantOutcome audit.Outcome, fn func() error) {
	entry.done = true
	defer s.dropTxn(id)

	err := fn()
	outcome := wantOutcome
	if err != nil && txn.IsRaceLost(err) {
		outcome = audit.OutcomeRaceLost
	}
	if s.audit != nil {
		if recErr := s.audit.Record(context.Background(), s.session.Engine().RepoDir(), entry.ref, outcome, "", err); recErr != nil {
			s.logger.Warn("failed to record transaction outcome", "err", recErr)
		}
	}

	if err != nil {
		status := http.StatusInternalServerError
		if txn.IsRaceLost(err) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resolveInTxn(w http.ResponseWriter, entry *txnEntry, rawPath string) (*indexfs.IndexFS, bool) {
	clean, err := sanitizePath(rawPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid path: %v", err), http.StatusBadRequest)
		return nil, false
	}
	node, err := entry.root.Join(clean)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid path: %v", err), http.StatusBadRequest)
		return nil, false
	}
	return node, true
}

func (s *Server) handleTransactionFile(w http.ResponseWriter, r *http.Request, entry *txnEntry, filePath string) {
	node, ok := s.resolveInTxn(w, entry, filePath)
	if !ok {
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		content, err := node.ReadAll(ctx)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read: %v", err), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(content)
	case http.MethodPut:
		r.Body = http.MaxBytesReader(w, r.Body, 64<<20)
		var req writeFileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := node.WriteAll(ctx, []byte(req.Content)); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write: %v", err), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := node.Remove(ctx); err != nil {
			http.Error(w, fmt.Sprintf("Failed to remove: %v", err), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTransactionStatus(w http.ResponseWriter, r *http.Request, entry *txnEntry) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	parentTree, err := entry.txn.ParentTree(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to resolve parent tree: %v", err), http.StatusInternalServerError)
		return
	}
	status, err := pendingTransactionStatus(ctx, entry.root.Engine(), entry.root.IndexPath(), parentTree)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to compute status: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) handleTransactionMkdir(w http.ResponseWriter, r *http.Request, entry *txnEntry, dirPath string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	node, ok := s.resolveInTxn(w, entry, dirPath)
	if !ok {
		return
	}
	mayExist := r.URL.Query().Get("mayExist") == "true"
	createParents := r.URL.Query().Get("createParents") == "true"
	if err := node.Mkdir(r.Context(), mayExist, createParents); err != nil {
		http.Error(w, fmt.Sprintf("Failed to mkdir: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTransactionRename(w http.ResponseWriter, r *http.Request, entry *txnEntry, fromPath string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	from, ok := s.resolveInTxn(w, entry, fromPath)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	to, ok := s.resolveInTxn(w, entry, req.NewPath)
	if !ok {
		return
	}
	if err := from.Rename(r.Context(), to); err != nil {
		http.Error(w, fmt.Sprintf("Failed to rename: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
