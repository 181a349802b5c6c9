package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jisqyv/pygitfs/internal/gitproto"
	"github.com/jisqyv/pygitfs/internal/history"
	"github.com/jisqyv/pygitfs/internal/preview"
	"github.com/jisqyv/pygitfs/internal/readonlyfs"
)

// extractPathParam strips prefix from the request path, validates the
// remainder with sanitizePath, and resolves it against the session's
// currently cached snapshot.
func (s *Server) extractPathParam(w http.ResponseWriter, r *http.Request, prefix string) (*readonlyfs.ReadOnlyFS, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	raw := strings.TrimPrefix(r.URL.Path, prefix)
	if raw == r.URL.Path {
		http.Error(w, "Missing path", http.StatusBadRequest)
		return nil, false
	}
	raw = strings.TrimPrefix(raw, "/")

	clean, err := sanitizePath(raw)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid path: %v", err), http.StatusBadRequest)
		return nil, false
	}

	session := sessionFromCtx(r.Context())
	if session == nil {
		http.Error(w, "Repository not available", http.StatusInternalServerError)
		return nil, false
	}

	node, err := session.Snapshot().Join(clean)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid path: %v", err), http.StatusBadRequest)
		return nil, false
	}
	return node, true
}

// handleHead serves the currently watched ref and commit id.
func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	session := sessionFromCtx(r.Context())
	if session == nil {
		http.Error(w, "Repository not available", http.StatusInternalServerError)
		return
	}
	snap := session.Snapshot()
	response := map[string]any{
		"ref":      session.ref,
		"commitId": snap.CommitID(),
		"treeId":   snap.TreeID(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// treeEntryView is the JSON shape of one directory entry.
type treeEntryView struct {
	Name string            `json:"name"`
	Path string            `json:"path"`
	Mode gitproto.FileMode `json:"mode"`
	Kind string            `json:"kind"`
}

// handleTree serves directory listings from the watched snapshot.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	node, ok := s.extractPathParam(w, r, "/api/tree/")
	if !ok {
		return
	}
	ctx := r.Context()

	isDir, err := node.IsDir(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to stat path: %v", err), http.StatusNotFound)
		return
	}
	if !isDir {
		http.Error(w, "Not a directory", http.StatusBadRequest)
		return
	}

	children, err := node.Children(ctx)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load tree: %v", err), http.StatusNotFound)
		return
	}

	entries := make([]treeEntryView, 0, len(children))
	for _, c := range children {
		st, err := c.Stat(ctx)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to stat entry: %v", err), http.StatusInternalServerError)
			return
		}
		kind := "blob"
		if st.IsDir {
			kind = "tree"
		}
		entries = append(entries, treeEntryView{
			Name: c.Name(),
			Path: c.Path(),
			Mode: st.Mode,
			Kind: kind,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"path": node.Path(), "entries": entries}); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

const maxBlobPreviewSize = 512 * 1024

// handleBlob serves raw (or markdown-rendered) blob content from the
// watched snapshot.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	node, ok := s.extractPathParam(w, r, "/api/blob/")
	if !ok {
		return
	}
	ctx := r.Context()

	session := sessionFromCtx(r.Context())
	cacheKey := string(session.Snapshot().CommitID()) + ":" + node.Path()
	content, cached := session.blobCache.Get(cacheKey)
	if !cached {
		var err error
		content, err = node.ReadAll(ctx)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to load blob: %v", err), http.StatusNotFound)
			return
		}
		session.blobCache.Put(cacheKey, content)
	}

	isBinary := isBinaryContent(content)

	response := map[string]any{
		"path":      node.Path(),
		"size":      len(content),
		"binary":    isBinary,
		"truncated": false,
	}

	if isBinary {
		response["content"] = ""
	} else {
		text := content
		truncated := false
		if len(text) > maxBlobPreviewSize {
			text = text[:maxBlobPreviewSize]
			truncated = true
		}
		response["content"] = string(text)
		response["truncated"] = truncated

		if !truncated {
			if rendered, err := preview.RenderPath(node.Path(), text); err == nil {
				response["renderedHTML"] = string(rendered)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// isBinaryContent checks if content appears to be binary by looking for null
// bytes in the first 8KB. This matches Git's heuristic for binary detection.
func isBinaryContent(content []byte) bool {
	checkSize := min(8192, len(content))
	for i := range checkSize {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// handleFileHistory serves the commits at which a file's content changed,
// walking ancestry from the watched ref. Path format: /api/history/{path}
func (s *Server) handleFileHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/history/")
	if raw == r.URL.Path {
		http.Error(w, "Missing path", http.StatusBadRequest)
		return
	}
	clean, err := sanitizePath(strings.TrimPrefix(raw, "/"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid path: %v", err), http.StatusBadRequest)
		return
	}

	session := sessionFromCtx(r.Context())
	if session == nil {
		http.Error(w, "Repository not available", http.StatusInternalServerError)
		return
	}
	snap := session.Snapshot()
	if snap.CommitID() == "" {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"path": clean, "commits": []any{}})
		return
	}

	changes, err := history.FileHistory(r.Context(), session.Engine(), snap.CommitID(), clean)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to compute history: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"path": clean, "commits": changes}); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
