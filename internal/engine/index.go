package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/jisqyv/pygitfs/internal/gitproto"
)

// ReadTreeInto materializes tree into the index file at indexPath, as a
// fresh staging area (spec.md §4.A read_tree_into_index).
func (e *Engine) ReadTreeInto(ctx context.Context, tree gitproto.Hash, indexPath string) error {
	cmd := e.commandWithIndex(ctx, indexPath, "read-tree", string(tree))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return engineError("read-tree", err, stderr.Bytes())
	}
	return nil
}

// IndexEdit is one upsert/delete to apply via UpdateIndex. Mode
// gitproto.ModeDeleted removes the entry.
type IndexEdit struct {
	Mode FileMode
	ID   gitproto.Hash
	Path string
}

// FileMode is re-exported here for call-site convenience; it is the same
// type as gitproto.FileMode.
type FileMode = gitproto.FileMode

// UpdateIndex applies a batch of upserts/deletes to the index at indexPath
// via `update-index -z --index-info`, all staged at stage 0 (spec.md's
// Index data model only ever uses stage 0).
func (e *Engine) UpdateIndex(ctx context.Context, indexPath string, edits []IndexEdit) error {
	if len(edits) == 0 {
		return nil
	}
	cmd := e.commandWithIndex(ctx, indexPath, "update-index", "-z", "--index-info")
	var stdin bytes.Buffer
	for _, ed := range edits {
		id := ed.ID
		if ed.Mode == gitproto.ModeDeleted {
			id = gitproto.ZeroID
		}
		fmt.Fprintf(&stdin, "%s blob %s 0\t%s\x00", ed.Mode, id, ed.Path)
	}
	cmd.Stdin = &stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return engineError("update-index", err, stderr.Bytes())
	}
	return nil
}

// ListIndex lists index entries at pathPrefix (spec.md §4.A list_index).
// When childrenOnly is true, entries are restricted to path/<rest> (git's
// `ls-files -- <path>/` convention); otherwise the path itself is included
// too. Output order is the engine's own lexicographic byte order.
func (e *Engine) ListIndex(ctx context.Context, indexPath, pathPrefix string, childrenOnly bool) ([]gitproto.TreeEntry, error) {
	arg := pathPrefix
	if childrenOnly && pathPrefix != "" {
		arg = pathPrefix + "/"
	}
	if arg == "" {
		// git rejects an empty pathspec outright ("empty string is not a
		// valid pathspec"); "." means the same thing for the root.
		arg = "."
	}
	cmd := e.commandWithIndex(ctx, indexPath, "ls-files", "--stage", "--full-name", "-z", "--", arg)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, engineError("ls-files", err, stderr.Bytes())
	}
	return parseLsFiles(stdout.Bytes())
}

func parseLsFiles(data []byte) ([]gitproto.TreeEntry, error) {
	raw := string(data)
	if raw == "" {
		return nil, nil
	}
	if !strings.HasSuffix(raw, "\x00") {
		return nil, fmt.Errorf("%w: ls-files output did not end in NUL", gitproto.ErrEngine)
	}
	records := strings.Split(strings.TrimSuffix(raw, "\x00"), "\x00")
	entries := make([]gitproto.TreeEntry, 0, len(records))
	for _, rec := range records {
		meta, path, ok := strings.Cut(rec, "\t")
		if !ok {
			return nil, fmt.Errorf("%w: malformed ls-files record %q", gitproto.ErrEngine, rec)
		}
		fields := strings.SplitN(meta, " ", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: malformed ls-files metadata %q", gitproto.ErrEngine, meta)
		}
		mode, objID, stage := fields[0], fields[1], fields[2]
		if stage != "0" {
			return nil, fmt.Errorf("%w: unexpected non-zero stage %q for %q (merge conflicts are not supported)", gitproto.ErrEngine, stage, path)
		}
		h, err := gitproto.NewHash(objID)
		if err != nil {
			return nil, fmt.Errorf("%w: ls-files entry %q: %v", gitproto.ErrEngine, path, err)
		}
		entries = append(entries, gitproto.TreeEntry{
			Mode: gitproto.FileMode(mode),
			Kind: "blob",
			ID:   h,
			Path: path,
		})
	}
	return entries, nil
}

// ListIndexAll lists every entry in the index at indexPath, with no path
// restriction, for callers that need a full flat snapshot to diff against
// another tree (internal/server's pending-transaction preview).
func (e *Engine) ListIndexAll(ctx context.Context, indexPath string) ([]gitproto.TreeEntry, error) {
	cmd := e.commandWithIndex(ctx, indexPath, "ls-files", "--stage", "--full-name", "-z")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, engineError("ls-files", err, stderr.Bytes())
	}
	return parseLsFiles(stdout.Bytes())
}

// ListConflictedPaths returns the distinct paths left at a non-zero stage
// in the index at indexPath, for callers (internal/merge) that
// deliberately work outside the transactional core's stage-0-only
// invariant after a 3-way `read-tree -m`.
func (e *Engine) ListConflictedPaths(ctx context.Context, indexPath string) ([]string, error) {
	cmd := e.commandWithIndex(ctx, indexPath, "ls-files", "--stage", "--full-name", "-z", "--unmerged")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, engineError("ls-files --unmerged", err, stderr.Bytes())
	}
	raw := stdout.String()
	if raw == "" {
		return nil, nil
	}
	records := strings.Split(strings.TrimSuffix(raw, "\x00"), "\x00")
	seen := make(map[string]bool)
	var out []string
	for _, rec := range records {
		_, p, ok := strings.Cut(rec, "\t")
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

// WriteTree writes the index at indexPath out as a tree object.
func (e *Engine) WriteTree(ctx context.Context, indexPath string) (gitproto.Hash, error) {
	cmd := e.commandWithIndex(ctx, indexPath, "write-tree")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", engineError("write-tree", err, stderr.Bytes())
	}
	sha := strings.TrimSpace(stdout.String())
	h, err := gitproto.NewHash(sha)
	if err != nil {
		return "", fmt.Errorf("%w: write-tree returned %q: %v", gitproto.ErrEngine, sha, err)
	}
	return h, nil
}

// ReadTreeMerge performs the 3-way `read-tree -m` named in spec.md §9 as
// existing in the adapter but outside the transactional core. It is used
// only by internal/merge. -i skips the work-tree check, which a bare
// repository cannot satisfy.
func (e *Engine) ReadTreeMerge(ctx context.Context, indexPath string, base, ours, theirs gitproto.Hash) error {
	cmd := e.commandWithIndex(ctx, indexPath, "read-tree", "-m", "-i", string(base), string(ours), string(theirs))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return engineError("read-tree -m", err, stderr.Bytes())
	}
	return nil
}
