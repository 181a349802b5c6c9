package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/jisqyv/pygitfs/internal/gitproto"
)

// LsTree lists the entries of a committed tree at pathPrefix under treeish
// (spec.md §4.C queries, §6.2 ls-tree). childrenOnly mirrors ListIndex.
func (e *Engine) LsTree(ctx context.Context, treeish gitproto.Hash, pathPrefix string, childrenOnly bool) ([]gitproto.TreeEntry, error) {
	arg := pathPrefix
	if childrenOnly && pathPrefix != "" {
		arg = pathPrefix + "/"
	}
	if arg == "" {
		// git rejects an empty pathspec outright ("empty string is not a
		// valid pathspec"); "." means the same thing for the root.
		arg = "."
	}
	cmd := e.command(ctx, "ls-tree", "-z", "--full-name", string(treeish), "--", arg)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, engineError("ls-tree", err, stderr.Bytes())
	}
	return parseLsTree(stdout.Bytes())
}

// LsTreeAll lists every entry of a committed tree recursively, with no
// path restriction (internal/server's pending-transaction preview).
func (e *Engine) LsTreeAll(ctx context.Context, treeish gitproto.Hash) ([]gitproto.TreeEntry, error) {
	cmd := e.command(ctx, "ls-tree", "-r", "-z", "--full-name", string(treeish))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, engineError("ls-tree -r", err, stderr.Bytes())
	}
	return parseLsTree(stdout.Bytes())
}

func parseLsTree(data []byte) ([]gitproto.TreeEntry, error) {
	raw := string(data)
	if raw == "" {
		return nil, nil
	}
	if !strings.HasSuffix(raw, "\x00") {
		return nil, fmt.Errorf("%w: ls-tree output did not end in NUL", gitproto.ErrEngine)
	}
	records := strings.Split(strings.TrimSuffix(raw, "\x00"), "\x00")
	entries := make([]gitproto.TreeEntry, 0, len(records))
	for _, rec := range records {
		meta, path, ok := strings.Cut(rec, "\t")
		if !ok {
			return nil, fmt.Errorf("%w: malformed ls-tree record %q", gitproto.ErrEngine, rec)
		}
		fields := strings.SplitN(meta, " ", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: malformed ls-tree metadata %q", gitproto.ErrEngine, meta)
		}
		mode, kind, objID := fields[0], fields[1], fields[2]
		h, err := gitproto.NewHash(objID)
		if err != nil {
			return nil, fmt.Errorf("%w: ls-tree entry %q: %v", gitproto.ErrEngine, path, err)
		}
		entries = append(entries, gitproto.TreeEntry{
			Mode: gitproto.FileMode(mode),
			Kind: kind,
			ID:   h,
			Path: path,
		})
	}
	return entries, nil
}
