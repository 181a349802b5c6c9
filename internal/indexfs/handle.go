package indexfs

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/jisqyv/pygitfs/internal/engine"
	"github.com/jisqyv/pygitfs/internal/gitproto"
)

// OpenMode selects how Open exposes a path's working file. Only ReadOnly
// leaves the writable bit unset; every other mode marks the path as
// "written" for the purposes of promotion on last-close (spec.md §4.B:
// original semantics distinguished only 'r'/'rb' from everything else).
type OpenMode int

const (
	ReadOnly OpenMode = iota
	WriteTruncate
	Append
	ReadWrite
)

func osFlags(mode OpenMode) int {
	switch mode {
	case WriteTruncate:
		return os.O_RDWR | os.O_TRUNC
	case Append:
		return os.O_RDWR | os.O_APPEND
	case ReadWrite:
		return os.O_RDWR
	default:
		return os.O_RDONLY
	}
}

// workFileName deterministically derives the on-disk working-file path for
// path from indexPath, matching the original's
// "<index>.<sha1_hex(path)>.work" convention (spec.md §4.B).
func workFileName(indexPath, path string) string {
	sum := sha1.Sum([]byte(path))
	return fmt.Sprintf("%s.%s.work", indexPath, hex.EncodeToString(sum[:]))
}

func tmpFileName(indexPath, path string) string {
	sum := sha1.Sum([]byte(path))
	return fmt.Sprintf("%s.%s.tmp", indexPath, hex.EncodeToString(sum[:]))
}

// Handle is an open working file over one IndexFS path. It embeds *os.File
// so callers can Read/Write/Seek/Close it directly.
type Handle struct {
	*os.File
	fs       *IndexFS
	mode     OpenMode
	writable bool
	closed   bool
}

// Open materializes this path's working file (copying in the path's
// current object content on first open within this instance tree) and
// returns a Handle over it in the requested mode (spec.md §4.B open).
// Directories cannot be opened.
func (fs *IndexFS) Open(ctx context.Context, mode OpenMode) (*Handle, error) {
	isDir, err := fs.IsDir(ctx)
	if err != nil {
		return nil, err
	}
	if isDir {
		return nil, fmt.Errorf("%w: %s is a directory", gitproto.ErrInsecurePath, fs.path)
	}

	work := workFileName(fs.indexPath, fs.path)

	fs.open.lock()
	state, ok := fs.open.byPath[fs.path]
	firstOpen := !ok
	if !ok {
		state = &pathState{users: make(map[*Handle]struct{})}
		fs.open.byPath[fs.path] = state
	}
	if mode != ReadOnly {
		state.writable = true
	}
	fs.open.unlock()

	if firstOpen {
		if err := materialize(ctx, fs.eng, fs.indexPath, fs.path, work); err != nil {
			fs.open.lock()
			delete(fs.open.byPath, fs.path)
			fs.open.unlock()
			return nil, err
		}
	}

	f, err := os.OpenFile(work, osFlags(mode)|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("indexfs: opening working file for %s: %w", fs.path, err)
	}

	h := &Handle{File: f, fs: fs, mode: mode, writable: mode != ReadOnly}

	fs.open.lock()
	state.users[h] = struct{}{}
	fs.open.unlock()

	return h, nil
}

// materialize copies the path's current content (empty if the path has no
// object yet) into the working file, if the working file does not already
// exist from a concurrent opener.
func materialize(ctx context.Context, eng *engine.Engine, indexPath, path, work string) error {
	if _, err := os.Stat(work); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("indexfs: checking working file for %s: %w", path, err)
	}

	var content []byte
	entries, err := eng.ListIndex(ctx, indexPath, path, false)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Path == path {
			content, err = eng.ReadObject(ctx, e.ID)
			if err != nil {
				return err
			}
			break
		}
	}

	tmp := tmpFileName(indexPath, path)
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("indexfs: writing working file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, work); err != nil && !os.IsExist(err) {
		// Another opener may have raced us to the rename; if the
		// destination now exists, that is fine.
		if _, statErr := os.Stat(work); statErr != nil {
			return fmt.Errorf("indexfs: installing working file for %s: %w", path, err)
		}
	}
	return nil
}

// Close closes the handle. On the last close of a path that was ever
// opened writable, the working file's final content is read back, the
// working file is removed, a new blob is written from that content, and
// the index is updated to point at it (spec.md §4.B close-time promotion).
func (h *Handle) Close(ctx context.Context) error {
	if h.closed {
		return nil
	}
	h.closed = true

	if err := h.File.Close(); err != nil {
		return fmt.Errorf("indexfs: closing working file for %s: %w", h.fs.path, err)
	}

	fs := h.fs
	fs.open.lock()
	state := fs.open.byPath[fs.path]
	delete(state.users, h)
	last := len(state.users) == 0
	writable := state.writable
	if last {
		delete(fs.open.byPath, fs.path)
	}
	fs.open.unlock()

	if !last || !writable {
		return nil
	}

	work := workFileName(fs.indexPath, fs.path)
	content, err := os.ReadFile(work)
	if err != nil {
		return fmt.Errorf("indexfs: reading back working file for %s: %w", fs.path, err)
	}
	if err := os.Remove(work); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("indexfs: removing working file for %s: %w", fs.path, err)
	}

	id, err := fs.eng.WriteObject(ctx, content)
	if err != nil {
		return err
	}
	return fs.eng.UpdateIndex(ctx, fs.indexPath, []engine.IndexEdit{
		{Mode: gitproto.ModeRegular, ID: id, Path: fs.path},
	})
}

// ReadAll is a convenience for read-only callers that want the whole
// current content of a path without managing a Handle lifecycle.
func (fs *IndexFS) ReadAll(ctx context.Context) ([]byte, error) {
	h, err := fs.Open(ctx, ReadOnly)
	if err != nil {
		return nil, err
	}
	defer h.Close(ctx)
	data, err := io.ReadAll(h.File)
	if err != nil {
		return nil, fmt.Errorf("indexfs: reading %s: %w", fs.path, err)
	}
	return data, nil
}

// WriteAll is a convenience that opens, truncates, writes, and closes a
// path in one call, promoting its content to a blob on return.
func (fs *IndexFS) WriteAll(ctx context.Context, content []byte) error {
	h, err := fs.Open(ctx, WriteTruncate)
	if err != nil {
		return err
	}
	if _, err := h.File.Write(content); err != nil {
		h.Close(ctx)
		return fmt.Errorf("indexfs: writing %s: %w", fs.path, err)
	}
	return h.Close(ctx)
}
