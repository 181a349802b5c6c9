// Package readonlyfs implements ReadOnlyFS (spec.md §4.C): a path-addressed
// filesystem bound to one committed tree, immune to ref changes that happen
// after the snapshot is taken. It is grounded on
// original_source/gitfs/readonly.py, adapted to consume internal/engine
// instead of shelling out per call.
package readonlyfs

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/jisqyv/pygitfs/internal/engine"
	"github.com/jisqyv/pygitfs/internal/gitproto"
)

// placeholderName is the reserved child indexfs writes to keep an otherwise-
// empty directory representable in a tree (spec.md invariant I5: iteration
// never yields the placeholder).
const placeholderName = ".gitfs-placeholder"

// ReadOnlyFS is a node bound to a resolved commit id, a path within it, and
// the engine/repo it was snapshotted from.
type ReadOnlyFS struct {
	eng      *engine.Engine
	commitID gitproto.Hash
	treeID   gitproto.Hash
	path     string
}

// Snapshot resolves ref to a commit id and returns the root ("") node of a
// ReadOnlyFS bound to it. If ref is unset, the snapshot falls back to the
// empty-tree sentinel (spec.md §4.C), representing an empty repository.
func Snapshot(ctx context.Context, eng *engine.Engine, ref string) (*ReadOnlyFS, error) {
	commitID, ok, err := eng.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &ReadOnlyFS{eng: eng, commitID: "", treeID: gitproto.EmptyTree, path: ""}, nil
	}
	treeID, err := eng.ResolveTree(ctx, commitID)
	if err != nil {
		return nil, err
	}
	return &ReadOnlyFS{eng: eng, commitID: commitID, treeID: treeID, path: ""}, nil
}

// CommitID returns the snapshotted commit id, or "" if the ref was unset at
// snapshot time.
func (fs *ReadOnlyFS) CommitID() gitproto.Hash { return fs.commitID }

// TreeID returns the snapshotted root tree id (the empty-tree sentinel
// when the ref was unset).
func (fs *ReadOnlyFS) TreeID() gitproto.Hash { return fs.treeID }

// Path returns this node's path, "" for the root.
func (fs *ReadOnlyFS) Path() string { return fs.path }

func (fs *ReadOnlyFS) derive(p string) *ReadOnlyFS {
	return &ReadOnlyFS{eng: fs.eng, commitID: fs.commitID, treeID: fs.treeID, path: p}
}

func validateSegment(segment string) error {
	if strings.Contains(segment, "/") {
		return fmt.Errorf("%w: segment %q contains a directory separator", gitproto.ErrInsecurePath, segment)
	}
	if segment == ".." {
		return fmt.Errorf("%w: segment %q would climb out of the directory", gitproto.ErrInsecurePath, segment)
	}
	return nil
}

// Join returns the node at relpath relative to fs.
func (fs *ReadOnlyFS) Join(relpath string) (*ReadOnlyFS, error) {
	if strings.HasPrefix(relpath, "/") {
		return nil, fmt.Errorf("%w: join path %q must be relative", gitproto.ErrInsecurePath, relpath)
	}
	if relpath == "" {
		return fs.derive(fs.path), nil
	}
	if fs.path == "" {
		return fs.derive(relpath), nil
	}
	return fs.derive(fs.path + "/" + relpath), nil
}

// Child resolves each segment in turn.
func (fs *ReadOnlyFS) Child(segments ...string) (*ReadOnlyFS, error) {
	cur := fs
	for _, s := range segments {
		if err := validateSegment(s); err != nil {
			return nil, err
		}
		next, err := cur.Join(s)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// Parent returns the node one path segment up; the root's parent is itself.
func (fs *ReadOnlyFS) Parent() *ReadOnlyFS {
	if fs.path == "" {
		return fs
	}
	dir := path.Dir(fs.path)
	if dir == "." {
		dir = ""
	}
	return fs.derive(dir)
}

// Name returns the last path segment, "" for the root.
func (fs *ReadOnlyFS) Name() string {
	if fs.path == "" {
		return ""
	}
	return path.Base(fs.path)
}

func (fs *ReadOnlyFS) entryHere(ctx context.Context) ([]gitproto.TreeEntry, error) {
	return fs.eng.LsTree(ctx, fs.treeID, fs.path, false)
}

func classify(entries []gitproto.TreeEntry, selfPath string) (self gitproto.TreeEntry, ok, hasChildren bool) {
	for _, e := range entries {
		if e.Path == selfPath {
			ok = true
			self = e
			continue
		}
		hasChildren = true
	}
	return
}

// Exists reports whether this path has any entry in the snapshot.
func (fs *ReadOnlyFS) Exists(ctx context.Context) (bool, error) {
	if fs.path == "" {
		return true, nil
	}
	entries, err := fs.entryHere(ctx)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// IsDir reports whether this path names a directory.
func (fs *ReadOnlyFS) IsDir(ctx context.Context) (bool, error) {
	if fs.path == "" {
		return true, nil
	}
	entries, err := fs.entryHere(ctx)
	if err != nil {
		return false, err
	}
	self, ok, hasChildren := classify(entries, fs.path)
	if !ok {
		return hasChildren, nil
	}
	return self.Mode == gitproto.ModeDirectory, nil
}

// IsFile reports whether this path names a regular or executable file.
func (fs *ReadOnlyFS) IsFile(ctx context.Context) (bool, error) {
	if fs.path == "" {
		return false, nil
	}
	entries, err := fs.entryHere(ctx)
	if err != nil {
		return false, err
	}
	self, ok, _ := classify(entries, fs.path)
	return ok && self.Mode.IsRegularFile(), nil
}

// IsLink reports whether this path names a symbolic link.
func (fs *ReadOnlyFS) IsLink(ctx context.Context) (bool, error) {
	if fs.path == "" {
		return false, nil
	}
	entries, err := fs.entryHere(ctx)
	if err != nil {
		return false, err
	}
	self, ok, _ := classify(entries, fs.path)
	return ok && self.Mode == gitproto.ModeSymlink, nil
}

// Stat is the subset of file metadata ReadOnlyFS can report.
type Stat struct {
	Mode  gitproto.FileMode
	Size  int64
	IsDir bool
}

// Stat returns this path's metadata. Root size is defined as 0 (spec.md §9
// open question b: the original Python implementation referenced an
// undefined variable computing root size; this is a deliberate, documented
// replacement rather than a reproduction of that bug). Directory sizes are
// likewise the fixed placeholder 0.
func (fs *ReadOnlyFS) Stat(ctx context.Context) (Stat, error) {
	if fs.path == "" {
		return Stat{Mode: gitproto.ModeDirectory, IsDir: true}, nil
	}
	entries, err := fs.entryHere(ctx)
	if err != nil {
		return Stat{}, err
	}
	self, ok, hasChildren := classify(entries, fs.path)
	if !ok {
		if hasChildren {
			return Stat{Mode: gitproto.ModeDirectory, IsDir: true}, nil
		}
		return Stat{}, fmt.Errorf("%w: %s", gitproto.ErrNotFound, fs.path)
	}
	if self.Mode == gitproto.ModeDirectory {
		return Stat{Mode: gitproto.ModeDirectory, IsDir: true}, nil
	}
	size, err := fs.eng.ObjectSize(ctx, self.ID)
	if err != nil {
		return Stat{}, err
	}
	return Stat{Mode: self.Mode, Size: size}, nil
}

// Size returns the blob size for a file, or 0 for a directory/root.
func (fs *ReadOnlyFS) Size(ctx context.Context) (int64, error) {
	st, err := fs.Stat(ctx)
	if err != nil {
		return 0, err
	}
	return st.Size, nil
}

// ReadAll returns a file's content. It is the only content-access operation
// ReadOnlyFS exposes; there is no Open/Handle concept here since every read
// mode simply returns the object content wholesale (spec.md §4.C: open
// accepts only read modes).
func (fs *ReadOnlyFS) ReadAll(ctx context.Context) ([]byte, error) {
	entries, err := fs.entryHere(ctx)
	if err != nil {
		return nil, err
	}
	self, ok, _ := classify(entries, fs.path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", gitproto.ErrNotFound, fs.path)
	}
	return fs.eng.ReadObject(ctx, self.ID)
}

// Children lists the immediate children of this directory in the snapshot.
func (fs *ReadOnlyFS) Children(ctx context.Context) ([]*ReadOnlyFS, error) {
	entries, err := fs.eng.LsTree(ctx, fs.treeID, fs.path, true)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if fs.path == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", gitproto.ErrNotFound, fs.path)
	}
	out := make([]*ReadOnlyFS, 0, len(entries))
	for _, e := range entries {
		relative := e.Path
		if fs.path != "" {
			relative = strings.TrimPrefix(e.Path, fs.path+"/")
		}
		if relative == placeholderName {
			continue
		}
		child, err := fs.Join(relative)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

// The following mutation operations always fail: ReadOnlyFS is, as its name
// says, read-only (spec.md §4.C).

func (fs *ReadOnlyFS) Mkdir(context.Context, bool, bool) error  { return fs.readOnlyErr() }
func (fs *ReadOnlyFS) Remove(context.Context) error              { return fs.readOnlyErr() }
func (fs *ReadOnlyFS) Unlink(context.Context) error              { return fs.readOnlyErr() }
func (fs *ReadOnlyFS) Rmdir(context.Context) error               { return fs.readOnlyErr() }
func (fs *ReadOnlyFS) Rename(context.Context, *ReadOnlyFS) error { return fs.readOnlyErr() }

func (fs *ReadOnlyFS) readOnlyErr() error {
	return fmt.Errorf("%w: %s", gitproto.ErrReadOnlyFilesystem, fs.path)
}
