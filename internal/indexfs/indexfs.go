// Package indexfs implements IndexFS and TemporaryIndexFS (spec.md §4.B,
// §4.D): a path-addressed mutable filesystem view bound to one index file
// and one repository, with deferred object creation and index rewriting on
// last-close of a path's working file.
//
// One index file must never be driven by more than one IndexFS instance at
// a time (spec.md invariant I1); this package does nothing to enforce that
// across processes, exactly as spec.md describes.
package indexfs

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/jisqyv/pygitfs/internal/engine"
	"github.com/jisqyv/pygitfs/internal/gitproto"
)

// placeholderName is the reserved child used to give an otherwise-empty
// directory an entry in the index/tree.
const placeholderName = ".gitfs-placeholder"

// openFiles is the per-instance-tree state shared by every IndexFS node
// derived from one root construction (spec.md §9: "the open-files map is
// logically associated with the IndexFS instance tree rooted at a single
// IndexFS construction, not with any individual node"). A fresh *IndexFS
// from New always gets its own openFiles; join/child/parent/rename share it
// by reference.
type openFiles struct {
	mu    chan struct{} // 1-buffered mutex; see lock/unlock below
	byPath map[string]*pathState
}

// pathState tracks the live handles over one path's working file.
type pathState struct {
	users    map[*Handle]struct{}
	writable bool
}

func newOpenFiles() *openFiles {
	of := &openFiles{
		mu:     make(chan struct{}, 1),
		byPath: make(map[string]*pathState),
	}
	of.mu <- struct{}{}
	return of
}

func (of *openFiles) lock()   { <-of.mu }
func (of *openFiles) unlock() { of.mu <- struct{}{} }

// IndexFS is a node: a (repo engine, index file, path) triple plus a
// reference to the shared open-files map (spec.md data model "Path object
// (IndexFS node)"). The zero value is not usable; construct with New.
type IndexFS struct {
	eng       *engine.Engine
	indexPath string
	path      string
	open      *openFiles
}

// New returns the root node ("") of a fresh IndexFS bound to indexPath on
// eng, with a freshly allocated open-files map.
func New(eng *engine.Engine, indexPath string) *IndexFS {
	return &IndexFS{
		eng:       eng,
		indexPath: indexPath,
		path:      "",
		open:      newOpenFiles(),
	}
}

func (fs *IndexFS) derive(p string) *IndexFS {
	return &IndexFS{eng: fs.eng, indexPath: fs.indexPath, path: p, open: fs.open}
}

// Path returns this node's path, "" for the root.
func (fs *IndexFS) Path() string { return fs.path }

// IndexPath returns the index file this node is bound to.
func (fs *IndexFS) IndexPath() string { return fs.indexPath }

// Engine returns the adapter this node uses.
func (fs *IndexFS) Engine() *engine.Engine { return fs.eng }

// Name returns the last path segment, "" for the root.
func (fs *IndexFS) Name() string {
	if fs.path == "" {
		return ""
	}
	return path.Base(fs.path)
}

// sameOrigin reports whether other is bound to the same engine and index
// file as fs (spec.md: rename/mass-set require this).
func (fs *IndexFS) sameOrigin(other *IndexFS) bool {
	return other != nil && other.eng == fs.eng && other.indexPath == fs.indexPath
}

func validateSegment(segment string) error {
	if strings.Contains(segment, "/") {
		return fmt.Errorf("%w: segment %q contains a directory separator", gitproto.ErrInsecurePath, segment)
	}
	// Intentional policy (spec.md §9 open question c): reject a segment
	// exactly equal to "..", but do not scan for ".." embedded within a
	// longer segment.
	if segment == ".." {
		return fmt.Errorf("%w: segment %q would climb out of the directory", gitproto.ErrInsecurePath, segment)
	}
	return nil
}

// Join returns the node at relpath relative to fs. relpath must not start
// with "/".
func (fs *IndexFS) Join(relpath string) (*IndexFS, error) {
	if strings.HasPrefix(relpath, "/") {
		return nil, fmt.Errorf("%w: join path %q must be relative", gitproto.ErrInsecurePath, relpath)
	}
	return fs.derive(joinPath(fs.path, relpath)), nil
}

// Child resolves each segment in turn, rejecting any that contains "/" or
// equals "..".
func (fs *IndexFS) Child(segments ...string) (*IndexFS, error) {
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

// Parent returns the node one path segment up. The root's parent is itself.
func (fs *IndexFS) Parent() *IndexFS {
	if fs.path == "" {
		return fs
	}
	dir := path.Dir(fs.path)
	if dir == "." {
		dir = ""
	}
	return fs.derive(dir)
}

// joinPath mirrors path.Join but preserves "" for the empty/root case,
// where path.Join("", "") would also yield "" but path.Join("", "a") must
// yield "a" without the leading-slash normalization path.Join otherwise
// performs unpredictably on empty roots.
func joinPath(base, rel string) string {
	if rel == "" {
		return base
	}
	if base == "" {
		return rel
	}
	return base + "/" + rel
}

// Equal reports whether fs and other name the same path in the same
// repo/index.
func (fs *IndexFS) Equal(other *IndexFS) bool {
	return fs.sameOrigin(other) && fs.path == other.path
}

// Less orders two nodes lexicographically by path. Both must share the same
// repo/index; Less panics otherwise, mirroring the Python original's
// NotImplemented-across-incomparable-types contract translated to Go's
// total-order expectation for sort.
func (fs *IndexFS) Less(other *IndexFS) bool {
	if !fs.sameOrigin(other) {
		panic("indexfs: cannot order nodes from different repos/indexes")
	}
	return fs.path < other.path
}

// entryHere reports the single exact-or-prefix listing used by
// isdir/isfile/islink/exists/size/stat (spec.md §4.B).
func (fs *IndexFS) entryHere(ctx context.Context) ([]gitproto.TreeEntry, error) {
	return fs.eng.ListIndex(ctx, fs.indexPath, fs.path, false)
}

// Exists reports whether this path has any entry (itself or a descendant).
func (fs *IndexFS) Exists(ctx context.Context) (bool, error) {
	if fs.path == "" {
		return true, nil
	}
	entries, err := fs.entryHere(ctx)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

// classify finds, among entryHere's results, the entry that is this path
// exactly (ok=true), distinguishing it from entries that are merely
// descendants.
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

// IsDir reports whether this path names a directory (the root always does).
func (fs *IndexFS) IsDir(ctx context.Context) (bool, error) {
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
func (fs *IndexFS) IsFile(ctx context.Context) (bool, error) {
	if fs.path == "" {
		return false, nil
	}
	entries, err := fs.entryHere(ctx)
	if err != nil {
		return false, err
	}
	self, ok, _ := classify(entries, fs.path)
	if !ok {
		return false, nil
	}
	return self.Mode.IsRegularFile(), nil
}

// IsLink reports whether this path names a symbolic link.
func (fs *IndexFS) IsLink(ctx context.Context) (bool, error) {
	if fs.path == "" {
		return false, nil
	}
	entries, err := fs.entryHere(ctx)
	if err != nil {
		return false, err
	}
	self, ok, _ := classify(entries, fs.path)
	if !ok {
		return false, nil
	}
	return self.Mode == gitproto.ModeSymlink, nil
}

// Stat is the subset of file metadata IndexFS can report.
type Stat struct {
	Mode  gitproto.FileMode
	Size  int64
	IsDir bool
}

// Stat returns this path's metadata, or gitproto.ErrNotFound if it has no
// entry. Directory sizes are a fixed placeholder of 0 (spec.md §9 open
// question a): real recursive directory sizes are never computed.
func (fs *IndexFS) Stat(ctx context.Context) (Stat, error) {
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
	size, err := fs.eng.ObjectSize(ctx, self.ID)
	if err != nil {
		return Stat{}, err
	}
	return Stat{Mode: self.Mode, Size: size}, nil
}

// Size returns the blob size for a file, or the placeholder 0 for a
// directory (spec.md §9 open question a), matching Stat's values.
func (fs *IndexFS) Size(ctx context.Context) (int64, error) {
	st, err := fs.Stat(ctx)
	if err != nil {
		return 0, err
	}
	return st.Size, nil
}

// GetObjectID looks up the blob id recorded at this exact path, or
// gitproto.ErrNotFound if absent.
func (fs *IndexFS) GetObjectID(ctx context.Context) (gitproto.Hash, error) {
	entries, err := fs.entryHere(ctx)
	if err != nil {
		return "", err
	}
	self, ok, _ := classify(entries, fs.path)
	if !ok {
		return "", fmt.Errorf("%w: %s", gitproto.ErrNotFound, fs.path)
	}
	return self.ID, nil
}

// ObjectEdit is one (path, blob id) assignment for MassSetObjectID.
type ObjectEdit struct {
	Path *IndexFS
	ID   gitproto.Hash
}

// MassSetObjectID batch-assigns blob ids directly, bypassing content
// promotion. The object need not already exist; integrity is the caller's
// responsibility (spec.md §4.B).
func (fs *IndexFS) MassSetObjectID(ctx context.Context, edits []ObjectEdit) error {
	idxEdits := make([]engine.IndexEdit, 0, len(edits))
	for _, ed := range edits {
		if !fs.sameOrigin(ed.Path) {
			return fmt.Errorf("indexfs: mass-set path %q is from a different repo/index", ed.Path.path)
		}
		idxEdits = append(idxEdits, engine.IndexEdit{Mode: gitproto.ModeRegular, ID: ed.ID, Path: ed.Path.path})
	}
	return fs.eng.UpdateIndex(ctx, fs.indexPath, idxEdits)
}

// SetObjectID replaces this path's content with that of an existing object.
func (fs *IndexFS) SetObjectID(ctx context.Context, id gitproto.Hash) error {
	return fs.MassSetObjectID(ctx, []ObjectEdit{{Path: fs, ID: id}})
}

// Remove deletes this path's index entry (spec.md §4.B). Unlink is an
// alias, matching the two names spec.md gives the same operation.
func (fs *IndexFS) Remove(ctx context.Context) error {
	return fs.eng.UpdateIndex(ctx, fs.indexPath, []engine.IndexEdit{
		{Mode: gitproto.ModeDeleted, ID: gitproto.ZeroID, Path: fs.path},
	})
}

// Unlink is an alias for Remove.
func (fs *IndexFS) Unlink(ctx context.Context) error { return fs.Remove(ctx) }

// Rmdir removes only this directory's placeholder child (no recursive
// deletion, spec.md §4.B).
func (fs *IndexFS) Rmdir(ctx context.Context) error {
	ph, err := fs.Child(placeholderName)
	if err != nil {
		return err
	}
	return ph.Remove(ctx)
}

// Mkdir gives an otherwise-empty directory an entry by writing the
// placeholder blob (spec.md §4.B).
func (fs *IndexFS) Mkdir(ctx context.Context, mayExist, createParents bool) error {
	if !mayExist {
		exists, err := fs.Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", gitproto.ErrAlreadyExists, fs.path)
		}
	}
	if !createParents {
		parent := fs.Parent()
		if !parent.Equal(fs) {
			exists, err := parent.Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: parent of %s", gitproto.ErrNotFound, fs.path)
			}
		}
	}
	empty, err := fs.eng.WriteObject(ctx, nil)
	if err != nil {
		return err
	}
	ph, err := fs.Child(placeholderName)
	if err != nil {
		return err
	}
	return fs.eng.UpdateIndex(ctx, fs.indexPath, []engine.IndexEdit{
		{Mode: gitproto.ModeRegular, ID: empty, Path: ph.path},
	})
}

// Rename moves this path (and, if it is a directory, every entry beneath
// it) to newPath, which must belong to the same repo/index (spec.md §4.B,
// P7). On success fs.Path() reports newPath's path.
func (fs *IndexFS) Rename(ctx context.Context, newPath *IndexFS) error {
	if !fs.sameOrigin(newPath) {
		return fmt.Errorf("%w: rename target is from a different repo/index", gitproto.ErrCrossDeviceRename)
	}
	entries, err := fs.entryHere(ctx)
	if err != nil {
		return err
	}
	edits := make([]engine.IndexEdit, 0, len(entries)*2)
	prefix := fs.path + "/"
	for _, e := range entries {
		edits = append(edits, engine.IndexEdit{Mode: gitproto.ModeDeleted, ID: gitproto.ZeroID, Path: e.Path})
		if e.Path == fs.path {
			edits = append(edits, engine.IndexEdit{Mode: e.Mode, ID: e.ID, Path: newPath.path})
		} else {
			rest := strings.TrimPrefix(e.Path, prefix)
			edits = append(edits, engine.IndexEdit{Mode: e.Mode, ID: e.ID, Path: newPath.path + "/" + rest})
		}
	}
	if err := fs.eng.UpdateIndex(ctx, fs.indexPath, edits); err != nil {
		return err
	}
	fs.path = newPath.path
	return nil
}

// Children lists the immediate children of this directory (spec.md §4.B,
// §4.B invariant I5: never yields the placeholder). Multi-segment remainders
// collapse to a single entry for their first segment. An empty listing at a
// non-root path raises gitproto.ErrNotFound; the root simply yields nothing
// when empty.
func (fs *IndexFS) Children(ctx context.Context) ([]*IndexFS, error) {
	entries, err := fs.eng.ListIndex(ctx, fs.indexPath, fs.path, true)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if fs.path == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", gitproto.ErrNotFound, fs.path)
	}

	var out []*IndexFS
	var lastSubdir string
	for _, e := range entries {
		relative := e.Path
		if fs.path != "" {
			relative = strings.TrimPrefix(e.Path, fs.path+"/")
		}
		if relative == placeholderName {
			continue
		}
		head, _, isNested := strings.Cut(relative, "/")
		if isNested {
			if head == lastSubdir {
				continue
			}
			lastSubdir = head
			child, err := fs.Join(head)
			if err != nil {
				return nil, err
			}
			out = append(out, child)
		} else {
			lastSubdir = ""
			child, err := fs.Join(relative)
			if err != nil {
				return nil, err
			}
			out = append(out, child)
		}
	}
	return out, nil
}

// SortNodes sorts nodes in place by path, for callers that want a
// deterministic listing order beyond the engine's own byte order.
func SortNodes(nodes []*IndexFS) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].path < nodes[j].path })
}
