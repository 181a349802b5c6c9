// Package gitproto defines the shared vocabulary used across the pygitfs
// transactional core: object identifiers, tree-entry file modes, and the
// error taxonomy raised by IndexFS, ReadOnlyFS, and Transaction.
package gitproto

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Hash is a 40-character hex-encoded SHA-1 object identifier, exactly as
// produced and consumed by the external engine's plumbing commands.
type Hash string

// EmptyTree is the well-known object id of the empty tree.
const EmptyTree Hash = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// ZeroID is the 40-zero id meaning "no current value" in update-ref
// compare-and-swap preconditions.
const ZeroID Hash = "0000000000000000000000000000000000000000"

// NewHash validates s as a 40-character hex string.
func NewHash(s string) (Hash, error) {
	if len(s) != 40 {
		return "", fmt.Errorf("gitproto: invalid hash length %d", len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("gitproto: invalid hash %q: %w", s, err)
	}
	return Hash(s), nil
}

// IsZero reports whether h is the null id or empty.
func (h Hash) IsZero() bool {
	return h == "" || h == ZeroID
}

// Short returns the first 7 characters of h, or all of h if shorter.
func (h Hash) Short() string {
	if len(h) < 7 {
		return string(h)
	}
	return string(h)[:7]
}

// FileMode is a tree-entry mode as used by ls-tree/ls-files/update-index.
// Only the subset named in spec.md's data model is supported: the
// transactional core never writes any other mode.
type FileMode string

const (
	// ModeRegular is a normal (non-executable) file.
	ModeRegular FileMode = "100644"
	// ModeExecutable is an executable file.
	ModeExecutable FileMode = "100755"
	// ModeSymlink is a symbolic link, content is the link target.
	ModeSymlink FileMode = "120000"
	// ModeDirectory is a tree object. Directories are implicit in the
	// index/working-tree views this module exposes; ModeDirectory only
	// appears in ls-tree output over a committed tree.
	ModeDirectory FileMode = "040000"
	// ModeDeleted is the update-index removal sentinel, never a real mode.
	ModeDeleted FileMode = "0"
)

// IsRegularFile reports whether m names an ordinary file (regular or
// executable), as opposed to a directory, symlink, or deletion sentinel.
func (m FileMode) IsRegularFile() bool {
	return m == ModeRegular || m == ModeExecutable
}

// TreeEntry is one (mode, kind, object id, path) record, as read from or
// written to an index or a committed tree via the external engine.
type TreeEntry struct {
	Mode FileMode
	Kind string // "blob" or "tree"
	ID   Hash
	Path string
}

// RefState is the observable state of a reference: it has never been set,
// it resolves directly to a commit, or it is a symbolic alias of another
// reference. The adapter only ever returns Unset or Direct; symbolic refs
// are followed before the adapter reports a result.
type RefState int

const (
	// RefUnset means the reference has no current value.
	RefUnset RefState = iota
	// RefDirect means the reference names a commit id.
	RefDirect
	// RefSymbolic means the reference names another reference.
	RefSymbolic
)

// Error taxonomy from spec.md §7. Each is a sentinel so callers can use
// errors.Is; call sites wrap with %w to attach context.
var (
	// ErrInsecurePath is raised by child/join on a segment containing "/",
	// equal to "..", or an absolute relpath.
	ErrInsecurePath = errors.New("gitproto: insecure path")
	// ErrNotFound is raised by lookups on absent paths, and by directory
	// iteration on a non-root path that does not exist.
	ErrNotFound = errors.New("gitproto: not found")
	// ErrAlreadyExists is raised by mkdir without may_exist on an existing path.
	ErrAlreadyExists = errors.New("gitproto: already exists")
	// ErrCrossDeviceRename is raised when rename's target belongs to a
	// different repository or index.
	ErrCrossDeviceRename = errors.New("gitproto: cross-device rename")
	// ErrReadOnlyFilesystem is raised by any mutation on a ReadOnlyFS.
	ErrReadOnlyFilesystem = errors.New("gitproto: read-only filesystem")
	// ErrRaceLost is raised when a transaction's ref compare-and-swap is
	// rejected at commit time.
	ErrRaceLost = errors.New("gitproto: transaction lost the race to update the ref")
	// ErrEngine wraps a fatal failure from the external object/ref engine
	// (non-zero exit, malformed output).
	ErrEngine = errors.New("gitproto: engine error")
)
