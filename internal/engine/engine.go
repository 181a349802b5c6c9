// Package engine is the thin, typed adapter over the external object/ref
// engine (spec.md §4.A, §6.2): it shells out to the git plumbing commands
// and exposes pure-function-shaped Go methods to the rest of the module.
// Nothing above this package parses git's on-disk object or pack format;
// that responsibility belongs to the external binary (spec.md §1).
package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/jisqyv/pygitfs/internal/gitproto"
)

// Engine wraps one bare repository path and invokes the external git binary
// to satisfy every object/ref operation the transactional core needs. An
// Engine is safe for concurrent use by independent callers as long as they
// do not share one index file (spec.md invariant I1); see internal/indexfs.
type Engine struct {
	repoDir string
	gitBin  string

	mu    sync.Mutex
	batch *batchCatFile // lazily started, see batch.go
}

// New returns an Engine bound to the bare repository at repoDir. It does not
// touch the filesystem; repository existence is validated lazily by the
// first command that needs it, matching the original adapter's behavior.
func New(repoDir string) *Engine {
	return &Engine{
		repoDir: repoDir,
		gitBin:  "git",
	}
}

// RepoDir returns the bare repository path this Engine is bound to.
func (e *Engine) RepoDir() string { return e.repoDir }

// Close shuts down any long-lived subprocess owned by this Engine (the
// batched cat-file reader). It is safe to call Close on an Engine that never
// opened one.
func (e *Engine) Close() error {
	e.mu.Lock()
	b := e.batch
	e.batch = nil
	e.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.close()
}

// command builds an *exec.Cmd for the given git subcommand, always pointing
// at this Engine's bare repository via --git-dir, as commands.py does for
// every invocation.
func (e *Engine) command(ctx context.Context, args ...string) *exec.Cmd {
	full := append([]string{"--git-dir=" + e.repoDir}, args...)
	cmd := exec.CommandContext(ctx, e.gitBin, full...)
	cmd.Env = os.Environ()
	return cmd
}

// commandWithIndex is like command, but overrides GIT_INDEX_FILE for
// index-scoped operations (read-tree, update-index, write-tree, ls-files),
// matching the env-var override named in spec.md §6.2.
func (e *Engine) commandWithIndex(ctx context.Context, indexPath string, args ...string) *exec.Cmd {
	cmd := e.command(ctx, args...)
	cmd.Env = append(cmd.Env, "GIT_INDEX_FILE="+indexPath)
	return cmd
}

// engineError wraps a subprocess failure as spec.md's engine-error kind.
func engineError(op string, err error, stderr []byte) error {
	if len(stderr) > 0 {
		return fmt.Errorf("%w: %s: %v: %s", gitproto.ErrEngine, op, err, stderr)
	}
	return fmt.Errorf("%w: %s: %v", gitproto.ErrEngine, op, err)
}

// AuxDir returns the repository's auxiliary directory used for transient
// index files (spec.md §6.3), creating it if necessary.
func (e *Engine) AuxDir() (string, error) {
	dir := filepath.Join(e.repoDir, "pygitfs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("engine: creating aux dir: %w", err)
	}
	return dir, nil
}
