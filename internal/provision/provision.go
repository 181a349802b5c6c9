// Package provision creates bare repositories for use with internal/txn,
// atomically: initialize in a sibling scratch directory, then rename into
// place, so a crash mid-init never leaves a partially-initialized directory
// at the final path. Grounded on the teacher's internal/repomanager/manager.go
// (scoped lifecycle, state machine, dedup-by-path) and
// internal/repomanager/clone.go (os/exec subprocess conventions), adapted
// from "clone a remote" to "initialize a local bare store."
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jisqyv/pygitfs/internal/engine"
)

// State is the lifecycle state of one tracked repository path, mirroring
// the teacher's RepoState enum (internal/repomanager/manager.go).
type State int

const (
	StatePending State = iota
	StateProvisioning
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProvisioning:
		return "provisioning"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

type entry struct {
	state State
	err   error
}

// Provisioner tracks bare-repository creation across a set of paths,
// deduplicating concurrent requests for the same path (spec.md leaves bare
// repository creation out of the transactional core's scope; this is the
// convenience layer that owns it).
type Provisioner struct {
	log *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Provisioner.
func New(log *slog.Logger) *Provisioner {
	if log == nil {
		log = slog.Default()
	}
	return &Provisioner{log: log, entries: make(map[string]*entry)}
}

// StateOf reports the last-known state of repoDir, StatePending if never
// seen.
func (p *Provisioner) StateOf(repoDir string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[repoDir]
	if !ok {
		return StatePending
	}
	return e.state
}

// EnsureBare creates a bare repository at repoDir if one is not already
// marked ready, via init in a scratch sibling directory followed by an
// atomic rename (spec.md §1: bare-repository creation is explicitly out of
// scope for the transactional core, but this module needs somewhere to
// live before a Transaction can touch it).
func (p *Provisioner) EnsureBare(ctx context.Context, repoDir string) error {
	p.mu.Lock()
	e, ok := p.entries[repoDir]
	if !ok {
		e = &entry{state: StatePending}
		p.entries[repoDir] = e
	}
	switch e.state {
	case StateReady:
		p.mu.Unlock()
		return nil
	case StateProvisioning:
		p.mu.Unlock()
		return fmt.Errorf("provision: %s is already being provisioned", repoDir)
	}
	e.state = StateProvisioning
	p.mu.Unlock()

	err := p.provision(ctx, repoDir)

	p.mu.Lock()
	if err != nil {
		e.state = StateError
		e.err = err
	} else {
		e.state = StateReady
	}
	p.mu.Unlock()
	return err
}

func (p *Provisioner) provision(ctx context.Context, repoDir string) error {
	if _, err := os.Stat(repoDir); err == nil {
		p.log.Debug("repository already exists on disk", "repo", repoDir)
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("provision: checking %s: %w", repoDir, err)
	}

	parent := filepath.Dir(repoDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("provision: creating %s: %w", parent, err)
	}

	scratch, err := os.MkdirTemp(parent, filepath.Base(repoDir)+".provision-*")
	if err != nil {
		return fmt.Errorf("provision: allocating scratch dir: %w", err)
	}
	cleanupScratch := true
	defer func() {
		if cleanupScratch {
			os.RemoveAll(scratch)
		}
	}()

	if err := engine.New(scratch).InitBare(ctx); err != nil {
		return err
	}
	if err := os.Rename(scratch, repoDir); err != nil {
		return fmt.Errorf("provision: installing %s: %w", repoDir, err)
	}
	cleanupScratch = false
	p.log.Info("provisioned bare repository", "repo", repoDir)
	return nil
}
