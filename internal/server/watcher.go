package server

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceTime = 100 * time.Millisecond

// startWatcher watches the bare repository's refs directory for CAS-driven
// ref advances. There is no working tree in this module's model (spec.md
// §1: transactions operate on a bare repository's index and refs, never a
// checkout), so unlike the teacher's watcher there is nothing analogous to
// its statusPollLoop left to run.
func (s *Server) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	repoDir := s.session.Engine().RepoDir()
	if err := watcher.Add(repoDir); err != nil {
		return err
	}

	// fsnotify does not recurse into subdirectories. We must explicitly
	// watch refs/heads, refs/tags, and refs/remotes so that branch and tag
	// creation/deletion events (which touch files inside those dirs) are
	// picked up. walkAndWatch also handles hierarchical branch names
	// (e.g., refs/heads/feature/login) by walking the entire subtree.
	for _, sub := range []string{"refs/heads", "refs/tags", "refs/remotes"} {
		dir := filepath.Join(repoDir, sub)
		walkAndWatch(watcher, dir, s.logger)
	}

	s.wg.Add(1)
	go s.watchLoop(watcher)

	s.logger.Info("watching repository for ref changes", "repoDir", repoDir)
	return nil
}

// walkAndWatch adds fsnotify watches to dir and all its subdirectories.
// Missing directories are silently skipped.
func walkAndWatch(watcher *fsnotify.Watcher, dir string, logger *slog.Logger) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}

	err = filepath.Walk(dir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if fi.IsDir() {
			if addErr := watcher.Add(path); addErr != nil {
				logger.Warn("failed to watch directory", "dir", path, "err", addErr)
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn("failed to walk refs directory", "dir", dir, "err", err)
	}
}

func (s *Server) watchLoop(watcher *fsnotify.Watcher) {
	defer s.wg.Done()
	defer func() {
		if err := watcher.Close(); err != nil {
			s.logger.Error("failed to close watcher", "err", err)
		}
	}()

	var debounceTimer *time.Timer

	for {
		select {
		case <-s.ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if shouldIgnoreEvent(event) {
				continue
			}

			s.logger.Debug("change detected", "file", filepath.Base(event.Name), "op", event.Op.String())

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceTime, func() {
				if s.ctx.Err() != nil {
					return
				}
				s.session.refresh(s.ctx)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("watcher error", "err", err)
		}
	}
}

func shouldIgnoreEvent(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	path := event.Name

	// Accept Write, Create, Remove, and Rename events. Remove is critical
	// for detecting branch/tag deletion (the ref file is deleted from disk).
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	if strings.HasSuffix(base, ".lock") {
		return true
	}
	if strings.Contains(path, "/logs/") {
		return true
	}
	if base == "config" {
		return true
	}

	return false
}
