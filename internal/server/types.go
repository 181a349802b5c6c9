package server

import "github.com/jisqyv/pygitfs/internal/gitproto"

const defaultCacheSize = 500

// Log prefixes for visual scanning of logs.
const (
	logError   = "\x1b[31m[!]\x1b[0m"
	logWarning = "\x1b[33m[-]\x1b[0m"
	logSuccess = "\x1b[32m[+]\x1b[0m"
	logInfo    = "[>]"
)

// UpdateMessage is sent to clients via WebSocket whenever the watched ref
// advances.
type UpdateMessage struct {
	Delta *TreeDelta `json:"delta,omitempty"`
	Head  *HeadInfo  `json:"head,omitempty"`
}

// TreeDelta is the set of paths that changed between two committed trees.
type TreeDelta struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
}

// IsEmpty reports whether the delta has no changes.
func (d *TreeDelta) IsEmpty() bool {
	return d == nil || (len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0)
}

// HeadInfo describes the ref this session watches.
type HeadInfo struct {
	Ref      string        `json:"ref"`
	CommitID gitproto.Hash `json:"commitId"`
}
