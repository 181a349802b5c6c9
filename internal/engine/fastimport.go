package engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jisqyv/pygitfs/internal/gitproto"
)

// FastImportFile is one file in a FastImportCommit.
type FastImportFile struct {
	Path    string
	Content []byte
	Mode    gitproto.FileMode // defaults to ModeRegular if empty
}

// FastImportCommit is one commit to synthesize via FastImport.
type FastImportCommit struct {
	Message        string
	Committer      string // "Name <email>"
	CommitterDate  string // "<unix> <tz>"
	Author         string // defaults to Committer
	AuthorDate     string // defaults to CommitterDate
	Files          []FastImportFile
	ParentCommitID string // empty for the first commit in the stream
}

// FastImport builds a sequence of commits on ref via `git fast-import`
// (spec.md §6.2: "used only by test fixtures"). It is not used by the
// transactional core; it exists solely so tests can cheaply construct a
// repository with known history instead of driving a Transaction for setup.
func (e *Engine) FastImport(ctx context.Context, ref string, commits []FastImportCommit) error {
	if ref == "" {
		ref = "refs/heads/master"
	}
	cmd := e.command(ctx, "fast-import", "--quiet")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("engine: fast-import stdin: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("engine: starting fast-import: %w", err)
	}

	var writeErr error
	write := func(format string, args ...any) {
		if writeErr != nil {
			return
		}
		_, writeErr = fmt.Fprintf(stdin, format, args...)
	}

	for _, c := range commits {
		for i, f := range c.Files {
			write("blob\nmark :%d\ndata %d\n%s\n", i+1, len(f.Content), f.Content)
		}

		author := c.Author
		if author == "" {
			author = c.Committer
		}
		authorDate := c.AuthorDate
		if authorDate == "" {
			authorDate = c.CommitterDate
		}

		write("commit %s\n", ref)
		write("author %s %s\n", author, authorDate)
		write("committer %s %s\n", c.Committer, c.CommitterDate)
		write("data %d\n%s\n", len(c.Message), c.Message)
		if c.ParentCommitID != "" {
			write("from %s\n", c.ParentCommitID)
		}
		for i, f := range c.Files {
			mode := f.Mode
			if mode == "" {
				mode = gitproto.ModeRegular
			}
			write("M %s :%d %s\n", mode, i+1, f.Path)
		}
	}

	if writeErr == nil {
		writeErr = stdin.Close()
	} else {
		stdin.Close()
	}

	runErr := cmd.Wait()
	if writeErr != nil {
		return fmt.Errorf("%w: writing fast-import stream: %v", gitproto.ErrEngine, writeErr)
	}
	if runErr != nil {
		return engineError("fast-import", runErr, stderr.Bytes())
	}
	return nil
}
