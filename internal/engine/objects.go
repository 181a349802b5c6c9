package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/jisqyv/pygitfs/internal/gitproto"
)

// WriteObject hashes and stores content as a blob, returning its object id
// (spec.md §4.A write_object).
func (e *Engine) WriteObject(ctx context.Context, content []byte) (gitproto.Hash, error) {
	cmd := e.command(ctx, "hash-object", "-w", "--stdin")
	cmd.Stdin = bytes.NewReader(content)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", engineError("hash-object", err, stderr.Bytes())
	}
	sha := strings.TrimSpace(stdout.String())
	if sha == "" {
		return "", fmt.Errorf("%w: hash-object returned no id", gitproto.ErrEngine)
	}
	h, err := gitproto.NewHash(sha)
	if err != nil {
		return "", fmt.Errorf("%w: hash-object returned %q: %v", gitproto.ErrEngine, sha, err)
	}
	return h, nil
}

// InitBare creates a bare repository at dir. This is the bare-repository
// initialization named as out of scope for the transactional core in
// spec.md §1; it lives here as a thin adapter primitive that
// internal/provision builds the atomic create-then-rename sequence on top
// of.
func (e *Engine) InitBare(ctx context.Context) error {
	cmd := e.command(ctx, "init", "--bare", "--quiet")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return engineError("init --bare", err, stderr.Bytes())
	}
	return nil
}
