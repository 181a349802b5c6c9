package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/jisqyv/pygitfs/internal/gitproto"
)

// Resolve resolves ref to a commit id. It returns ok=false when the ref is
// unset (spec.md's "unset" RefState) or otherwise does not resolve, which
// rev-parse --verify --quiet reports by exiting 1 with empty stdout.
func (e *Engine) Resolve(ctx context.Context, ref string) (id gitproto.Hash, ok bool, err error) {
	cmd := e.command(ctx, "rev-parse", "--verify", "--quiet", ref)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// rev-parse --verify --quiet exits 1 (not 0) for an unresolvable ref;
		// that is the "unset" case, not an engine failure.
		if cmd.ProcessState != nil && cmd.ProcessState.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, engineError("rev-parse", err, stderr.Bytes())
	}
	sha := strings.TrimSpace(stdout.String())
	if sha == "" {
		return "", false, nil
	}
	h, err := gitproto.NewHash(sha)
	if err != nil {
		return "", false, fmt.Errorf("%w: rev-parse returned %q: %v", gitproto.ErrEngine, sha, err)
	}
	return h, true, nil
}

// ResolveTree resolves a commit id to its root tree id, via `<commit>^{tree}`.
func (e *Engine) ResolveTree(ctx context.Context, commit gitproto.Hash) (gitproto.Hash, error) {
	cmd := e.command(ctx, "rev-parse", "--verify", "--quiet", string(commit)+"^{tree}")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", engineError("rev-parse^{tree}", err, stderr.Bytes())
	}
	sha := strings.TrimSpace(stdout.String())
	h, err := gitproto.NewHash(sha)
	if err != nil {
		return "", fmt.Errorf("%w: rev-parse^{tree} returned %q: %v", gitproto.ErrEngine, sha, err)
	}
	return h, nil
}

// SymbolicRef follows a symbolic reference one hop, returning the name it
// points at. ok is false if ref is not symbolic (or does not exist).
func (e *Engine) SymbolicRef(ctx context.Context, ref string) (target string, ok bool, err error) {
	cmd := e.command(ctx, "symbolic-ref", "-q", ref)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if cmd.ProcessState != nil && cmd.ProcessState.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, engineError("symbolic-ref", err, stderr.Bytes())
	}
	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", false, nil
	}
	return out, true, nil
}

// Identity is the committer/author identity used to synthesize a commit
// (spec.md §4.E, §6.4).
type Identity struct {
	Name  string
	Email string
	// Date is an optional GIT_AUTHOR_DATE/GIT_COMMITTER_DATE override, in
	// any format git-commit-tree accepts (e.g. "<unix> <tz>"). Empty means
	// let the engine's environment supply the current time.
	Date string
}

// CommitTree synthesizes a commit object pointing at tree with the given
// parents, message, author and committer identity (spec.md §4.E step 4).
func (e *Engine) CommitTree(ctx context.Context, tree gitproto.Hash, parents []gitproto.Hash, message string, author, committer Identity) (gitproto.Hash, error) {
	args := []string{"commit-tree", string(tree)}
	for _, p := range parents {
		args = append(args, "-p", string(p))
	}
	cmd := e.command(ctx, args...)
	cmd.Env = append(cmd.Env,
		"GIT_AUTHOR_NAME="+author.Name,
		"GIT_AUTHOR_EMAIL="+author.Email,
		"GIT_COMMITTER_NAME="+committer.Name,
		"GIT_COMMITTER_EMAIL="+committer.Email,
	)
	if author.Date != "" {
		cmd.Env = append(cmd.Env, "GIT_AUTHOR_DATE="+author.Date)
	}
	if committer.Date != "" {
		cmd.Env = append(cmd.Env, "GIT_COMMITTER_DATE="+committer.Date)
	}
	cmd.Stdin = strings.NewReader(message)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", engineError("commit-tree", err, stderr.Bytes())
	}
	sha := strings.TrimSpace(stdout.String())
	h, err := gitproto.NewHash(sha)
	if err != nil {
		return "", fmt.Errorf("%w: commit-tree returned %q: %v", gitproto.ErrEngine, sha, err)
	}
	return h, nil
}

// UpdateRef advances ref to newValue with a compare-and-swap precondition of
// expected. expectedUnset indicates the precondition "ref must currently be
// unset" (spec.md's null/zero id sentinel) rather than a specific commit.
// A rejected CAS surfaces as gitproto.ErrRaceLost, per spec.md §9's
// conservative policy: any update-ref failure at this step is race-lost.
func (e *Engine) UpdateRef(ctx context.Context, ref string, newValue gitproto.Hash, expected gitproto.Hash, expectedUnset bool, reason string) error {
	args := []string{"update-ref"}
	if reason != "" {
		args = append(args, "-m", reason)
	}
	args = append(args, ref, string(newValue))
	if expectedUnset {
		args = append(args, string(gitproto.ZeroID))
	} else if expected != "" {
		args = append(args, string(expected))
	}
	cmd := e.command(ctx, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: update-ref %s: %v: %s", gitproto.ErrRaceLost, ref, err, stderr.Bytes())
	}
	return nil
}

// RefEntry is one line of for-each-ref output.
type RefEntry struct {
	Name string
	ID   gitproto.Hash
}

// ForEachRef lists refs matching the given patterns (empty = all), in the
// engine's own sort order. This is a convenience wrapper, not part of the
// transactional core (spec.md §1 places ref enumeration out of scope for
// the core, but permits wrappers).
func (e *Engine) ForEachRef(ctx context.Context, patterns ...string) ([]RefEntry, error) {
	args := []string{"for-each-ref", "--format=%(objectname) %(refname)"}
	args = append(args, patterns...)
	cmd := e.command(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, engineError("for-each-ref", err, stderr.Bytes())
	}
	var out []RefEntry
	for _, line := range strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		h, err := gitproto.NewHash(parts[0])
		if err != nil {
			continue
		}
		out = append(out, RefEntry{Name: parts[1], ID: h})
	}
	return out, nil
}

// MergeBase returns the best common ancestor of a and b.
func (e *Engine) MergeBase(ctx context.Context, a, b gitproto.Hash) (gitproto.Hash, error) {
	cmd := e.command(ctx, "merge-base", string(a), string(b))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", engineError("merge-base", err, stderr.Bytes())
	}
	sha := strings.TrimSpace(stdout.String())
	return gitproto.NewHash(sha)
}

// RevListOpts configures RevList.
type RevListOpts struct {
	Include []gitproto.Hash
	Exclude []gitproto.Hash
	Reverse bool
}

// RevList walks commit ancestry, including Include and excluding Exclude.
func (e *Engine) RevList(ctx context.Context, opts RevListOpts) ([]gitproto.Hash, error) {
	args := []string{"rev-list"}
	if opts.Reverse {
		args = append(args, "--reverse")
	}
	for _, h := range opts.Include {
		args = append(args, string(h))
	}
	for _, h := range opts.Exclude {
		args = append(args, "^"+string(h))
	}
	cmd := e.command(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, engineError("rev-list", err, stderr.Bytes())
	}
	var out []gitproto.Hash
	for _, line := range strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		h, err := gitproto.NewHash(line)
		if err != nil {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}
