package main

import (
	"fmt"
	"os"

	"github.com/jisqyv/pygitfs/internal/termcolor"
	"github.com/jisqyv/pygitfs/internal/txn"
)

// runStatus prints ref's current commit and tree. A CLI invocation is not a
// long-lived transaction, so there is no pending index to diff against a
// parent here — that view exists only over HTTP (server.handleTransactionStatus).
func runStatus(repo *txn.Repository, args []string, cw *termcolor.Writer) int {
	var ref string
	for i := 0; i < len(args); i++ {
		if args[i] == "--ref" && i+1 < len(args) {
			i++
			ref = args[i]
			continue
		}
		fmt.Fprintf(os.Stderr, "error: unknown option: %q\n", args[i])
		return 1
	}
	if ref == "" {
		ref = "HEAD"
	}

	ctx, cancel := withSignalContext()
	defer cancel()

	eng := repo.Engine()
	commitID, ok, err := eng.Resolve(ctx, ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	fmt.Printf("On ref %s\n", cw.Yellow(ref))
	if !ok {
		fmt.Println("No commits yet")
		return 0
	}

	tree, err := eng.ResolveTree(ctx, commitID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	fmt.Printf("commit %s\n", cw.Yellow(string(commitID)))
	fmt.Printf("tree   %s\n", tree)
	return 0
}
