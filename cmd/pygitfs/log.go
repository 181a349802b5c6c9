package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jisqyv/pygitfs/internal/history"
	"github.com/jisqyv/pygitfs/internal/termcolor"
	"github.com/jisqyv/pygitfs/internal/txn"
)

// runLog walks the ancestry of ref's current commit, newest first.
func runLog(repo *txn.Repository, args []string, cw *termcolor.Writer) int {
	var ref string
	maxCount := 0

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--ref" && i+1 < len(args):
			i++
			ref = args[i]
		case args[i] == "-n" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: invalid -n value: %q\n", args[i])
				return 1
			}
			maxCount = n
		default:
			fmt.Fprintf(os.Stderr, "error: unknown option: %q\n", args[i])
			return 1
		}
	}

	ctx, cancel := withSignalContext()
	defer cancel()

	eng := repo.Engine()
	if ref == "" {
		ref = "HEAD"
	}
	head, ok, err := eng.Resolve(ctx, ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	if !ok {
		return 0
	}

	commits, err := history.Log(ctx, eng, head, nil, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	if maxCount > 0 && len(commits) > maxCount {
		commits = commits[:maxCount]
	}

	for i, c := range commits {
		tree, err := eng.ResolveTree(ctx, c)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			return 1
		}
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("%s %s\n", cw.Yellow("commit"), cw.Yellow(string(c)))
		fmt.Printf("Tree:   %s\n", tree)
		fmt.Printf("Author: %s <%s>\n", txn.Identity.Name, txn.Identity.Email)
		fmt.Println()
		fmt.Printf("    %s\n", txn.CommitMessage)
	}
	return 0
}
