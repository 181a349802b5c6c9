package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jisqyv/pygitfs/internal/progress"
	"github.com/jisqyv/pygitfs/internal/provision"
)

// runInit creates a bare repository at PYGITFS_REPO (default ".") or the
// path given as an argument.
func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	fs.Parse(args)
	rest := fs.Args()

	repoPath := getEnv("PYGITFS_REPO", ".")
	if len(rest) == 1 {
		repoPath = rest[0]
	} else if len(rest) > 1 {
		fmt.Fprintln(os.Stderr, "usage: pygitfs init [path]")
		return 1
	}

	spin := progress.New("Initializing bare repository...")
	spin.Start()
	err := provision.New(slog.Default()).EnsureBare(context.Background(), repoPath)
	spin.Stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	fmt.Printf("Initialized bare pygitfs repository in %s\n", repoPath)
	return 0
}
