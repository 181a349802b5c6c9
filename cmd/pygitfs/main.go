// Package main is the pygitfs CLI: verbs over one bare repository's
// transactional filesystem (spec.md §4), grounded on the teacher's
// cmd/gitcli dispatch shape (internal/cli.App, global --color flags) with
// gitcore-repository commands replaced by txn/indexfs/readonlyfs ones.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/jisqyv/pygitfs/internal/cli"
	"github.com/jisqyv/pygitfs/internal/provision"
	"github.com/jisqyv/pygitfs/internal/retryhelper"
	"github.com/jisqyv/pygitfs/internal/selfupdate"
	"github.com/jisqyv/pygitfs/internal/termcolor"
	"github.com/jisqyv/pygitfs/internal/txn"
)

// releaseRepo is the GitHub repository version checks against.
const releaseRepo = "jisqyv/pygitfs"

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	initLogger()

	gf, args := parseGlobalFlags(os.Args[1:])
	cw := termcolor.NewWriter(os.Stdout, gf.colorMode)

	app := cli.NewApp("pygitfs", version)
	app.Stderr = os.Stderr

	var repo *txn.Repository

	app.Register(&cli.Command{
		Name:      "init",
		Summary:   "Create a bare repository",
		Usage:     "pygitfs init [path]",
		NeedsRepo: false,
		Run:       func(args []string) int { return runInit(args) },
	})
	app.Register(&cli.Command{
		Name:      "ls",
		Summary:   "List a directory at the watched ref",
		Usage:     "pygitfs ls [--ref <ref>] [path]",
		NeedsRepo: true,
		Run:       func(args []string) int { return runLs(repo, args) },
	})
	app.Register(&cli.Command{
		Name:      "cat",
		Summary:   "Print a file's content at the watched ref",
		Usage:     "pygitfs cat [--ref <ref>] <path>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runCat(repo, args) },
	})
	app.Register(&cli.Command{
		Name:      "write",
		Summary:   "Write stdin to a path and commit",
		Usage:     "pygitfs write [--ref <ref>] <path>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runWrite(repo, args) },
	})
	app.Register(&cli.Command{
		Name:      "rm",
		Summary:   "Remove a path and commit",
		Usage:     "pygitfs rm [--ref <ref>] <path>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runRm(repo, args) },
	})
	app.Register(&cli.Command{
		Name:      "mkdir",
		Summary:   "Create a directory and commit",
		Usage:     "pygitfs mkdir [--ref <ref>] [-p] <path>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runMkdir(repo, args) },
	})
	app.Register(&cli.Command{
		Name:      "mv",
		Summary:   "Rename a path and commit",
		Usage:     "pygitfs mv [--ref <ref>] <src> <dst>",
		NeedsRepo: true,
		Run:       func(args []string) int { return runMv(repo, args) },
	})
	app.Register(&cli.Command{
		Name:      "log",
		Summary:   "Show commit ancestry of the watched ref",
		Usage:     "pygitfs log [--ref <ref>] [-n <count>]",
		NeedsRepo: true,
		Run:       func(args []string) int { return runLog(repo, args, cw) },
	})
	app.Register(&cli.Command{
		Name:      "status",
		Summary:   "Show the watched ref's current commit and tree",
		Usage:     "pygitfs status [--ref <ref>]",
		NeedsRepo: true,
		Run:       func(args []string) int { return runStatus(repo, args, cw) },
	})
	app.Register(&cli.Command{
		Name:      "serve",
		Summary:   "Serve the repository over HTTP and WebSocket",
		Usage:     "pygitfs serve [--ref <ref>] [--addr <host:port>]",
		NeedsRepo: true,
		Run:       func(args []string) int { return runServe(repo, args) },
	})
	app.Register(&cli.Command{
		Name:    "version",
		Summary: "Show version information",
		Usage:   "pygitfs version [--check-update]",
		Run:     func(args []string) int { return runVersion(args) },
	})

	if len(args) > 0 {
		cmd := app.Lookup(args[0])
		if cmd != nil && cmd.NeedsRepo {
			repoPath := getEnv("PYGITFS_REPO", ".")
			if err := provision.New(slog.Default()).EnsureBare(context.Background(), repoPath); err != nil {
				fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
				os.Exit(128)
			}
			repo = txn.Open(repoPath, slog.Default())
		}
	}

	code := app.Run(args, cw)
	if repo != nil {
		repo.Close()
	}
	os.Exit(code)
}

func initLogger() {
	level := slog.LevelInfo
	switch getEnv("PYGITFS_LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if getEnv("PYGITFS_LOG_FORMAT", "text") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runVersion(args []string) int {
	printVersion()
	checkUpdate := false
	for _, a := range args {
		if a == "--check-update" {
			checkUpdate = true
		}
	}
	if !checkUpdate {
		return 0
	}
	latest, err := selfupdate.CheckLatest(releaseRepo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "checking for updates: %v\n", err)
		return 1
	}
	if latest == "v"+version || latest == version {
		fmt.Println("already up to date")
	} else {
		fmt.Printf("newer version available: %s\n", latest)
	}
	return 0
}

func printVersion() {
	fmt.Printf("pygitfs %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
	fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// withSignalContext returns a context canceled on SIGINT/SIGTERM, used by
// the repository verbs (serve builds its own).
func withSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// retryOptions is the default retry policy for CLI mutation commands: bound
// the number of CAS retries on a lost race rather than looping forever.
func retryOptions() retryhelper.Options {
	return retryhelper.Options{Log: slog.Default()}
}
