package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/jisqyv/pygitfs/internal/indexfs"
	"github.com/jisqyv/pygitfs/internal/retryhelper"
	"github.com/jisqyv/pygitfs/internal/txn"
)

// runWrite reads stdin and commits it as the content of path within its own
// transaction, retrying on a lost compare-and-swap race.
func runWrite(repo *txn.Repository, args []string) int {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	ref := fs.String("ref", "", "ref to transact against (default HEAD)")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: pygitfs write [--ref <ref>] <path>")
		return 1
	}
	path := rest[0]

	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: reading stdin: %v\n", err)
		return 1
	}

	ctx, cancel := withSignalContext()
	defer cancel()

	err = retryhelper.OnRaceLost(ctx, retryOptions(), func(ctx context.Context) error {
		return repo.WithTransaction(ctx, *ref, func(ctx context.Context, root *indexfs.IndexFS) error {
			node, err := root.Join(path)
			if err != nil {
				return err
			}
			return node.WriteAll(ctx, content)
		})
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	return 0
}

// runRm removes path within its own transaction.
func runRm(repo *txn.Repository, args []string) int {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	ref := fs.String("ref", "", "ref to transact against (default HEAD)")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: pygitfs rm [--ref <ref>] <path>")
		return 1
	}
	path := rest[0]

	ctx, cancel := withSignalContext()
	defer cancel()

	err := retryhelper.OnRaceLost(ctx, retryOptions(), func(ctx context.Context) error {
		return repo.WithTransaction(ctx, *ref, func(ctx context.Context, root *indexfs.IndexFS) error {
			node, err := root.Join(path)
			if err != nil {
				return err
			}
			return node.Remove(ctx)
		})
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	return 0
}

// runMkdir creates path as a directory within its own transaction.
func runMkdir(repo *txn.Repository, args []string) int {
	fs := flag.NewFlagSet("mkdir", flag.ExitOnError)
	ref := fs.String("ref", "", "ref to transact against (default HEAD)")
	parents := fs.Bool("p", false, "create parent directories as needed, and do not fail if it already exists")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: pygitfs mkdir [--ref <ref>] [-p] <path>")
		return 1
	}
	path := rest[0]

	ctx, cancel := withSignalContext()
	defer cancel()

	err := retryhelper.OnRaceLost(ctx, retryOptions(), func(ctx context.Context) error {
		return repo.WithTransaction(ctx, *ref, func(ctx context.Context, root *indexfs.IndexFS) error {
			node, err := root.Join(path)
			if err != nil {
				return err
			}
			return node.Mkdir(ctx, *parents, *parents)
		})
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	return 0
}

// runMv renames src to dst within its own transaction.
func runMv(repo *txn.Repository, args []string) int {
	fs := flag.NewFlagSet("mv", flag.ExitOnError)
	ref := fs.String("ref", "", "ref to transact against (default HEAD)")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 2 {
		fmt.Fprintln(os.Stderr, "usage: pygitfs mv [--ref <ref>] <src> <dst>")
		return 1
	}
	src, dst := rest[0], rest[1]

	ctx, cancel := withSignalContext()
	defer cancel()

	err := retryhelper.OnRaceLost(ctx, retryOptions(), func(ctx context.Context) error {
		return repo.WithTransaction(ctx, *ref, func(ctx context.Context, root *indexfs.IndexFS) error {
			from, err := root.Join(src)
			if err != nil {
				return err
			}
			to, err := root.Join(dst)
			if err != nil {
				return err
			}
			return from.Rename(ctx, to)
		})
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	return 0
}
