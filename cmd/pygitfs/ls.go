package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/jisqyv/pygitfs/internal/txn"
)

// runLs lists the immediate children of path (default: root) at ref.
func runLs(repo *txn.Repository, args []string) int {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	ref := fs.String("ref", "", "ref to snapshot (default HEAD)")
	fs.Parse(args)
	rest := fs.Args()

	path := ""
	if len(rest) > 1 {
		fmt.Fprintln(os.Stderr, "usage: pygitfs ls [--ref <ref>] [path]")
		return 1
	}
	if len(rest) == 1 {
		path = rest[0]
	}

	ctx, cancel := withSignalContext()
	defer cancel()

	root, err := repo.ReadOnly(ctx, *ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	node, err := root.Join(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	isDir, err := node.IsDir(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	if !isDir {
		fmt.Println(node.Name())
		return 0
	}

	children, err := node.Children(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	names := make([]string, 0, len(children))
	for _, c := range children {
		name := c.Name()
		if dir, err := c.IsDir(ctx); err == nil && dir {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(n)
	}
	return 0
}

// runCat prints the content of a file at ref to stdout.
func runCat(repo *txn.Repository, args []string) int {
	fs := flag.NewFlagSet("cat", flag.ExitOnError)
	ref := fs.String("ref", "", "ref to snapshot (default HEAD)")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: pygitfs cat [--ref <ref>] <path>")
		return 1
	}

	ctx, cancel := withSignalContext()
	defer cancel()

	root, err := repo.ReadOnly(ctx, *ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	node, err := root.Join(rest[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	content, err := node.ReadAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	if _, err := os.Stdout.Write(content); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	return 0
}
