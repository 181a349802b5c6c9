package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jisqyv/pygitfs/internal/server"
	"github.com/jisqyv/pygitfs/internal/txn"
	"github.com/pterm/pterm"
)

// runServe serves the repository over HTTP/WebSocket until an interrupt or
// termination signal arrives.
func runServe(repo *txn.Repository, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	ref := fs.String("ref", "", "ref to watch (default HEAD)")
	host := fs.String("host", getEnv("PYGITFS_HOST", ""), "host to bind to (empty = all interfaces)")
	port := fs.String("port", getEnv("PYGITFS_PORT", "8080"), "port to listen on")
	addrFlag := fs.String("addr", "", "host:port to bind to, overrides --host/--port")
	fs.Parse(args)

	addr := *addrFlag
	if addr == "" {
		addr = fmt.Sprintf("%s:%s", *host, *port)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := server.New(ctx, server.Config{
		Repo:   repo,
		Ref:    *ref,
		Addr:   addr,
		Logger: slog.Default(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}

	pterm.Info.Printfln("serving %s over http://%s", repo.Engine().RepoDir(), addr)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		srv.Shutdown()
		return 0
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			return 1
		}
		return 0
	}
}
