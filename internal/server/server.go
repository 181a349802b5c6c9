// Package server exposes a transactional repository over HTTP and
// WebSocket: read-only tree/blob browsing of a watched ref, a transaction
// lifecycle (begin/write/remove/mkdir/rename/commit/abort), and a
// broadcast feed of ref advances. Adapted from the teacher's monolithic
// Server/RepoSession split (internal/server/server.go, session.go); the
// teacher's SaaS multi-repository mode and repomanager-backed remote
// cloning have no analogue in this module's bare-repository/adapter
// architecture (spec.md §1) and are not carried forward (see DESIGN.md).
package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/jisqyv/pygitfs/internal/audit"
	"github.com/jisqyv/pygitfs/internal/txn"
)

// Server serves one repository.
type Server struct {
	addr        string
	rateLimiter *rateLimiter
	httpServer  *http.Server
	logger      *slog.Logger

	session   *RepoSession
	cacheSize int
	audit     *audit.Log

	txnMu sync.Mutex
	txns  map[string]*txnEntry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures a new Server.
type Config struct {
	Repo   *txn.Repository
	Ref    string // default "HEAD"
	Addr   string
	Logger *slog.Logger
}

// New constructs a Server ready to be started.
func New(ctx context.Context, cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sctx, cancel := context.WithCancel(context.Background())
	rl := newRateLimiter(100, 200, time.Second)
	cacheSize := readCacheSize()

	session, err := NewRepoSession(ctx, SessionConfig{
		ID:        "default",
		Repo:      cfg.Repo,
		Ref:       cfg.Ref,
		CacheSize: cacheSize,
		Logger:    logger,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	auditLog, err := audit.Open(filepath.Join(cfg.Repo.Engine().RepoDir(), "pygitfs-audit.db"))
	if err != nil {
		logger.Warn("audit log unavailable, transaction outcomes will not be recorded", "err", err)
		auditLog = nil
	}

	return &Server{
		addr:        cfg.Addr,
		rateLimiter: rl,
		logger:      logger,
		session:     session,
		cacheSize:   cacheSize,
		audit:       auditLog,
		txns:        make(map[string]*txnEntry),
		ctx:         sctx,
		cancel:      cancel,
	}, nil
}

// readCacheSize reads the cache size from the PYGITFS_CACHE_SIZE env var.
func readCacheSize() int {
	cacheSize := defaultCacheSize
	if raw := os.Getenv("PYGITFS_CACHE_SIZE"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cacheSize = n
		}
	}
	return cacheSize
}

// Start begins serving and blocks until the server exits or encounters a
// fatal error.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)

	const apiWriteDeadline = 30 * time.Second

	mux.HandleFunc("/api/tree/", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(s.session, s.handleTree))))
	mux.HandleFunc("/api/blob/", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(s.session, s.handleBlob))))
	mux.HandleFunc("/api/head", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(s.session, s.handleHead))))
	mux.HandleFunc("/api/history/", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(s.session, s.handleFileHistory))))
	mux.HandleFunc("/api/transactions", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(s.session, s.handleBeginTransaction))))
	mux.HandleFunc("/api/transactions/", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(withLocalSession(s.session, s.handleTransactionOp))))
	mux.HandleFunc("/api/ws", withLocalSession(s.session, s.handleWebSocket))

	handler := requestLogger(s.logger, mux)

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	s.session.Start()

	if err := s.startWatcher(); err != nil {
		s.logger.Error("failed to start ref watcher", "err", err)
	}

	s.logger.Info("pygitfs server starting", "addr", "http://"+s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server and its session.
func (s *Server) Shutdown() {
	start := time.Now()
	s.logger.Info("server shutting down")

	if s.httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", "err", err)
		}
	}

	s.cancel()
	s.rateLimiter.Close()
	s.wg.Wait()
	s.session.Close()
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			s.logger.Error("audit log close error", "err", err)
		}
	}

	s.logger.Info("server shutdown complete", "elapsed", time.Since(start).Round(time.Millisecond))
}
