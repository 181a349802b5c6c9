package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jisqyv/pygitfs/internal/engine"
	"github.com/jisqyv/pygitfs/internal/readonlyfs"
	"github.com/jisqyv/pygitfs/internal/txn"
)

// RepoSession holds per-repository state: the cached read-only snapshot of
// the watched ref, WebSocket clients, the broadcast channel, and caches for
// expensive per-path queries (spec.md's ReadOnlyFS, §4.C, is the snapshot
// type this session caches and diffs across ref advances).
type RepoSession struct {
	id     string
	repo   *txn.Repository
	ref    string
	logger *slog.Logger

	cacheMu sync.RWMutex
	cached  *readonlyfs.ReadOnlyFS

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*sync.Mutex

	broadcast chan UpdateMessage

	blobCache *LRUCache[[]byte]
	treeCache *LRUCache[[]byte]

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	clientWg sync.WaitGroup
}

// SessionConfig holds initialization parameters for a RepoSession.
type SessionConfig struct {
	ID        string
	Repo      *txn.Repository
	Ref       string
	CacheSize int
	Logger    *slog.Logger
}

// NewRepoSession constructs a RepoSession ready to be started.
func NewRepoSession(ctx context.Context, cfg SessionConfig) (*RepoSession, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.Ref == "" {
		cfg.Ref = "HEAD"
	}

	snap, err := cfg.Repo.ReadOnly(ctx, cfg.Ref)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	rs := &RepoSession{
		id:        cfg.ID,
		repo:      cfg.Repo,
		ref:       cfg.Ref,
		logger:    cfg.Logger.With("session", cfg.ID),
		cached:    snap,
		clients:   make(map[*websocket.Conn]*sync.Mutex),
		broadcast: make(chan UpdateMessage, broadcastChannelSize),
		blobCache: NewLRUCache[[]byte](cfg.CacheSize),
		treeCache: NewLRUCache[[]byte](cfg.CacheSize),
		ctx:       sctx,
		cancel:    cancel,
	}
	return rs, nil
}

// Snapshot returns the currently cached read-only snapshot.
func (rs *RepoSession) Snapshot() *readonlyfs.ReadOnlyFS {
	rs.cacheMu.RLock()
	defer rs.cacheMu.RUnlock()
	return rs.cached
}

// Engine returns the session's underlying adapter.
func (rs *RepoSession) Engine() *engine.Engine { return rs.repo.Engine() }

// Repo returns the session's repository handle.
func (rs *RepoSession) Repo() *txn.Repository { return rs.repo }

// Start launches the broadcast goroutine.
func (rs *RepoSession) Start() {
	rs.wg.Add(1)
	go rs.handleBroadcast()
}

// Close cancels the session context, waits for goroutines, and closes all
// WebSocket connections.
func (rs *RepoSession) Close() {
	rs.cancel()
	rs.wg.Wait()

	rs.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(rs.clients))
	for conn := range rs.clients {
		clients = append(clients, conn)
	}
	clientCount := len(clients)
	rs.clientsMu.RUnlock()

	if clientCount > 0 {
		rs.logger.Info("sending close frames to WebSocket clients", "count", clientCount)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		deadline := time.Now().Add(1 * time.Second)
		for _, conn := range clients {
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, deadline)
		}
		time.Sleep(500 * time.Millisecond)
	}

	rs.clientsMu.Lock()
	for conn := range rs.clients {
		if err := conn.Close(); err != nil {
			rs.logger.Error("failed to close client connection", "err", err)
		}
	}
	rs.clients = make(map[*websocket.Conn]*sync.Mutex)
	rs.clientsMu.Unlock()

	rs.clientWg.Wait()
}

// refresh re-snapshots the watched ref, diffs it against the previously
// cached snapshot, and broadcasts the delta if anything changed.
func (rs *RepoSession) refresh(ctx context.Context) {
	rs.cacheMu.RLock()
	old := rs.cached
	rs.cacheMu.RUnlock()

	fresh, err := rs.repo.ReadOnly(ctx, rs.ref)
	if err != nil {
		rs.logger.Error("failed to refresh snapshot", "err", err)
		return
	}

	if old != nil && fresh.CommitID() == old.CommitID() {
		return
	}

	delta, err := diffSnapshots(ctx, rs.repo.Engine(), old, fresh)
	if err != nil {
		rs.logger.Error("failed to diff snapshots", "err", err)
		return
	}

	rs.cacheMu.Lock()
	rs.cached = fresh
	rs.blobCache.Clear()
	rs.treeCache.Clear()
	rs.cacheMu.Unlock()

	rs.broadcastUpdate(UpdateMessage{
		Delta: delta,
		Head:  &HeadInfo{Ref: rs.ref, CommitID: fresh.CommitID()},
	})
}

func (rs *RepoSession) handleBroadcast() {
	defer rs.wg.Done()
	for {
		select {
		case <-rs.ctx.Done():
			return
		case message := <-rs.broadcast:
			rs.sendToAllClients(message)
		}
	}
}

func (rs *RepoSession) sendToAllClients(message UpdateMessage) {
	var failedClients []*websocket.Conn

	rs.clientsMu.RLock()
	snapshot := make(map[*websocket.Conn]*sync.Mutex, len(rs.clients))
	for conn, mu := range rs.clients {
		snapshot[conn] = mu
	}
	rs.clientsMu.RUnlock()

	for conn, mu := range snapshot {
		mu.Lock()
		err1 := conn.SetWriteDeadline(time.Now().Add(writeWait))
		var err2 error
		if err1 == nil {
			err2 = conn.WriteJSON(message)
		}
		mu.Unlock()

		if err1 != nil || err2 != nil {
			failedClients = append(failedClients, conn)
		}
	}

	if len(failedClients) > 0 {
		rs.clientsMu.Lock()
		for _, conn := range failedClients {
			delete(rs.clients, conn)
			conn.Close()
		}
		rs.clientsMu.Unlock()
	}
}

func (rs *RepoSession) broadcastUpdate(message UpdateMessage) {
	select {
	case rs.broadcast <- message:
	default:
		rs.logger.Warn("broadcast channel full, dropping message")
	}
}

func (rs *RepoSession) sendInitialState(conn *websocket.Conn) {
	snap := rs.Snapshot()
	message := UpdateMessage{Head: &HeadInfo{Ref: rs.ref, CommitID: snap.CommitID()}}

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		rs.logger.Error("failed to set write deadline", "err", err)
		return
	}
	if err := conn.WriteJSON(message); err != nil {
		rs.logger.Error("failed to send initial state", "err", err)
	}
}

func (rs *RepoSession) registerClient(conn *websocket.Conn) *sync.Mutex {
	writeMu := &sync.Mutex{}
	rs.clientsMu.Lock()
	rs.clients[conn] = writeMu
	rs.clientsMu.Unlock()
	return writeMu
}

func (rs *RepoSession) removeClient(conn *websocket.Conn) {
	rs.clientsMu.Lock()
	defer rs.clientsMu.Unlock()
	if _, ok := rs.clients[conn]; ok {
		delete(rs.clients, conn)
		conn.Close()
	}
}

func (rs *RepoSession) clientReadPump(conn *websocket.Conn, done chan struct{}) {
	defer rs.clientWg.Done()
	defer func() {
		if r := recover(); r != nil {
			rs.logger.Warn("recovered panic in clientReadPump", "panic", r)
		}
		close(done)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (rs *RepoSession) clientWritePump(conn *websocket.Conn, done chan struct{}, writeMu *sync.Mutex) {
	defer rs.clientWg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer rs.removeClient(conn)

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			err1 := conn.SetWriteDeadline(time.Now().Add(writeWait))
			var err2 error
			if err1 == nil {
				err2 = conn.WriteMessage(websocket.PingMessage, nil)
			}
			writeMu.Unlock()
			if err1 != nil || err2 != nil {
				return
			}
		}
	}
}
