// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/exchange/lib/shm"
	"github.com/bureau-foundation/exchange/lib/worker"
)

// Store is the shared-memory surface the gateway drives.
// *shm.Segment implements it.
type Store interface {
	Append(queue shm.Queue, id, payload string) error
	Remove(queue shm.Queue, id string, mode shm.MatchMode) error
	PeekFirst(queue shm.Queue) (shm.Record, error)
	Snapshot(queue shm.Queue) (shm.Snapshot, error)
	Stats() (shm.Stats, error)
	Clear() error
}

// Invoker runs workers. *worker.Invoker implements it.
type Invoker interface {
	Invoke(ctx context.Context, request worker.Request) (*worker.Result, error)
}

// Options configures a Gateway.
type Options struct {
	// Path is the HTTP path that accepts WebSocket upgrades.
	Path string

	// MaxFrameBytes bounds one inbound frame. Larger frames close the
	// connection.
	MaxFrameBytes int64

	// WriteTimeout bounds sending one reply.
	WriteTimeout time.Duration

	// CancelOnDisconnect kills a connection's running worker when the
	// peer goes away.
	CancelOnDisconnect bool
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Path:               "/",
		MaxFrameBytes:      64 << 10,
		WriteTimeout:       10 * time.Second,
		CancelOnDisconnect: true,
	}
}

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Gateway accepts WebSocket connections and serves calls on them.
type Gateway struct {
	store    Store
	invoker  Invoker
	options  Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
	stats    counters

	nextConnection atomic.Uint64

	// stopping is cancelled by Close; every connection context derives
	// from it.
	stopping context.Context
	stop     context.CancelFunc

	// mu guards closed so no connection registers after Close begins
	// waiting.
	mu          sync.Mutex
	closed      bool
	connections sync.WaitGroup
}

// New creates a Gateway serving calls against store with invoker.
func New(store Store, invoker Invoker, options Options, logger *slog.Logger) *Gateway {
	if options.Path == "" {
		options.Path = "/"
	}
	if options.MaxFrameBytes <= 0 {
		options.MaxFrameBytes = DefaultOptions().MaxFrameBytes
	}
	stopping, stop := context.WithCancel(context.Background())
	return &Gateway{
		store:    store,
		invoker:  invoker,
		options:  options,
		logger:   logger,
		stopping: stopping,
		stop:     stop,
	}
}

// Handler returns the HTTP handler that upgrades requests on the
// configured path.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(g.options.Path, g.serveWebSocket)
	return mux
}

// ListenAndServe listens on address and serves until ctx is cancelled.
func (g *Gateway) ListenAndServe(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}
	return g.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled, then
// closes every open connection, waits for their handlers, and returns
// nil. It returns early with an error if the listener fails.
func (g *Gateway) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(g.logger.Handler(), slog.LevelDebug),
	}

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(listener)
	}()
	g.logger.Info("gateway listening", "address", listener.Addr().String(), "path", g.options.Path)

	select {
	case err := <-served:
		g.Close()
		return fmt.Errorf("serving %s: %w", listener.Addr(), err)
	case <-ctx.Done():
	}

	shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownContext); err != nil {
		g.logger.Warn("http shutdown incomplete", "error", err)
	}
	// Upgraded connections are hijacked, so Shutdown does not wait for
	// them.
	g.Close()
	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	g.logger.Info("gateway stopped")
	return nil
}

// Close closes every open connection, killing running workers, and
// waits for their handlers to return. New upgrades are refused.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.stop()
	g.connections.Wait()
}

// register admits a new connection unless the gateway is closing.
func (g *Gateway) register() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.connections.Add(1)
	return true
}

func (g *Gateway) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	if !g.register() {
		http.Error(w, "gateway is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer g.connections.Done()

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &connection{
		gateway: g,
		ws:      ws,
		logger: g.logger.With(
			"connection", g.nextConnection.Add(1),
			"remote", r.RemoteAddr,
		),
	}
	g.stats.connectionOpened()
	defer g.stats.connectionClosed()
	c.run(g.stopping)
}

// Stats returns a copy of the gateway's counters.
func (g *Gateway) Stats() Stats {
	return g.stats.snapshot()
}
