// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/exchange/lib/codec"
)

// ActionFunc processes one request for a registered action. raw is the
// full CBOR request, including the "action" field; the handler decodes
// its own fields from it.
//
// A nil result produces {ok: true}. A non-nil result is CBOR-encoded
// into the response's data field. A returned error produces
// {ok: false, error: err.Error()}, with kind set when err implements
// Kinder.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Kinder is implemented by errors that carry a stable machine-readable
// classification. The server copies it into Response.Kind so clients
// can branch without parsing messages.
type Kinder interface {
	Kind() string
}

// Response is the wire envelope for every reply.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Kind  string           `cbor:"kind,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServer serves the CBOR request/response protocol on a Unix
// socket. Register actions with Handle before calling Serve.
type SocketServer struct {
	socketPath string
	handlers   map[string]ActionFunc
	logger     *slog.Logger
	ready      chan struct{}

	// activeConnections lets Serve wait for in-flight handlers before
	// returning.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Handle registers handler for action. It panics on a duplicate
// registration, which is a programming error.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Ready is closed once the socket is listening.
func (s *SocketServer) Ready() <-chan struct{} {
	return s.ready
}

// SocketPath returns the path the server listens on.
func (s *SocketServer) SocketPath() string {
	return s.socketPath
}

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight handlers and returns. A stale socket file at the path is
// replaced and a missing parent directory is created; the socket file
// is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("restricting %s: %w", s.socketPath, err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("admin socket listening", "path", s.socketPath)
	close(s.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

const (
	// readTimeout bounds how long a client may take to send its
	// request after connecting.
	readTimeout = 30 * time.Second

	writeTimeout = 10 * time.Second

	// maxRequestSize is far above any admin request; a remove carries
	// at most a 36-byte id.
	maxRequestSize = 64 * 1024
)

func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err), Kind: "invalid_request"})
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeResponse(conn, Response{Error: fmt.Sprintf("invalid request: %v", err), Kind: "invalid_request"})
		return
	}
	if header.Action == "" {
		s.writeResponse(conn, Response{Error: "missing required field: action", Kind: "invalid_request"})
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeResponse(conn, Response{Error: fmt.Sprintf("unknown action %q", header.Action), Kind: "unknown_action"})
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		response := Response{Error: err.Error()}
		var kinder Kinder
		if errors.As(err, &kinder) {
			response.Kind = kinder.Kind()
		}
		s.writeResponse(conn, response)
		return
	}

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeResponse(conn, Response{Error: fmt.Sprintf("internal: marshaling response: %v", err), Kind: "internal"})
			return
		}
		response.Data = data
	}
	s.writeResponse(conn, response)
}

// writeResponse encodes response to conn. Write failures are only
// logged: the connection is closing either way.
func (s *SocketServer) writeResponse(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write response", "ok", response.OK, "error", err)
	}
}
