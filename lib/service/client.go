// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/exchange/lib/codec"
)

const (
	dialTimeout = 5 * time.Second

	// responseReadTimeout covers the server's read and write timeouts
	// plus handler time.
	responseReadTimeout = 45 * time.Second

	// maxResponseSize fits a full queue listing (100 slots of at most
	// 294 bytes each plus framing) many times over.
	maxResponseSize = 1024 * 1024
)

// ServiceError is returned by Call when the server answers ok=false.
type ServiceError struct {
	Action  string
	Message string

	// ErrorKind is the server's classification, empty when it gave
	// none.
	ErrorKind string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// Kind returns the server's classification of the failure.
func (e *ServiceError) Kind() string {
	return e.ErrorKind
}

// Client sends requests to a SocketServer. Each Call opens a new
// connection, matching the server's one-request-per-connection model.
type Client struct {
	socketPath string
}

// NewClient returns a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends action with the given fields and decodes the response
// data into result when both are non-nil. fields must not contain an
// "action" key.
//
// A server-side failure is returned as *ServiceError; connection and
// encoding failures are plain errors.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &ServiceError{Action: action, Message: response.Error, ErrorKind: response.Kind}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(responseReadTimeout))
	// Abort a blocked read or write when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
