// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Reply is either a Response or an ErrorFrame as received by a client.
type Reply struct {
	UUID   string          `json:"uuid,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// Client is a WebSocket connection to a gateway. Calls on one Client
// must not overlap: replies are matched to calls by order.
type Client struct {
	ws *websocket.Conn
}

// Dial connects to the gateway at url ("ws://host:port/path").
func Dial(ctx context.Context, url string) (*Client, error) {
	ws, response, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("dialing %s: %w (HTTP %s)", url, err, response.Status)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return &Client{ws: ws}, nil
}

// Call sends call and waits for its reply.
func (c *Client) Call(ctx context.Context, call FunctionCall) (Reply, error) {
	data, err := json.Marshal(call)
	if err != nil {
		return Reply{}, fmt.Errorf("encoding call: %w", err)
	}
	return c.Send(ctx, data)
}

// Send writes one raw text frame and waits for the reply frame. It
// exists so malformed frames can be sent on purpose.
func (c *Client) Send(ctx context.Context, data []byte) (Reply, error) {
	// The net.Conn deadline is safe to set from another goroutine;
	// the websocket.Conn setters are not.
	stop := context.AfterFunc(ctx, func() {
		c.ws.NetConn().SetDeadline(time.Now())
	})
	defer stop()

	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return Reply{}, c.contextError(ctx, fmt.Errorf("sending call: %w", err))
	}
	_, message, err := c.ws.ReadMessage()
	if err != nil {
		return Reply{}, c.contextError(ctx, fmt.Errorf("reading reply: %w", err))
	}
	var reply Reply
	if err := json.Unmarshal(message, &reply); err != nil {
		return Reply{}, fmt.Errorf("decoding reply: %w", err)
	}
	return reply, nil
}

func (c *Client) contextError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Close sends a normal close frame and closes the connection.
func (c *Client) Close() error {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	return c.ws.Close()
}
