// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/exchange/lib/shm"
	"github.com/bureau-foundation/exchange/lib/worker"
)

// closeGracePeriod bounds sending the close frame on shutdown.
const closeGracePeriod = time.Second

type connection struct {
	gateway *Gateway
	ws      *websocket.Conn
	logger  *slog.Logger
}

// frame is one inbound WebSocket message.
type frame struct {
	messageType int
	data        []byte
}

// run serves the connection until the peer goes away or stopping is
// cancelled. A reader goroutine feeds frames to this goroutine, which
// handles them in order; the split lets the reader notice a closed
// connection while a worker is still running.
func (c *connection) run(stopping context.Context) {
	ctx, cancel := context.WithCancel(stopping)
	defer cancel()

	// On gateway shutdown, say goodbye and unblock the reader.
	stopClose := context.AfterFunc(stopping, func() {
		message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "gateway shutting down")
		_ = c.ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeGracePeriod))
		c.ws.Close()
	})
	defer stopClose()
	defer c.ws.Close()

	c.logger.Debug("connection opened")
	frames := make(chan frame)
	go c.read(ctx, cancel, frames)

	for inbound := range frames {
		c.handle(ctx, inbound)
	}
	c.logger.Debug("connection closed")
}

// read pumps frames until the connection fails. It closes frames when
// it returns.
func (c *connection) read(ctx context.Context, cancel context.CancelFunc, frames chan<- frame) {
	defer close(frames)
	c.ws.SetReadLimit(c.gateway.options.MaxFrameBytes)

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("connection read failed", "error", err)
			}
			if c.gateway.options.CancelOnDisconnect {
				cancel()
			}
			return
		}
		select {
		case frames <- frame{messageType: messageType, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// handle serves one inbound frame. Every outcome except a failed write
// produces exactly one reply frame.
func (c *connection) handle(ctx context.Context, inbound frame) {
	g := c.gateway
	g.stats.requestReceived()
	start := time.Now()

	if inbound.messageType != websocket.TextMessage {
		c.fail("", &FrameError{Reason: "only text frames carry calls"})
		return
	}

	call, err := decodeCall(inbound.data)
	if err != nil {
		c.fail(call.UUID, err)
		return
	}
	logger := c.logger.With("uuid", call.UUID, "function", call.Function)

	record, err := encodeRecord(call)
	if err != nil {
		c.fail(call.UUID, err)
		return
	}
	if err := g.store.Append(shm.Input, call.UUID, record); err != nil {
		logger.Warn("call not admitted", "error", err)
		c.fail(call.UUID, err)
		return
	}
	defer func() {
		if err := g.store.Remove(shm.Input, call.UUID, shm.MatchExact); err != nil {
			logger.Warn("removing in-flight record", "error", err)
		}
	}()

	result, err := g.invoker.Invoke(ctx, worker.Request{
		Function: call.Function,
		Command:  call.Command,
		Location: call.Location,
		Args:     call.Args,
	})
	if err != nil {
		logger.Info("call failed", "error", err, "duration", time.Since(start))
		c.fail(call.UUID, err)
		return
	}

	response := Response{UUID: call.UUID, Result: result.Value}
	c.audit(logger, response)

	if err := c.write(response); err != nil {
		logger.Debug("reply not delivered", "error", err)
		return
	}
	g.stats.requestCompleted()
	logger.Debug("call completed",
		"command", result.Command,
		"exit_code", result.ExitCode,
		"duration", time.Since(start),
	)
}

// audit records response in the output queue. Failure is logged and
// counted, never returned: the caller's reply does not depend on it.
func (c *connection) audit(logger *slog.Logger, response Response) {
	record, err := encodeRecord(response)
	if err == nil {
		err = c.gateway.store.Append(shm.Output, response.UUID, record)
	}
	if err != nil {
		c.gateway.stats.auditDropped()
		logger.Warn("audit record dropped", "error", err)
	}
}

// fail replies with an error frame for err.
func (c *connection) fail(uuid string, err error) {
	kind := errorKind(err)
	c.gateway.stats.requestFailed(kind)
	frame := ErrorFrame{UUID: uuid, Error: ErrorBody{Kind: kind, Message: err.Error()}}
	if writeErr := c.write(frame); writeErr != nil {
		c.logger.Debug("error reply not delivered", "uuid", uuid, "error", writeErr)
	}
}

func (c *connection) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if timeout := c.gateway.options.WriteTimeout; timeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// errorKind maps an error to the stable kind string of an error frame.
func errorKind(err error) string {
	var kinder interface{ Kind() string }
	switch {
	case errors.As(err, &kinder):
		return kinder.Kind()
	case errors.Is(err, shm.ErrInvalidRecord):
		return "invalid_record"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}
