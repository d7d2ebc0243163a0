// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"

	"github.com/bureau-foundation/exchange/lib/codec"
	"github.com/bureau-foundation/exchange/lib/service"
	"github.com/bureau-foundation/exchange/lib/shm"
)

// Admin action names.
const (
	ActionStatus = "status"
	ActionList   = "list"
	ActionPeek   = "peek"
	ActionRemove = "remove"
	ActionClear  = "clear"
)

// Status is the reply to the status action.
type Status struct {
	Gateway Stats     `json:"gateway"`
	Segment shm.Stats `json:"segment"`

	// SegmentError is set when segment stats could not be read, most
	// often because the lock is held past its bound.
	SegmentError string `json:"segment_error,omitempty"`
}

type queueRequest struct {
	Queue  string `cbor:"queue"`
	ID     string `cbor:"id"`
	Prefix bool   `cbor:"prefix"`
}

// RegisterAdmin registers the admin actions on server:
//
//	status                      gateway counters and segment occupancy
//	list   {queue}              every occupied slot of a queue
//	peek   {queue}              the lowest-indexed occupied slot
//	remove {queue, id, prefix}  empty the first matching slot
//	clear                       empty both queues
func (g *Gateway) RegisterAdmin(server *service.SocketServer) {
	server.Handle(ActionStatus, func(ctx context.Context, raw []byte) (any, error) {
		status := Status{Gateway: g.Stats()}
		stats, err := g.store.Stats()
		if err != nil {
			status.SegmentError = err.Error()
		}
		status.Segment = stats
		return status, nil
	})

	server.Handle(ActionList, func(ctx context.Context, raw []byte) (any, error) {
		queue, _, err := decodeQueueRequest(raw)
		if err != nil {
			return nil, err
		}
		return g.store.Snapshot(queue)
	})

	server.Handle(ActionPeek, func(ctx context.Context, raw []byte) (any, error) {
		queue, _, err := decodeQueueRequest(raw)
		if err != nil {
			return nil, err
		}
		return g.store.PeekFirst(queue)
	})

	server.Handle(ActionRemove, func(ctx context.Context, raw []byte) (any, error) {
		queue, request, err := decodeQueueRequest(raw)
		if err != nil {
			return nil, err
		}
		mode := shm.MatchExact
		if request.Prefix {
			mode = shm.MatchPrefix
		}
		if err := g.store.Remove(queue, request.ID, mode); err != nil {
			return nil, err
		}
		g.logger.Info("record removed by admin", "queue", queue.String(), "id", request.ID, "match", mode.String())
		return nil, nil
	})

	server.Handle(ActionClear, func(ctx context.Context, raw []byte) (any, error) {
		if err := g.store.Clear(); err != nil {
			return nil, err
		}
		g.logger.Warn("segment cleared by admin")
		return nil, nil
	})
}

// requestError reports admin request fields that cannot be used.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }
func (e *requestError) Kind() string  { return "invalid_request" }

func decodeQueueRequest(raw []byte) (shm.Queue, queueRequest, error) {
	var request queueRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return 0, request, &requestError{err: err}
	}
	queue, err := shm.ParseQueue(request.Queue)
	if err != nil {
		return 0, request, &requestError{err: err}
	}
	return queue, request, nil
}
