// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway serves exchange calls over WebSocket.
//
// Each text frame carries one [FunctionCall]. For every call the
// gateway:
//
//  1. records the call in the segment's input queue under its uuid,
//  2. runs the worker synchronously,
//  3. records the response in the output queue (best effort),
//  4. replies with a [Response] frame on the same connection,
//  5. removes the input record.
//
// The reply is built from the worker result directly. The output queue
// is an audit trail for external readers and is never read back here;
// a full or oversize output record is dropped with a warning and does
// not affect the reply. The input queue therefore holds only calls in
// flight, and its capacity bounds concurrent calls across every
// gateway sharing the segment.
//
// Any per-call failure becomes an error frame
//
//	{"uuid": "...", "error": {"kind": "queue_full", "message": "..."}}
//
// and the connection stays open. Calls on one connection are handled
// in order; connections are independent of each other.
//
// When a connection closes mid-call and [Options].CancelOnDisconnect is
// set, the running worker is killed.
//
// [Gateway.RegisterAdmin] exposes queue inspection and gateway
// counters on a service.SocketServer.
package gateway
