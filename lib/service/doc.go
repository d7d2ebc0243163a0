// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the exchange's local control plane: a CBOR
// request/response server on a Unix socket, its client, and the logger
// construction shared by exchange daemons.
//
// The protocol is one request per connection. The client writes one
// CBOR map carrying an "action" field plus action-specific fields; the
// server dispatches to the [ActionFunc] registered for that action and
// writes one [Response] before closing the connection. CBOR values are
// self-delimiting, so no framing is needed.
//
// The gateway registers its admin actions (status, list, peek, remove,
// clear) on a [SocketServer]; the bureau-exchange CLI reaches them
// through [Client].
//
// # Access control
//
// There is no in-protocol authentication. The socket is created with
// mode 0600, so only the gateway's user (and root) can connect.
// Deployments that need a wider audience should place the socket in a
// directory whose group grants access, not loosen the socket mode.
package service
