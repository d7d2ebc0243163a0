// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Bureau-exchange runs the function-call gateway and operates on its
// shared-memory segment.
//
// "bureau-exchange serve" creates the segment, serves calls on a
// WebSocket, and serves admin requests on a Unix socket. The segment,
// queue, status, and call subcommands inspect and drive a running
// exchange. Configuration comes from --config or
// BUREAU_EXCHANGE_CONFIG; see lib/config.
package main
