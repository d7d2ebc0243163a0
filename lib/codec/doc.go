// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the exchange's CBOR encoding configuration.
//
// The exchange speaks two formats. JSON is the external contract:
// FunctionCall and Response frames on the WebSocket, worker arguments
// and output, and CLI output. CBOR carries the admin socket protocol
// between the gateway and the bureau-exchange CLI.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same value always produces the same bytes.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types that the CLI also prints as JSON carry `json` tags only;
// fxamacker/cbor falls back to them for field names. Admin protocol
// envelopes that never leave the socket carry `cbor` tags. A field
// never carries both.
package codec
