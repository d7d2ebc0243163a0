// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for exchange packages.
//
// [SocketDir] creates a short directory in /tmp for Unix domain
// sockets, whose paths are limited to 108 bytes. t.TempDir() paths are
// often longer than that.
//
// [RequireReceive] and [RequireClosed] wrap the select
// with a time.After fallback so tests never hang on a channel. They are
// the only place tests use real wall-clock timeouts.
//
// [Eventually] polls a condition for state that another process or
// goroutine publishes without a channel, such as queue occupancy in a
// shared segment.
//
// [UniqueID] generates monotonically increasing identifiers for
// segment names and call uuids that must not collide between parallel
// tests.
//
// All helpers call t.Fatalf on failure. This package has no
// exchange-internal dependencies.
package testutil
