// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker runs the external executables that produce results
// for exchange calls.
//
// A worker is invoked as
//
//	<command> <location> <json-args>
//
// where json-args is the call's args value in compact JSON. The
// worker's standard output is the result. How stdout becomes a result
// value depends on the [OutputMode]: strict JSON, verbatim text, or
// JSON when it parses and text otherwise.
//
// [Invoker.Invoke] enforces a per-invocation timeout, caps captured
// output, runs the worker in its own process group so a timeout or
// cancellation kills every process it started, and records the exit
// status and a stderr tail for logging. Failures are typed:
// [SpawnError] when the process cannot be started or the call is not
// allowed, [DecodeError] when stdout is not a usable result, and
// [TimeoutError] when the bound expires.
//
// A [Registry] loaded from a JSONC file maps function names to their
// command and location, so callers may name a function instead of a
// program, and deployments may refuse anything the registry does not
// list.
package worker
