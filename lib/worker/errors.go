// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"fmt"
	"time"
)

// SpawnError reports a worker that could not be started, or a call the
// registry does not permit.
type SpawnError struct {
	Command string
	Reason  string
	Err     error
}

func (e *SpawnError) Error() string {
	message := fmt.Sprintf("spawning worker %q", e.Command)
	if e.Reason != "" {
		message += ": " + e.Reason
	}
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Kind classifies the error for response frames.
func (e *SpawnError) Kind() string { return "worker_spawn" }

// DecodeError reports worker output that is not a usable result.
type DecodeError struct {
	Mode   OutputMode
	Reason string

	// Excerpt is the start of the offending output, for logs.
	Excerpt string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding worker output (%s mode): %s", e.Mode, e.Reason)
}

func (e *DecodeError) Kind() string { return "decode" }

// TimeoutError reports a worker killed because it ran past its bound.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("worker %q exceeded %v timeout", e.Command, e.Timeout)
}

func (e *TimeoutError) Kind() string { return "timeout" }
