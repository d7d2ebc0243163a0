// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shm

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is. Each typed error below matches exactly one;
// ErrInvalidRecord is returned wrapped by Record.Validate.
//
// The typed errors also report a stable Kind ("init", "lock",
// "oversize", "queue_full", "not_found") for wire protocols.
var (
	ErrInit          = errors.New("shm: segment unusable")
	ErrLock          = errors.New("shm: lock unavailable")
	ErrOversize      = errors.New("shm: value exceeds slot capacity")
	ErrQueueFull     = errors.New("shm: queue full")
	ErrNotFound      = errors.New("shm: no matching record")
	ErrInvalidRecord = errors.New("shm: invalid record")
)

// InitError reports that the segment could not be created, opened,
// sized, mapped, or validated. It is fatal for a process that depends
// on the segment.
type InitError struct {
	Op   string
	Name string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("shm: %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *InitError) Unwrap() []error { return []error{ErrInit, e.Err} }

func (e *InitError) Kind() string { return "init" }

// LockError reports that the segment lock could not be acquired within
// the configured bound. Holder is the pid recorded by the last
// successful acquirer, zero if unknown. A holder that had exited would
// have been taken over, so Holder names a live process (or one in
// another pid namespace). Once that process exits the next waiter
// takes the lock over.
type LockError struct {
	Holder uint32
	Waited time.Duration
	Err    error
}

func (e *LockError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("shm: acquiring segment lock (holder pid %d): %v", e.Holder, e.Err)
	}
	return fmt.Sprintf("shm: segment lock held by pid %d for more than %v", e.Holder, e.Waited)
}

func (e *LockError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrLock}
	}
	return []error{ErrLock, e.Err}
}

func (e *LockError) Kind() string { return "lock" }

// OversizeError reports an id or payload longer than its field allows.
type OversizeError struct {
	Field    string
	Length   int
	Capacity int
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("shm: %s is %d bytes, capacity is %d", e.Field, e.Length, e.Capacity)
}

func (e *OversizeError) Is(target error) bool { return target == ErrOversize }

func (e *OversizeError) Kind() string { return "oversize" }

// QueueFullError reports that every slot of a queue is occupied.
type QueueFullError struct {
	Queue Queue
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("shm: %s queue full (%d slots)", e.Queue, Capacity)
}

func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }

func (e *QueueFullError) Kind() string { return "queue_full" }

// NotFoundError reports that no slot matched. ID is empty for peeks.
type NotFoundError struct {
	Queue Queue
	ID    string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("shm: %s queue is empty", e.Queue)
	}
	return fmt.Sprintf("shm: no record %q in %s queue", e.ID, e.Queue)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Kind() string { return "not_found" }
