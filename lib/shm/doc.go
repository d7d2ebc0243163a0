// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package shm implements the exchange's shared-memory message store:
// one named segment holding a process-shared lock and two fixed-capacity
// slot queues (input and output).
//
// The segment is a file under /dev/shm (the same object shm_open(3)
// creates), so any process with permission can map it: the gateway,
// worker executables written in other languages, and the
// bureau-exchange CLI all see the same slots. No process owns it. The
// kernel keeps it alive until [Destroy] unlinks the name and the last
// descriptor is closed.
//
// A [Segment] is an explicit handle returned by [Create] or [Open] and
// every queue operation is a method on it. Operations do not hold a
// persistent mapping: each one maps the whole segment, acquires the
// lock, mutates or copies the slots it needs, releases the lock, and
// unmaps before returning. Remapping is safe because the storage lives
// in the kernel, not in any one mapping.
//
// # Layout
//
// The layout is fixed and versioned. All offsets are from the start of
// the segment:
//
//	0x0000  magic "BXCHG\0\0\0"        8 bytes
//	0x0008  layout version             4 bytes
//	0x000C  lock word                  4 bytes (0 free, 1 held, 2 held with waiters)
//	0x0010  holder pid                 4 bytes (diagnostic only)
//	0x0014  reserved                  44 bytes
//	0x0040  input queue              100 x 294 bytes
//	0x7318  output queue             100 x 294 bytes
//
// A record is a 37-byte id field followed by a 257-byte payload field.
// The last byte of each field is reserved for the NUL terminator, so
// ids hold at most 36 bytes and payloads at most 256. A slot whose
// first id byte is zero is empty.
//
// # Locking
//
// The lock word is a futex-based mutex living inside the segment, so it
// serializes every process that maps the segment as well as every
// goroutine within one process. Acquisition is bounded by
// [Options].LockTimeout. A waiter that finds the recorded holder pid no
// longer running takes the lock over, so a process that died inside its
// critical section does not wedge the segment. A holder that is alive
// but stuck yields a [LockError] naming its pid instead of hanging the
// caller.
//
// # Queues
//
// Queues are positional, not FIFO. [Segment.Append] fills the lowest
// empty slot, so after removals a later append can land ahead of an
// earlier one. A full queue fails with [QueueFullError]; nothing is
// ever dropped or truncated silently.
package shm
