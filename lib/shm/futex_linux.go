// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package shm

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// The shared (non-PRIVATE) futex operations. The PRIVATE variants key
// waiters by virtual address within one process; the lock word is
// mapped by several processes at different addresses, so the kernel
// must key by the backing page instead.
const (
	futexOpWait = 0
	futexOpWake = 1
)

// futexWait blocks while *addr == val, for at most timeout (zero means
// no bound). Spurious wakeups, EINTR, and a value that already changed
// all return nil; callers re-check their condition in a loop.
func futexWait(addr *uint32, val uint32, timeout time.Duration) error {
	var timespec *unix.Timespec
	if timeout > 0 {
		ts := unix.NsecToTimespec(int64(timeout))
		timespec = &ts
	}

	// Syscall6 rather than RawSyscall6: this call can block for a long
	// time and the runtime must be told so it can hand off the P.
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWait,
		uintptr(val),
		uintptr(unsafe.Pointer(timespec)),
		0,
		0,
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	case unix.ETIMEDOUT:
		return errFutexTimeout
	default:
		return errno
	}
}

// futexWake wakes up to n waiters blocked on addr.
func futexWake(addr *uint32, n int) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWake,
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}
