// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package shm

import (
	"sync/atomic"
	"time"
)

// pollInterval bounds how long a waiter sleeps between checks of the
// lock word on platforms without futexes.
const pollInterval = time.Millisecond

// futexWait polls instead of sleeping in the kernel. Correctness only
// depends on the atomic operations on the lock word; the guard's loop
// enforces the timeout.
func futexWait(addr *uint32, val uint32, timeout time.Duration) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}
	sleep := pollInterval
	if timeout > 0 && timeout < sleep {
		sleep = timeout
	}
	time.Sleep(sleep)
	return nil
}

func futexWake(addr *uint32, n int) error {
	return nil
}
