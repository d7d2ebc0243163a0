// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shm

import (
	"errors"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

var errFutexTimeout = errors.New("futex wait timed out")

// holderPoll bounds each futex wait so a waiter notices a holder that
// died without releasing the lock.
const holderPoll = 100 * time.Millisecond

// Lock word states.
const (
	lockFree      = 0
	lockHeld      = 1
	lockContended = 2
)

// guard is the process-shared mutex stored in a mapped segment header.
// It is the three-state futex mutex from Drepper's "Futexes Are
// Tricky": waiters mark the word contended so the releaser knows to
// issue a wake.
//
// The word lives in shared memory, so it excludes goroutines in this
// process and threads in any other process mapping the same segment.
type guard struct {
	word   *uint32
	holder *uint32
}

func newGuard(mem []byte) guard {
	return guard{
		word:   (*uint32)(unsafe.Pointer(&mem[lockOffset])),
		holder: (*uint32)(unsafe.Pointer(&mem[holderOffset])),
	}
}

// init resets the lock to free. Only called by Create on an object
// without a valid header, which no process can be using as a segment.
func (g guard) init() {
	atomic.StoreUint32(g.holder, 0)
	atomic.StoreUint32(g.word, lockFree)
}

// lock acquires the mutex, waiting at most timeout (zero waits
// forever). A lock whose recorded holder no longer exists is taken over
// rather than waited out.
func (g guard) lock(timeout time.Duration) error {
	if atomic.CompareAndSwapUint32(g.word, lockFree, lockHeld) {
		g.markHeld()
		return nil
	}

	start := time.Now()
	for {
		// Taking the lock in the contended state is conservative: the
		// unlock will issue one wake that may find nobody waiting.
		if atomic.SwapUint32(g.word, lockContended) == lockFree {
			g.markHeld()
			return nil
		}

		if g.takeOverDead() {
			return nil
		}

		wait := holderPoll
		if timeout > 0 {
			remaining := timeout - time.Since(start)
			if remaining <= 0 {
				return &LockError{Holder: atomic.LoadUint32(g.holder), Waited: time.Since(start)}
			}
			wait = min(wait, remaining)
		}

		if err := futexWait(g.word, lockContended, wait); err != nil && !errors.Is(err, errFutexTimeout) {
			return &LockError{Holder: atomic.LoadUint32(g.holder), Waited: time.Since(start), Err: err}
		}
	}
}

// unlock releases the mutex and wakes one waiter if any were recorded.
func (g guard) unlock() {
	atomic.StoreUint32(g.holder, 0)
	if atomic.AddUint32(g.word, ^uint32(0)) != lockFree {
		atomic.StoreUint32(g.word, lockFree)
		// A failed wake leaves waiters to their timeout; there is
		// nothing more useful to do with the error here.
		_ = futexWake(g.word, 1)
	}
}

// takeOverDead claims the lock when the recorded holder process has
// exited while holding it. The word stays held; ownership moves by
// swapping the holder pid, so only one waiter can win. A zero holder
// means the lock is between acquisition and markHeld, or free.
//
// Liveness is judged by pid in this process's pid namespace. A reused
// pid looks alive and leaves the caller to its timeout.
func (g guard) takeOverDead() bool {
	holder := atomic.LoadUint32(g.holder)
	if holder == 0 || !processGone(holder) {
		return false
	}
	return atomic.CompareAndSwapUint32(g.holder, holder, uint32(os.Getpid()))
}

func processGone(pid uint32) bool {
	return errors.Is(unix.Kill(int(pid), 0), unix.ESRCH)
}

func (g guard) markHeld() {
	atomic.StoreUint32(g.holder, uint32(os.Getpid()))
}

// holderPID returns the pid of the current holder, zero when free.
func (g guard) holderPID() uint32 {
	return atomic.LoadUint32(g.holder)
}
