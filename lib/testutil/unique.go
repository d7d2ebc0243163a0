// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"os"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-PID-N" where N increases monotonically
// within the process. The pid keeps names distinct when several test
// binaries share /dev/shm.
//
//	name := "/" + testutil.UniqueID("segment") // "/segment-4121-1"
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, os.Getpid(), uniqueCounter.Add(1))
}
