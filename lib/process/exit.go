// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitCoder is implemented by errors that select their own exit code.
// Such errors have already reported themselves, so Fatal prints
// nothing for them.
type ExitCoder interface {
	ExitCode() int
}

// exit is replaced in tests.
var exit = os.Exit

// Fatal reports err and exits. An error that implements ExitCoder
// exits silently with its code; anything else prints "error: err" to
// stderr and exits with 1.
func Fatal(err error) {
	exit(report(os.Stderr, err))
}

// report writes err to w when it should be shown and returns the exit
// code.
func report(w io.Writer, err error) int {
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
