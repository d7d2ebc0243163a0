// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError ends the process with Code without printing an error line.
// Commands return it after writing their own output, for outcomes such
// as an empty queue that are answers rather than failures.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode satisfies process.ExitCoder.
func (e *ExitError) ExitCode() int {
	return e.Code
}
