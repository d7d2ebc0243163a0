// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"io"
	"os"
)

// stdout receives command output. Tests replace it.
var stdout io.Writer = os.Stdout
