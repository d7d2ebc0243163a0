// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the exit path for exchange binaries: report
// an error from run() to stderr, where the structured logger may not
// exist yet, and exit with the code the error carries.
package process
