// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for bureau-exchange.
//
// [GitCommit], [GitDirty], [BuildTime], and [Version] are injected with
// -ldflags -X:
//
//	go build -ldflags "-X github.com/bureau-foundation/exchange/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When GitCommit is not injected, the VCS stamp recorded by the go
// command is used instead, if the binary has one.
package version
