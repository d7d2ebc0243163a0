// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"

	"github.com/bureau-foundation/exchange/cmd/bureau-exchange/commands"
	"github.com/bureau-foundation/exchange/lib/process"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	return commands.Root().Execute(context.Background(), os.Args[1:])
}
