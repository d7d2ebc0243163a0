// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the bureau-exchange command tree.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/exchange/cmd/bureau-exchange/cli"
	"github.com/bureau-foundation/exchange/lib/version"
)

// Root returns the complete command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "bureau-exchange",
		Description: `bureau-exchange: cross-process function calls over shared memory.

The gateway accepts function calls on a WebSocket, tracks each call in
the input queue of a shared-memory segment while its worker runs, and
leaves every result in the output queue for other processes to read.`,
		Subcommands: []*cli.Command{
			serveCommand(),
			segmentCommand(),
			queueCommand(),
			statusCommand(),
			callCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Printf("bureau-exchange %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
