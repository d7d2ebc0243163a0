// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/exchange/cmd/bureau-exchange/cli"
	"github.com/bureau-foundation/exchange/lib/shm"
)

func queueCommand() *cli.Command {
	return &cli.Command{
		Name:    "queue",
		Summary: "Inspect and edit a queue directly in the segment",
		Description: `Operate on one queue ("input" or "output") of the segment without
going through a running gateway. Every operation takes the segment
lock, so these commands are safe while the gateway runs.`,
		Subcommands: []*cli.Command{
			queueListCommand(),
			queuePeekCommand(),
			queueRemoveCommand(),
			queueAppendCommand(),
		},
	}
}

type queueListParams struct {
	configParams
	cli.JSONOutput
}

func queueListCommand() *cli.Command {
	var params queueListParams
	return &cli.Command{
		Name:    "list",
		Summary: "List every occupied slot",
		Usage:   "bureau-exchange queue list <input|output> [flags]",
		Examples: []cli.Example{
			{Description: "Show results waiting for external readers", Command: "bureau-exchange queue list output"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			queue, err := queueArg(args, 1)
			if err != nil {
				return err
			}
			segment, err := params.openSegment()
			if err != nil {
				return err
			}
			defer segment.Close()

			snapshot, err := segment.Snapshot(queue)
			if err != nil {
				return err
			}
			if params.OutputJSON || !isTerminal(stdout) {
				return cli.WriteJSON(stdout, snapshot)
			}
			writer := tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "INDEX\tID\tPAYLOAD")
			for _, slot := range snapshot.Slots {
				fmt.Fprintf(writer, "%d\t%s\t%s\n", slot.Index, slot.ID, slot.Payload)
			}
			if err := writer.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "\n%d of %d slots occupied (digest %.16s)\n", len(snapshot.Slots), shm.Capacity, snapshot.Digest)
			return nil
		},
	}
}

func queuePeekCommand() *cli.Command {
	var params configParams
	return &cli.Command{
		Name:    "peek",
		Summary: "Print the lowest-indexed record",
		Description: `Print the record in the lowest-indexed occupied slot as JSON. Exits
with status 1 and no output when the queue is empty.`,
		Usage: "bureau-exchange queue peek <input|output> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("peek", &params)
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			queue, err := queueArg(args, 1)
			if err != nil {
				return err
			}
			segment, err := params.openSegment()
			if err != nil {
				return err
			}
			defer segment.Close()

			record, err := segment.PeekFirst(queue)
			if errors.Is(err, shm.ErrNotFound) {
				return &cli.ExitError{Code: 1}
			}
			if err != nil {
				return err
			}
			return cli.WriteJSON(stdout, record)
		},
	}
}

type queueRemoveParams struct {
	configParams
	Prefix bool `flag:"prefix" desc:"remove the first record whose id starts with the given id"`
}

func queueRemoveCommand() *cli.Command {
	var params queueRemoveParams
	return &cli.Command{
		Name:    "remove",
		Summary: "Empty the first slot whose id matches",
		Usage:   "bureau-exchange queue remove <input|output> <id> [flags]",
		Examples: []cli.Example{
			{Description: "Acknowledge one result", Command: "bureau-exchange queue remove output 7f8a1c2e-0b5d-4c61-9a57-3f0e2d6b9c11"},
			{Description: "Remove the first result of a batch", Command: "bureau-exchange queue remove output batch-42- --prefix"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("remove", &params)
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			queue, err := queueArg(args, 2)
			if err != nil {
				return err
			}
			segment, err := params.openSegment()
			if err != nil {
				return err
			}
			defer segment.Close()

			mode := shm.MatchExact
			if params.Prefix {
				mode = shm.MatchPrefix
			}
			if err := segment.Remove(queue, args[1], mode); err != nil {
				return err
			}
			logger.Info("record removed", "queue", queue.String(), "id", args[1], "match", mode.String())
			return nil
		},
	}
}

func queueAppendCommand() *cli.Command {
	var params configParams
	return &cli.Command{
		Name:    "append",
		Summary: "Store a record in the first empty slot",
		Usage:   "bureau-exchange queue append <input|output> <id> <payload> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("append", &params)
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			queue, err := queueArg(args, 3)
			if err != nil {
				return err
			}
			segment, err := params.openSegment()
			if err != nil {
				return err
			}
			defer segment.Close()
			return segment.Append(queue, args[1], args[2])
		},
	}
}

// queueArg checks that args has exactly count entries and parses the
// first as a queue name.
func queueArg(args []string, count int) (shm.Queue, error) {
	if len(args) != count {
		return 0, fmt.Errorf("expected %d argument(s), got %d", count, len(args))
	}
	return shm.ParseQueue(args[0])
}

func isTerminal(w any) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
