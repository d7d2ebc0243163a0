// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/exchange/cmd/bureau-exchange/cli"
	"github.com/bureau-foundation/exchange/lib/gateway"
	"github.com/bureau-foundation/exchange/lib/service"
)

type statusParams struct {
	configParams
	cli.JSONOutput
	Socket  string        `flag:"socket" desc:"admin socket path (default: admin.socket_path from the config)"`
	Timeout time.Duration `flag:"timeout" desc:"bound on the status request" default:"5s"`
}

func statusCommand() *cli.Command {
	var params statusParams
	return &cli.Command{
		Name:    "status",
		Summary: "Show gateway counters and segment occupancy",
		Description: `Ask a running gateway for its counters and the segment's occupancy
through the admin socket.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", &params)
		},
		Run: func(ctx context.Context, _ []string, _ *slog.Logger) error {
			socketPath := params.Socket
			if socketPath == "" {
				cfg, err := params.load()
				if err != nil {
					return err
				}
				socketPath = cfg.Admin.SocketPath
			}
			if socketPath == "" {
				return fmt.Errorf("no admin socket configured; pass --socket")
			}

			ctx, cancel := context.WithTimeout(ctx, params.Timeout)
			defer cancel()
			var status gateway.Status
			if err := service.NewClient(socketPath).Call(ctx, gateway.ActionStatus, nil, &status); err != nil {
				return err
			}
			if done, err := params.EmitJSON(status); done {
				return err
			}
			return printStatus(status)
		},
	}
}

func printStatus(status gateway.Status) error {
	writer := tabwriter.NewWriter(stdout, 2, 0, 2, ' ', 0)
	segment := status.Segment
	fmt.Fprintf(writer, "segment\t%s (%s)\n", segment.Name, segment.Path)
	if status.SegmentError != "" {
		fmt.Fprintf(writer, "segment error\t%s\n", status.SegmentError)
	} else {
		fmt.Fprintf(writer, "input\t%d/%d\n", segment.Input, segment.Capacity)
		fmt.Fprintf(writer, "output\t%d/%d\n", segment.Output, segment.Capacity)
	}
	if segment.HolderPID != 0 {
		fmt.Fprintf(writer, "lock holder\tpid %d\n", segment.HolderPID)
	}

	counters := status.Gateway
	fmt.Fprintf(writer, "connections\t%d open, %d total\n", counters.ActiveConnections, counters.Connections)
	fmt.Fprintf(writer, "requests\t%d received, %d completed\n", counters.Requests, counters.Completed)
	fmt.Fprintf(writer, "audit drops\t%d\n", counters.AuditDrops)
	kinds := make([]string, 0, len(counters.Failures))
	for kind := range counters.Failures {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(writer, "failures (%s)\t%d\n", kind, counters.Failures[kind])
	}
	return writer.Flush()
}
