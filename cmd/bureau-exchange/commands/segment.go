// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/exchange/cmd/bureau-exchange/cli"
	"github.com/bureau-foundation/exchange/lib/shm"
)

func segmentCommand() *cli.Command {
	return &cli.Command{
		Name:    "segment",
		Summary: "Create, destroy, or clear the shared-memory segment",
		Subcommands: []*cli.Command{
			segmentCreateCommand(),
			segmentDestroyCommand(),
			segmentClearCommand(),
		},
	}
}

func segmentCreateCommand() *cli.Command {
	var params configParams
	return &cli.Command{
		Name:    "create",
		Summary: "Create the segment, or reset an existing one",
		Description: `Create the segment named by the configuration, sized and initialized
with both queues empty. An existing segment is reset: every record in
it is discarded.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("create", &params)
		},
		Run: func(_ context.Context, _ []string, logger *slog.Logger) error {
			cfg, err := params.load()
			if err != nil {
				return err
			}
			segment, err := shm.Create(cfg.Segment.Name, segmentOptions(cfg))
			if err != nil {
				return err
			}
			defer segment.Close()
			logger.Info("segment created", "name", segment.Name(), "path", segment.Path(), "size", shm.SegmentSize)
			fmt.Fprintln(stdout, segment.Path())
			return nil
		},
	}
}

func segmentDestroyCommand() *cli.Command {
	var params configParams
	return &cli.Command{
		Name:    "destroy",
		Summary: "Unlink the segment",
		Description: `Remove the segment's name. Processes that already have it open keep
their handles until they close them.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("destroy", &params)
		},
		Run: func(_ context.Context, _ []string, logger *slog.Logger) error {
			cfg, err := params.load()
			if err != nil {
				return err
			}
			if err := shm.Destroy(cfg.Segment.Name, segmentOptions(cfg)); err != nil {
				return err
			}
			logger.Info("segment destroyed", "name", cfg.Segment.Name)
			return nil
		},
	}
}

func segmentClearCommand() *cli.Command {
	var params configParams
	return &cli.Command{
		Name:    "clear",
		Summary: "Empty both queues",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("clear", &params)
		},
		Run: func(_ context.Context, _ []string, logger *slog.Logger) error {
			segment, err := params.openSegment()
			if err != nil {
				return err
			}
			defer segment.Close()
			if err := segment.Clear(); err != nil {
				return err
			}
			logger.Info("segment cleared", "name", segment.Name())
			return nil
		},
	}
}
