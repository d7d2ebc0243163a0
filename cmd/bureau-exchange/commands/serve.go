// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/exchange/cmd/bureau-exchange/cli"
	"github.com/bureau-foundation/exchange/lib/config"
	"github.com/bureau-foundation/exchange/lib/gateway"
	"github.com/bureau-foundation/exchange/lib/service"
	"github.com/bureau-foundation/exchange/lib/shm"
	"github.com/bureau-foundation/exchange/lib/version"
	"github.com/bureau-foundation/exchange/lib/worker"
)

type serveParams struct {
	configParams
	Listen string `flag:"listen" desc:"WebSocket listen address, overriding the config"`
	Socket string `flag:"admin-socket" desc:"admin socket path, overriding the config"`
}

func serveCommand() *cli.Command {
	var params serveParams
	return &cli.Command{
		Name:    "serve",
		Summary: "Run the gateway",
		Description: `Create (or reset) the shared-memory segment and serve function calls
on a WebSocket until interrupted. The admin socket serves status and
queue inspection while the gateway runs.`,
		Usage: "bureau-exchange serve [flags]",
		Examples: []cli.Example{
			{Description: "Serve with the built-in defaults", Command: "bureau-exchange serve"},
			{Description: "Serve on all interfaces with a private segment", Command: "bureau-exchange serve --listen :8080 --segment /exchange-dev"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("serve", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			cfg, err := params.load()
			if err != nil {
				return err
			}
			if params.Listen != "" {
				cfg.Gateway.Listen = params.Listen
			}
			if params.Socket != "" {
				cfg.Admin.SocketPath = params.Socket
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, service.NewLogger())
		},
	}
}

// serve runs the gateway and the admin socket until ctx is cancelled
// or either fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting bureau-exchange",
		"version", version.Info(),
		"environment", cfg.Environment,
		"segment", cfg.Segment.Name,
	)

	segment, err := shm.Create(cfg.Segment.Name, segmentOptions(cfg))
	if err != nil {
		return err
	}
	defer segment.Close()
	logger.Info("segment ready", "path", segment.Path(), "size", shm.SegmentSize)

	invoker, err := newInvoker(cfg.Worker, logger)
	if err != nil {
		return err
	}

	exchange := gateway.New(segment, invoker, gateway.Options{
		Path:               cfg.Gateway.Path,
		MaxFrameBytes:      cfg.Gateway.MaxFrameBytes,
		WriteTimeout:       cfg.Gateway.WriteTimeout.Std(),
		CancelOnDisconnect: cfg.Gateway.CancelOnDisconnect,
	}, logger)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return exchange.ListenAndServe(ctx, cfg.Gateway.Listen)
	})
	if cfg.Admin.SocketPath != "" {
		admin := service.NewSocketServer(cfg.Admin.SocketPath, logger)
		exchange.RegisterAdmin(admin)
		group.Go(func() error {
			return admin.Serve(ctx)
		})
	}
	return group.Wait()
}

func newInvoker(cfg config.WorkerConfig, logger *slog.Logger) (*worker.Invoker, error) {
	mode, err := worker.ParseOutputMode(cfg.OutputMode)
	if err != nil {
		return nil, err
	}
	options := worker.Options{
		Timeout:         cfg.Timeout.Std(),
		OutputMode:      mode,
		MaxOutputBytes:  cfg.MaxOutputBytes,
		RequireRegistry: cfg.RequireRegistry,
	}
	if cfg.Registry != "" {
		registry, err := worker.ReadRegistry(cfg.Registry)
		if err != nil {
			return nil, err
		}
		options.Registry = registry
		logger.Info("function registry loaded", "path", cfg.Registry, "functions", len(registry.Functions))
	}
	return worker.NewInvoker(options, logger), nil
}
