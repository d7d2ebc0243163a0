// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/exchange/cmd/bureau-exchange/cli"
	"github.com/bureau-foundation/exchange/lib/config"
	"github.com/bureau-foundation/exchange/lib/gateway"
)

type callParams struct {
	configParams
	URL      string        `flag:"url" desc:"gateway WebSocket URL (default: derived from gateway.listen and gateway.path)"`
	Function string        `flag:"function,f" desc:"function name (required)"`
	Command  string        `flag:"command" desc:"worker command; empty defers to the function registry"`
	Location string        `flag:"location" desc:"worker script location; empty defers to the function registry"`
	Args     string        `flag:"args" desc:"call arguments as JSON" default:"null"`
	UUID     string        `flag:"uuid" desc:"correlation id (default: a random UUID)"`
	Timeout  time.Duration `flag:"timeout" desc:"bound on the whole call" default:"60s"`
}

func callCommand() *cli.Command {
	var params callParams
	return &cli.Command{
		Name:    "call",
		Summary: "Send one function call to a running gateway",
		Description: `Connect to the gateway, send one call, and print the reply frame. Exits
with status 1 when the reply is an error frame.`,
		Examples: []cli.Example{
			{
				Description: "Run a Python worker",
				Command:     `bureau-exchange call --function add --command python3 --location /opt/fn/add.py --args '{"a": 1, "b": 2}'`,
			},
			{
				Description: "Call a registered function",
				Command:     `bureau-exchange call --function add --args '[1, 2]'`,
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("call", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if params.Function == "" {
				return fmt.Errorf("--function is required")
			}
			if !json.Valid([]byte(params.Args)) {
				return fmt.Errorf("--args is not valid JSON: %q", params.Args)
			}
			url := params.URL
			if url == "" {
				cfg, err := params.load()
				if err != nil {
					return err
				}
				url = gatewayURL(cfg.Gateway)
			}
			id := params.UUID
			if id == "" {
				id = uuid.NewString()
			}

			ctx, cancel := context.WithTimeout(ctx, params.Timeout)
			defer cancel()
			client, err := gateway.Dial(ctx, url)
			if err != nil {
				return err
			}
			defer client.Close()

			start := time.Now()
			reply, err := client.Call(ctx, gateway.FunctionCall{
				Function: params.Function,
				UUID:     id,
				Args:     json.RawMessage(params.Args),
				Command:  params.Command,
				Location: params.Location,
			})
			if err != nil {
				return err
			}
			logger.Debug("reply received", "uuid", reply.UUID, "duration", time.Since(start))
			if err := cli.WriteJSON(stdout, reply); err != nil {
				return err
			}
			if reply.Error != nil {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// gatewayURL derives the WebSocket URL of a locally configured
// gateway. A wildcard listen host is dialed on loopback.
func gatewayURL(cfg config.GatewayConfig) string {
	address := cfg.Listen
	if host, port, err := net.SplitHostPort(address); err == nil {
		switch host {
		case "", "0.0.0.0", "::":
			address = net.JoinHostPort("127.0.0.1", port)
		}
	}
	path := cfg.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + address + path
}
