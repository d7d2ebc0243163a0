// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"os"

	"github.com/bureau-foundation/exchange/lib/config"
	"github.com/bureau-foundation/exchange/lib/shm"
)

// configParams selects the configuration file. Commands embed it.
type configParams struct {
	Config  string `flag:"config,c" desc:"path to exchange.yaml (default: $BUREAU_EXCHANGE_CONFIG, else built-in defaults)"`
	Segment string `flag:"segment" desc:"shared-memory segment name, overriding the config"`
}

// load reads the configuration named by --config, or by
// BUREAU_EXCHANGE_CONFIG, falling back to the defaults when neither is
// given, applies flag overrides, and validates the result.
func (p *configParams) load() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case p.Config != "":
		cfg, err = config.LoadFile(p.Config)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if p.Segment != "" {
		cfg.Segment.Name = p.Segment
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func segmentOptions(cfg *config.Config) shm.Options {
	return shm.Options{
		LockTimeout: cfg.Segment.LockTimeout.Std(),
		Directory:   cfg.Segment.Directory,
	}
}

// openSegment opens the configured segment, which must already exist.
func (p *configParams) openSegment() (*shm.Segment, error) {
	cfg, err := p.load()
	if err != nil {
		return nil, err
	}
	return shm.Open(cfg.Segment.Name, segmentOptions(cfg))
}
