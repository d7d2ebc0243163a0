// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the exchange.
//
// Configuration is loaded from a single file named by either the
// BUREAU_EXCHANGE_CONFIG environment variable (via [Load]) or a
// --config flag (via [LoadFile]). There is no discovery and no search
// path. Values absent from the file keep the defaults from [Default].
//
// The file may carry environment sections (development, staging,
// production) that override base values when [Config].Environment
// matches. Production requires the worker registry unless its section
// explicitly says otherwise.
//
// ${HOME} and ${VAR:-default} patterns are expanded in path fields
// after loading. No other environment variables override config
// values.
//
// This package depends on no other exchange packages.
package config
