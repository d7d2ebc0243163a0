// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework of the bureau-exchange binary.
//
// A [Command] has a name, optional [Command.Subcommands], a lazily
// built [pflag.FlagSet], and a Run function that receives a context
// and a logger scoped to the command path. [Command.Execute] routes
// args through the tree, parses flags, and prints help.
//
// Unknown subcommands and flags get a "did you mean" suggestion when
// a known name is within edit distance 3 (suggest.go).
//
// Flag sets are usually built from tagged parameter structs with
// [FlagsFromParams]. Embedding [JSONOutput] adds --json.
package cli
