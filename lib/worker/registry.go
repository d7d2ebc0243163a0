// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
)

// Function is one registry entry: the program and location that
// implement a named function.
type Function struct {
	Command  string `json:"command"`
	Location string `json:"location"`
}

// Registry maps function names to their implementations.
//
// The file format is JSON extended with // and /* */ comments and
// trailing commas:
//
//	{
//	  "functions": {
//	    // Adds two numbers.
//	    "add": {"command": "python3", "location": "/opt/fn/add.py"},
//	  },
//	}
type Registry struct {
	Functions map[string]Function `json:"functions"`
}

// ParseRegistry strips JSONC comments and trailing commas from data and
// decodes the registry. Unknown fields are rejected so a misspelled
// key does not silently drop an entry.
func ParseRegistry(data []byte) (*Registry, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()

	var registry Registry
	if err := decoder.Decode(&registry); err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}
	if err := registry.validate(); err != nil {
		return nil, err
	}
	return &registry, nil
}

// ReadRegistry reads and parses a JSONC registry file.
func ReadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	registry, err := ParseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return registry, nil
}

func (r *Registry) validate() error {
	var errs []error
	for _, name := range r.Names() {
		function := r.Functions[name]
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("function with an empty name"))
		}
		if function.Command == "" {
			errs = append(errs, fmt.Errorf("function %q: command is required", name))
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (Function, bool) {
	if r == nil {
		return Function{}, false
	}
	function, ok := r.Functions[name]
	return function, ok
}

// Names returns the registered function names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.Functions))
	for name := range r.Functions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
