// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// DefaultTimeout bounds an invocation under DefaultOptions.
	DefaultTimeout = 30 * time.Second

	DefaultMaxOutputBytes = 1 << 20

	// stderrTail is how much of a worker's stderr is kept for logs.
	stderrTail = 4096

	// waitDelay bounds how long Wait waits for output pipes after the
	// worker exits or is killed. A grandchild that escaped the process
	// group could otherwise hold them open forever.
	waitDelay = 2 * time.Second
)

// Options configures an Invoker.
type Options struct {
	// Timeout bounds one invocation. Zero disables the bound.
	Timeout time.Duration

	OutputMode OutputMode

	// MaxOutputBytes caps captured stdout. Output beyond it is a
	// DecodeError.
	MaxOutputBytes int64

	// Registry resolves function names. May be nil.
	Registry *Registry

	// RequireRegistry rejects calls whose function the registry does
	// not list, or whose explicit command or location differ from the
	// registered ones.
	RequireRegistry bool
}

// DefaultOptions returns strict JSON output with the default bounds.
func DefaultOptions() Options {
	return Options{
		Timeout:        DefaultTimeout,
		OutputMode:     OutputJSON,
		MaxOutputBytes: DefaultMaxOutputBytes,
	}
}

// Request is one worker invocation.
type Request struct {
	Function string
	Command  string
	Location string

	// Args is passed to the worker as its final argument, compacted.
	// Empty means JSON null.
	Args json.RawMessage
}

// Result is a completed invocation.
type Result struct {
	// Value is the decoded stdout as a JSON value.
	Value json.RawMessage

	Command  string
	Location string

	// ExitCode is the worker's exit status. A non-zero status does not
	// fail the invocation; the worker's stdout is still the result.
	ExitCode int

	// Stderr holds the last few KiB the worker wrote to stderr.
	Stderr string

	Duration time.Duration
}

// Invoker runs workers.
type Invoker struct {
	options Options
	logger  *slog.Logger
}

// NewInvoker creates an Invoker. Zero MaxOutputBytes and an empty
// OutputMode take their defaults.
func NewInvoker(options Options, logger *slog.Logger) *Invoker {
	if options.MaxOutputBytes <= 0 {
		options.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if options.OutputMode == "" {
		options.OutputMode = OutputJSON
	}
	return &Invoker{options: options, logger: logger}
}

// Invoke runs the worker for request and waits for it. Cancelling ctx
// kills the worker's whole process group and returns ctx's error.
func (i *Invoker) Invoke(ctx context.Context, request Request) (*Result, error) {
	command, location, err := i.resolve(request)
	if err != nil {
		return nil, err
	}

	args, err := compactArgs(request.Args)
	if err != nil {
		return nil, &SpawnError{Command: command, Reason: "args are not valid JSON", Err: err}
	}

	runContext := ctx
	if i.options.Timeout > 0 {
		var cancel context.CancelFunc
		runContext, cancel = context.WithTimeout(ctx, i.options.Timeout)
		defer cancel()
	}

	stdout := &cappedBuffer{limit: i.options.MaxOutputBytes}
	stderr := &tailBuffer{limit: stderrTail}

	cmd := exec.CommandContext(runContext, command, location, string(args))
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	// Own process group, so killing the worker also kills anything it
	// started that still holds our pipes.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		// Start refuses an already-done context with that context's
		// error; report it as cancellation, not a spawn failure.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("worker %q: %w", command, ctx.Err())
		}
		if runContext.Err() != nil {
			return nil, &TimeoutError{Command: command, Timeout: i.options.Timeout}
		}
		return nil, &SpawnError{Command: command, Err: err}
	}
	runErr := cmd.Wait()
	elapsed := time.Since(start)

	result := &Result{
		Command:  command,
		Location: location,
		ExitCode: cmd.ProcessState.ExitCode(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}

	switch {
	case ctx.Err() != nil:
		i.logger.Debug("worker cancelled",
			"command", command,
			"location", location,
			"duration", elapsed,
		)
		return nil, fmt.Errorf("worker %q: %w", command, ctx.Err())
	case runContext.Err() != nil:
		i.logger.Warn("worker timed out",
			"command", command,
			"location", location,
			"timeout", i.options.Timeout,
			"stderr", result.Stderr,
		)
		return nil, &TimeoutError{Command: command, Timeout: i.options.Timeout}
	case runErr != nil && !isExitError(runErr):
		// The process ran but Wait failed for another reason, such
		// as the pipes outliving waitDelay.
		return nil, &SpawnError{Command: command, Reason: "waiting for worker", Err: runErr}
	}

	if result.ExitCode != 0 {
		i.logger.Warn("worker exited non-zero",
			"command", command,
			"location", location,
			"exit_code", result.ExitCode,
			"stderr", result.Stderr,
		)
	}

	if stdout.truncated {
		return nil, &DecodeError{
			Mode:    i.options.OutputMode,
			Reason:  fmt.Sprintf("output exceeds %d bytes", i.options.MaxOutputBytes),
			Excerpt: excerpt(stdout.buffer.Bytes()),
		}
	}

	value, err := decodeOutput(i.options.OutputMode, stdout.buffer.Bytes())
	if err != nil {
		return nil, err
	}
	result.Value = value

	i.logger.Debug("worker finished",
		"command", command,
		"location", location,
		"exit_code", result.ExitCode,
		"duration", elapsed,
		"output_bytes", stdout.buffer.Len(),
	)
	return result, nil
}

// resolve fills command and location from the registry and enforces
// RequireRegistry.
func (i *Invoker) resolve(request Request) (command, location string, err error) {
	command, location = request.Command, request.Location
	registered, found := i.options.Registry.Lookup(request.Function)

	if i.options.RequireRegistry {
		if !found {
			return "", "", &SpawnError{Command: command, Reason: fmt.Sprintf("function %q is not registered", request.Function)}
		}
		if command != "" && command != registered.Command {
			return "", "", &SpawnError{Command: command,
				Reason: fmt.Sprintf("function %q is registered with command %q", request.Function, registered.Command)}
		}
		if location != "" && location != registered.Location {
			return "", "", &SpawnError{Command: command,
				Reason: fmt.Sprintf("function %q is registered with location %q", request.Function, registered.Location)}
		}
	}

	if found {
		if command == "" {
			command = registered.Command
		}
		if location == "" {
			location = registered.Location
		}
	}

	if command == "" {
		return "", "", &SpawnError{Reason: fmt.Sprintf("no command for function %q", request.Function)}
	}
	return command, location, nil
}

// compactArgs renders args as the single-line JSON argument a worker
// receives.
func compactArgs(args json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(args)) == 0 {
		return []byte("null"), nil
	}
	var buffer bytes.Buffer
	if err := json.Compact(&buffer, args); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func isExitError(err error) bool {
	var exitError *exec.ExitError
	return errors.As(err, &exitError)
}
