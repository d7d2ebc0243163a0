// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/exchange/lib/shm"
	"github.com/bureau-foundation/exchange/lib/worker"
)

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "BUREAU_EXCHANGE_CONFIG"

// DefaultSocketPath is the admin socket path before variable expansion.
// The runtime directory is per-user, so an unprivileged gateway can
// create the socket there.
const DefaultSocketPath = "${XDG_RUNTIME_DIR:-/tmp}/bureau-exchange.sock"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the exchange configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Segment SegmentConfig `yaml:"segment"`
	Gateway GatewayConfig `yaml:"gateway"`
	Worker  WorkerConfig  `yaml:"worker"`
	Admin   AdminConfig   `yaml:"admin"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains the fields an environment section may
// override. Pointer fields distinguish "unset" from the zero value.
type ConfigOverrides struct {
	Segment *SegmentConfig    `yaml:"segment,omitempty"`
	Gateway *GatewayOverrides `yaml:"gateway,omitempty"`
	Worker  *WorkerOverrides  `yaml:"worker,omitempty"`
	Admin   *AdminConfig      `yaml:"admin,omitempty"`
}

// GatewayOverrides mirrors GatewayConfig for environment sections.
type GatewayOverrides struct {
	Listen             string   `yaml:"listen,omitempty"`
	Path               string   `yaml:"path,omitempty"`
	MaxFrameBytes      int64    `yaml:"max_frame_bytes,omitempty"`
	WriteTimeout       Duration `yaml:"write_timeout,omitempty"`
	CancelOnDisconnect *bool    `yaml:"cancel_on_disconnect,omitempty"`
}

// WorkerOverrides mirrors WorkerConfig for environment sections.
type WorkerOverrides struct {
	Timeout         *Duration `yaml:"timeout,omitempty"`
	OutputMode      string    `yaml:"output_mode,omitempty"`
	MaxOutputBytes  int64     `yaml:"max_output_bytes,omitempty"`
	Registry        string    `yaml:"registry,omitempty"`
	RequireRegistry *bool     `yaml:"require_registry,omitempty"`
}

// SegmentConfig names the shared-memory segment.
type SegmentConfig struct {
	// Name is the POSIX shared-memory name, "/" followed by a name
	// without slashes.
	Name string `yaml:"name"`

	// Directory overrides where the backing object lives. Empty means
	// /dev/shm.
	Directory string `yaml:"directory"`

	// LockTimeout bounds every wait for the segment lock.
	LockTimeout Duration `yaml:"lock_timeout"`
}

// GatewayConfig configures the WebSocket endpoint.
type GatewayConfig struct {
	Listen        string   `yaml:"listen"`
	Path          string   `yaml:"path"`
	MaxFrameBytes int64    `yaml:"max_frame_bytes"`
	WriteTimeout  Duration `yaml:"write_timeout"`

	// CancelOnDisconnect kills a running worker when its caller's
	// connection closes.
	CancelOnDisconnect bool `yaml:"cancel_on_disconnect"`
}

// WorkerConfig configures worker invocation.
type WorkerConfig struct {
	// Timeout bounds one invocation. Zero disables the bound.
	Timeout Duration `yaml:"timeout"`

	// OutputMode names a [worker.OutputMode]: json, text, or auto.
	OutputMode string `yaml:"output_mode"`

	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// Registry is the path to a JSONC function registry.
	Registry string `yaml:"registry"`

	// RequireRegistry rejects calls to functions the registry does not
	// list, or that name a different command or location.
	RequireRegistry bool `yaml:"require_registry"`
}

// AdminConfig configures the CBOR admin socket.
type AdminConfig struct {
	// SocketPath is the Unix socket path. Empty disables the socket.
	SocketPath string `yaml:"socket_path"`
}

// Duration is a time.Duration written in YAML as a Go duration string
// ("5s", "250ms").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML accepts a duration string. A bare number other than 0
// is rejected because its unit would be ambiguous.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string such as \"5s\"", node.Line)
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes d as a duration string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns the default configuration. Fields absent from a
// loaded file keep these values.
func Default() *Config {
	return &Config{
		Environment: Development,
		Segment: SegmentConfig{
			Name:        "/bureau-exchange",
			LockTimeout: Duration(shm.DefaultLockTimeout),
		},
		Gateway: GatewayConfig{
			Listen:             "127.0.0.1:8080",
			Path:               "/",
			MaxFrameBytes:      64 << 10,
			WriteTimeout:       Duration(10 * time.Second),
			CancelOnDisconnect: true,
		},
		Worker: WorkerConfig{
			Timeout:        Duration(worker.DefaultTimeout),
			OutputMode:     string(worker.OutputJSON),
			MaxOutputBytes: worker.DefaultMaxOutputBytes,
		},
		Admin: AdminConfig{
			SocketPath: expandVars(DefaultSocketPath, nil),
		},
	}
}

// Load loads configuration from the file named by
// BUREAU_EXCHANGE_CONFIG. It fails when the variable is unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your exchange.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over the defaults, applies
// the matching environment section, and expands variables in path
// fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production never runs arbitrary commands unless told to.
		if overrides == nil {
			overrides = &ConfigOverrides{}
		}
		if overrides.Worker == nil {
			overrides.Worker = &WorkerOverrides{}
		}
		if overrides.Worker.RequireRegistry == nil {
			required := true
			overrides.Worker.RequireRegistry = &required
		}
	}
	if overrides == nil {
		return
	}

	if segment := overrides.Segment; segment != nil {
		if segment.Name != "" {
			c.Segment.Name = segment.Name
		}
		if segment.Directory != "" {
			c.Segment.Directory = segment.Directory
		}
		if segment.LockTimeout != 0 {
			c.Segment.LockTimeout = segment.LockTimeout
		}
	}

	if gateway := overrides.Gateway; gateway != nil {
		if gateway.Listen != "" {
			c.Gateway.Listen = gateway.Listen
		}
		if gateway.Path != "" {
			c.Gateway.Path = gateway.Path
		}
		if gateway.MaxFrameBytes != 0 {
			c.Gateway.MaxFrameBytes = gateway.MaxFrameBytes
		}
		if gateway.WriteTimeout != 0 {
			c.Gateway.WriteTimeout = gateway.WriteTimeout
		}
		if gateway.CancelOnDisconnect != nil {
			c.Gateway.CancelOnDisconnect = *gateway.CancelOnDisconnect
		}
	}

	if worker := overrides.Worker; worker != nil {
		if worker.Timeout != nil {
			c.Worker.Timeout = *worker.Timeout
		}
		if worker.OutputMode != "" {
			c.Worker.OutputMode = worker.OutputMode
		}
		if worker.MaxOutputBytes != 0 {
			c.Worker.MaxOutputBytes = worker.MaxOutputBytes
		}
		if worker.Registry != "" {
			c.Worker.Registry = worker.Registry
		}
		if worker.RequireRegistry != nil {
			c.Worker.RequireRegistry = *worker.RequireRegistry
		}
	}

	if admin := overrides.Admin; admin != nil && admin.SocketPath != "" {
		c.Admin.SocketPath = admin.SocketPath
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Segment.Directory = expandVars(c.Segment.Directory, vars)
	c.Worker.Registry = expandVars(c.Worker.Registry, vars)
	c.Admin.SocketPath = expandVars(c.Admin.SocketPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, consulting vars
// before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	name := c.Segment.Name
	if !strings.HasPrefix(name, "/") || len(name) < 2 || strings.Contains(name[1:], "/") {
		errs = append(errs, fmt.Errorf("segment.name %q must be '/' followed by a name without slashes", name))
	}
	if c.Segment.LockTimeout < 0 {
		errs = append(errs, errors.New("segment.lock_timeout must not be negative"))
	}

	if c.Gateway.Listen == "" {
		errs = append(errs, errors.New("gateway.listen is required"))
	}
	if !strings.HasPrefix(c.Gateway.Path, "/") {
		errs = append(errs, fmt.Errorf("gateway.path %q must start with '/'", c.Gateway.Path))
	}
	if c.Gateway.MaxFrameBytes <= 0 {
		errs = append(errs, errors.New("gateway.max_frame_bytes must be positive"))
	}
	if c.Gateway.WriteTimeout < 0 {
		errs = append(errs, errors.New("gateway.write_timeout must not be negative"))
	}

	if c.Worker.Timeout < 0 {
		errs = append(errs, errors.New("worker.timeout must not be negative"))
	}
	if _, err := worker.ParseOutputMode(c.Worker.OutputMode); err != nil {
		errs = append(errs, fmt.Errorf("worker.output_mode: %w", err))
	}
	if c.Worker.MaxOutputBytes <= 0 {
		errs = append(errs, errors.New("worker.max_output_bytes must be positive"))
	}
	if c.Worker.RequireRegistry && c.Worker.Registry == "" {
		errs = append(errs, errors.New("worker.require_registry is set but worker.registry is empty"))
	}

	return errors.Join(errs...)
}
