// ABOUTME: Configuration loading and parsing for cdp-relay.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete cdp-relay configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Relay     RelayConfig     `yaml:"relay"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds listen address configuration.
type ServerConfig struct {
	// HTTPAddr carries both WebSocket endpoints and the health endpoints.
	// Defaults to loopback: the relay trusts anything that can reach it.
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration. When enabled, the
// relay listens on the tailnet instead of a local TCP address so a remote
// machine's browser can be driven without exposing a debugging port.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// RelayConfig holds the relay endpoint paths and shutdown timing.
type RelayConfig struct {
	ControllerPath string `yaml:"controller_path"`
	AgentPath      string `yaml:"agent_path"`

	ShutdownTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no config file exists. All
// fields are serve-ready: loopback listen address and the standard
// controller/agent endpoint paths.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: "127.0.0.1:9223",
		},
		Relay: RelayConfig{
			ControllerPath:  "/cdp",
			AgentPath:       "/extension",
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// duration strings are parsed into time.Duration values. Fields absent from
// the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	// A listen address is required unless Tailscale carries the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if !strings.HasPrefix(c.Relay.ControllerPath, "/") {
		return fmt.Errorf("relay.controller_path must start with /")
	}
	if !strings.HasPrefix(c.Relay.AgentPath, "/") {
		return fmt.Errorf("relay.agent_path must start with /")
	}
	if c.Relay.ControllerPath == c.Relay.AgentPath {
		return fmt.Errorf("relay.controller_path and relay.agent_path must differ")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	if cfg.Relay.ShutdownTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Relay.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Relay.ShutdownTimeoutRaw, err)
		}
		cfg.Relay.ShutdownTimeout = d
	}

	return nil
}
