// ABOUTME: Tests for configuration loading and validation.
// ABOUTME: Covers YAML parsing, env var expansion, duration parsing, and validation failures.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1:9223", cfg.Server.HTTPAddr)
	assert.Equal(t, "/cdp", cfg.Relay.ControllerPath)
	assert.Equal(t, "/extension", cfg.Relay.AgentPath)
	assert.Equal(t, 5*time.Second, cfg.Relay.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.False(t, cfg.Tailscale.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:9500"
relay:
  controller_path: "/devtools"
  agent_path: "/browser"
  shutdown_timeout: "30s"
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9500", cfg.Server.HTTPAddr)
	assert.Equal(t, "/devtools", cfg.Relay.ControllerPath)
	assert.Equal(t, "/browser", cfg.Relay.AgentPath)
	assert.Equal(t, 30*time.Second, cfg.Relay.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9223", cfg.Server.HTTPAddr)
	assert.Equal(t, "/cdp", cfg.Relay.ControllerPath)
	assert.Equal(t, 5*time.Second, cfg.Relay.ShutdownTimeout)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("RELAY_TEST_ADDR", "127.0.0.1:7777")
	t.Setenv("RELAY_TEST_AUTHKEY", "tskey-test-12345")

	path := writeConfig(t, `
server:
  http_addr: "${RELAY_TEST_ADDR}"
tailscale:
  auth_key: "${RELAY_TEST_AUTHKEY}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", cfg.Server.HTTPAddr)
	assert.Equal(t, "tskey-test-12345", cfg.Tailscale.AuthKey)
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
tailscale:
  auth_key: "${RELAY_TEST_UNSET_VAR}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Tailscale.AuthKey)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
relay:
  shutdown_timeout: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown_timeout")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: valid")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing listen address",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr",
		},
		{
			name: "tailscale carries the listener",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = ""
				c.Tailscale.Enabled = true
				c.Tailscale.Hostname = "cdp-relay"
			},
		},
		{
			name:    "tailscale without hostname",
			mutate:  func(c *Config) { c.Tailscale.Enabled = true },
			wantErr: "tailscale.hostname",
		},
		{
			name:    "controller path missing slash",
			mutate:  func(c *Config) { c.Relay.ControllerPath = "cdp" },
			wantErr: "controller_path",
		},
		{
			name:    "agent path missing slash",
			mutate:  func(c *Config) { c.Relay.AgentPath = "extension" },
			wantErr: "agent_path",
		},
		{
			name: "identical paths",
			mutate: func(c *Config) {
				c.Relay.ControllerPath = "/ws"
				c.Relay.AgentPath = "/ws"
			},
			wantErr: "must differ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
