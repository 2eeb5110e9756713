// ABOUTME: Entry point for the cdp-relay server.
// ABOUTME: Bridges a remote-debugging controller to a browser extension agent.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/cdp-relay/internal/config"
	"github.com/2389/cdp-relay/internal/relay"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
          _                          _
   ___ __| |_ __        _ __ ___  | | __ _ _   _
  / __/ _' | '_ \ _____| '__/ _ \ | |/ _' | | | |
 | (_| (_| | |_) |_____| | |  __/ | | (_| | |_| |
  \___\__,_| .__/      |_|  \___| |_|\__,_|\__, |
           |_|                             |___/
`

// getConfigPath returns the path to the relay config file.
// Priority: CDP_RELAY_CONFIG env var > XDG_CONFIG_HOME/cdp-relay/relay.yaml
// > ~/.config/cdp-relay/relay.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CDP_RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "cdp-relay", "relay.yaml")
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist. An explicitly configured path must exist.
func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, configPath, nil
	}
	if errors.Is(err, os.ErrNotExist) && os.Getenv("CDP_RELAY_CONFIG") == "" {
		return config.Default(), "(defaults)", nil
	}
	return nil, "", fmt.Errorf("loading config: %w", err)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: cdp-relay <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve      Start the relay server")
		fmt.Println("  health     Check relay health")
		fmt.Println("  version    Print the build version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale:  ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("Listen:     %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Controller: %s\n", cfg.Relay.ControllerPath)
	green.Print("    ▶ ")
	fmt.Printf("Agent:      %s\n", cfg.Relay.AgentPath)
	fmt.Println()

	logger.Info("starting cdp-relay",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	r := relay.New(cfg, version, logger)
	return r.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d (%s)", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&colorHandler{level: level})
}
