package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"metricbridge/pkg/platform"

	"github.com/tidwall/jsonc"
)

const (
	envConfigPath = "METRICBRIDGE_CONFIG"
	envOSVersion  = "METRICBRIDGE_OS_VERSION"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Platform PlatformConfig `json:"platform"`
	Bridge   BridgeConfig   `json:"bridge"`
	Replay   ReplayConfig   `json:"replay"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// PlatformConfig describes the host the bridge reports for.
type PlatformConfig struct {
	OSVersion string `json:"os_version"`
}

// BridgeConfig holds bridge behavior toggles.
type BridgeConfig struct {
	AutoStart bool `json:"auto_start"`
}

// ReplayConfig points the fixture-backed metrics subsystem at its reports.
type ReplayConfig struct {
	Dir             string `json:"dir"`
	IntervalSeconds int    `json:"interval_seconds"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	HTTP  HTTPChannelConfig  `json:"http"`
	Stdio StdioChannelConfig `json:"stdio"`
}

// HTTPChannelConfig configures the HTTP method/event transport.
type HTTPChannelConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// StdioChannelConfig configures the JSON-lines transport on stdin/stdout.
type StdioChannelConfig struct {
	Enabled bool `json:"enabled"`
}

// GatewayConfig configures the health server bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoadConfig resolves config.json and loads it.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadConfigFrom(configPath)
}

// LoadConfigFrom reads, unmarshals and validates the config at path. The
// file may contain comments and trailing commas.
func LoadConfigFrom(configPath string) (*Config, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(content), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the runtime cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}

	if _, err := c.OSVersion(); err != nil {
		return fmt.Errorf("platform.os_version: %w", err)
	}

	if c.Replay.IntervalSeconds < 0 {
		return errors.New("replay.interval_seconds must not be negative")
	}

	if !c.Channels.HTTP.Enabled && !c.Channels.Stdio.Enabled {
		return errors.New("no channels are enabled")
	}

	if c.Channels.HTTP.Port < 0 || c.Gateway.Port < 0 {
		return errors.New("ports must not be negative")
	}

	return nil
}

// OSVersion parses platform.os_version.
func (c *Config) OSVersion() (platform.Version, error) {
	return platform.ParseVersion(c.Platform.OSVersion)
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if version := strings.TrimSpace(os.Getenv(envOSVersion)); version != "" {
		cfg.Platform.OSVersion = version
	}
}

// findConfigPath resolves the active config file location.
//
// Precedence is METRICBRIDGE_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
