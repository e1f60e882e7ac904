// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the bridge daemon.
//
// Configuration is loaded from a single YAML file specified by:
//   - ATELIER_BRIDGE_CONFIG environment variable, or
//   - --config flag passed to the daemon
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// Environment variables never override file values; the only expansion
// performed is ${HOME}-style path substitution for portability.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Mesh generation provider modes.
const (
	ModeMainSite = "MAIN_SITE"
	ModeFalAI    = "FAL_AI"
)

// Config is the master configuration for the bridge daemon.
type Config struct {
	// Server configures the TCP listener and the tick loop.
	Server ServerConfig `yaml:"server"`

	// Paths configures file and directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Capture configures viewport captures.
	Capture CaptureConfig `yaml:"capture"`

	// Cache configures the downloaded-asset cache.
	Cache CacheConfig `yaml:"cache"`

	// Marketplace configures the PolyHaven client.
	Marketplace MarketplaceConfig `yaml:"marketplace"`

	// MeshGen configures the Hyper3D Rodin client.
	MeshGen MeshGenConfig `yaml:"mesh_generation"`
}

// ServerConfig configures the TCP listener and scheduler.
type ServerConfig struct {
	// Listen is the host:port the bridge binds.
	// Default: localhost:9876
	Listen string `yaml:"listen"`

	// TickRate is how many times per second the host drains one
	// queued command. Default: 60
	TickRate int `yaml:"tick_rate"`

	// QueueCapacity bounds the pending-command queue. Connections
	// block on a full queue. Default: 256
	QueueCapacity int `yaml:"queue_capacity"`
}

// PathsConfig configures file and directory locations.
type PathsConfig struct {
	// Root is the base directory for bridge data.
	Root string `yaml:"root"`

	// Captures is where viewport captures are written.
	Captures string `yaml:"captures"`

	// AssetCache is where downloaded asset payloads are stored.
	AssetCache string `yaml:"asset_cache"`

	// FlagsFile is the JSONC feature-flag file. It is watched while
	// the daemon runs; editing it toggles command sets live.
	FlagsFile string `yaml:"flags_file"`

	// IdentityFile is the age identity used to unseal API keys.
	// Created by atelier-bridge-seal --generate-identity.
	IdentityFile string `yaml:"identity_file"`
}

// CaptureConfig configures viewport captures.
type CaptureConfig struct {
	// HistoryLimit is how many captures are kept before the oldest is
	// deleted. Minimum 1. Default: 10
	HistoryLimit int `yaml:"history_limit"`

	// MaxSize caps the longest image dimension in pixels when a
	// capture command does not specify one. Default: 800
	MaxSize int `yaml:"max_size"`
}

// CacheConfig configures the downloaded-asset cache.
type CacheConfig struct {
	// MaxBytes is the byte budget for cached payloads; least-recently
	// used entries are evicted past it. Default: 2 GiB
	MaxBytes int64 `yaml:"max_bytes"`
}

// MarketplaceConfig configures the PolyHaven client.
type MarketplaceConfig struct {
	// BaseURL is the API endpoint. Override it in tests.
	// Default: https://api.polyhaven.com
	BaseURL string `yaml:"base_url"`

	// RequestTimeout is the per-request timeout as a Go duration
	// string. Asset downloads stream and can be large. Default: 2m
	RequestTimeout string `yaml:"request_timeout"`
}

// MeshGenConfig configures the Hyper3D Rodin client.
type MeshGenConfig struct {
	// Mode selects the provider: MAIN_SITE (hyper3d.ai) or FAL_AI
	// (fal.ai). Default: MAIN_SITE
	Mode string `yaml:"mode"`

	// BaseURL overrides the provider endpoint, mainly for tests.
	// Empty means the mode's published endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKeySealed is the API key as base64 age ciphertext, produced
	// by atelier-bridge-seal. Decrypted with Paths.IdentityFile at
	// startup.
	APIKeySealed string `yaml:"api_key_sealed"`

	// APIKey is the API key in plaintext. Development convenience
	// only; mutually exclusive with APIKeySealed.
	APIKey string `yaml:"api_key"`

	// DefaultTier is used when create_rodin_job omits a tier.
	// Default: Sketch
	DefaultTier string `yaml:"default_tier"`

	// DefaultMeshMode is used when create_rodin_job omits a mesh
	// mode. Default: Raw
	DefaultMeshMode string `yaml:"default_mesh_mode"`

	// RequestTimeout is the per-request timeout as a Go duration
	// string. Generation jobs are polled, not awaited, so this only
	// covers a single HTTP round trip. Default: 1m
	RequestTimeout string `yaml:"request_timeout"`
}

// Default returns the default configuration. These defaults make a
// bare `atelier-bridge --config` with an empty file serve on
// localhost:9876 with every gated feature off.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "atelier-bridge")

	return &Config{
		Server: ServerConfig{
			Listen:        "localhost:9876",
			TickRate:      60,
			QueueCapacity: 256,
		},
		Paths: PathsConfig{
			Root:         defaultRoot,
			Captures:     filepath.Join(defaultRoot, "captures"),
			AssetCache:   filepath.Join(defaultRoot, "assets"),
			FlagsFile:    filepath.Join(defaultRoot, "flags.jsonc"),
			IdentityFile: filepath.Join(defaultRoot, "identity.age"),
		},
		Capture: CaptureConfig{
			HistoryLimit: 10,
			MaxSize:      800,
		},
		Cache: CacheConfig{
			MaxBytes: 2 << 30,
		},
		Marketplace: MarketplaceConfig{
			BaseURL:        "https://api.polyhaven.com",
			RequestTimeout: "2m",
		},
		MeshGen: MeshGenConfig{
			Mode:            ModeMainSite,
			DefaultTier:     "Sketch",
			DefaultMeshMode: "Raw",
			RequestTimeout:  "1m",
		},
	}
}

// Load loads configuration from the ATELIER_BRIDGE_CONFIG environment
// variable. There are no fallback locations: if the variable is not
// set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("ATELIER_BRIDGE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("ATELIER_BRIDGE_CONFIG environment variable not set; " +
			"set it to the path of your bridge.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging the
// file over Default() and expanding ${VAR} patterns in paths.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields. ATELIER_ROOT refers to the configured root, so subpaths can
// be written relative to it.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"ATELIER_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["ATELIER_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Captures = expandVars(c.Paths.Captures, vars)
	c.Paths.AssetCache = expandVars(c.Paths.AssetCache, vars)
	c.Paths.FlagsFile = expandVars(c.Paths.FlagsFile, vars)
	c.Paths.IdentityFile = expandVars(c.Paths.IdentityFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors, collecting every
// problem rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []error

	host, port, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, fmt.Errorf("server.listen %q is not host:port: %w", c.Server.Listen, err))
	} else {
		if host == "" {
			errs = append(errs, fmt.Errorf("server.listen %q has no host; use localhost to stay loopback-only", c.Server.Listen))
		}
		if portNumber, err := strconv.Atoi(port); err != nil || portNumber < 1 || portNumber > 65535 {
			errs = append(errs, fmt.Errorf("server.listen port %q is not in 1-65535", port))
		}
	}

	if c.Server.TickRate < 1 || c.Server.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("server.tick_rate must be 1-1000, got %d", c.Server.TickRate))
	}
	if c.Server.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("server.queue_capacity must be at least 1, got %d", c.Server.QueueCapacity))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Captures == "" {
		errs = append(errs, fmt.Errorf("paths.captures is required"))
	}
	if c.Paths.AssetCache == "" {
		errs = append(errs, fmt.Errorf("paths.asset_cache is required"))
	}
	if c.Paths.FlagsFile == "" {
		errs = append(errs, fmt.Errorf("paths.flags_file is required"))
	}

	if c.Capture.HistoryLimit < 1 {
		errs = append(errs, fmt.Errorf("capture.history_limit must be at least 1, got %d", c.Capture.HistoryLimit))
	}
	if c.Capture.MaxSize < 16 || c.Capture.MaxSize > 8192 {
		errs = append(errs, fmt.Errorf("capture.max_size must be 16-8192, got %d", c.Capture.MaxSize))
	}

	if c.Cache.MaxBytes < 1 {
		errs = append(errs, fmt.Errorf("cache.max_bytes must be positive, got %d", c.Cache.MaxBytes))
	}

	if err := validateURL("marketplace.base_url", c.Marketplace.BaseURL, false); err != nil {
		errs = append(errs, err)
	}
	if err := validateTimeout("marketplace.request_timeout", c.Marketplace.RequestTimeout); err != nil {
		errs = append(errs, err)
	}

	if c.MeshGen.Mode != ModeMainSite && c.MeshGen.Mode != ModeFalAI {
		errs = append(errs, fmt.Errorf("mesh_generation.mode must be %s or %s, got %q", ModeMainSite, ModeFalAI, c.MeshGen.Mode))
	}
	if err := validateURL("mesh_generation.base_url", c.MeshGen.BaseURL, true); err != nil {
		errs = append(errs, err)
	}
	if err := validateTimeout("mesh_generation.request_timeout", c.MeshGen.RequestTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.MeshGen.APIKey != "" && c.MeshGen.APIKeySealed != "" {
		errs = append(errs, fmt.Errorf("mesh_generation: api_key and api_key_sealed are mutually exclusive"))
	}
	if c.MeshGen.DefaultTier == "" {
		errs = append(errs, fmt.Errorf("mesh_generation.default_tier is required"))
	}
	if c.MeshGen.DefaultMeshMode == "" {
		errs = append(errs, fmt.Errorf("mesh_generation.default_mesh_mode is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateURL(field, value string, allowEmpty bool) error {
	if value == "" {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("%s is required", field)
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be http or https, got %q", field, value)
	}
	return nil
}

func validateTimeout(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// MarketplaceTimeout returns the parsed marketplace request timeout.
// Validate rejects unparseable values; the fallback covers a Config
// assembled by hand without defaults.
func (c *Config) MarketplaceTimeout() time.Duration {
	return parseTimeout(c.Marketplace.RequestTimeout, 2*time.Minute)
}

// MeshGenTimeout returns the parsed mesh-generation request timeout.
func (c *Config) MeshGenTimeout() time.Duration {
	return parseTimeout(c.MeshGen.RequestTimeout, time.Minute)
}

// TickInterval returns the tick period derived from the tick rate.
func (c *Config) TickInterval() time.Duration {
	rate := c.Server.TickRate
	if rate < 1 {
		rate = 60
	}
	return time.Second / time.Duration(rate)
}

func parseTimeout(value string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Captures,
		c.Paths.AssetCache,
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
