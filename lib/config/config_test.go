// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Listen != "localhost:9876" {
		t.Errorf("expected listen=localhost:9876, got %s", cfg.Server.Listen)
	}
	if cfg.Server.TickRate != 60 {
		t.Errorf("expected tick_rate=60, got %d", cfg.Server.TickRate)
	}
	if cfg.MeshGen.Mode != ModeMainSite {
		t.Errorf("expected mode=MAIN_SITE, got %s", cfg.MeshGen.Mode)
	}
	if cfg.MeshGen.DefaultTier != "Sketch" {
		t.Errorf("expected default_tier=Sketch, got %s", cfg.MeshGen.DefaultTier)
	}
	if cfg.MeshGen.DefaultMeshMode != "Raw" {
		t.Errorf("expected default_mesh_mode=Raw, got %s", cfg.MeshGen.DefaultMeshMode)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_RequiresConfigVar(t *testing.T) {
	// Save and restore ATELIER_BRIDGE_CONFIG.
	origConfig := os.Getenv("ATELIER_BRIDGE_CONFIG")
	defer os.Setenv("ATELIER_BRIDGE_CONFIG", origConfig)

	os.Unsetenv("ATELIER_BRIDGE_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when ATELIER_BRIDGE_CONFIG not set, got nil")
	}
	if !strings.Contains(err.Error(), "ATELIER_BRIDGE_CONFIG") {
		t.Errorf("error should name the variable, got %q", err.Error())
	}
}

func TestLoad_WithConfigVar(t *testing.T) {
	origConfig := os.Getenv("ATELIER_BRIDGE_CONFIG")
	defer os.Setenv("ATELIER_BRIDGE_CONFIG", origConfig)

	configPath := writeConfig(t, `
server:
  listen: 127.0.0.1:19876
`)
	os.Setenv("ATELIER_BRIDGE_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:19876" {
		t.Errorf("expected listen=127.0.0.1:19876, got %s", cfg.Server.Listen)
	}
}

func TestLoadFile(t *testing.T) {
	configPath := writeConfig(t, `
server:
  listen: localhost:7000
  tick_rate: 30

paths:
  root: /custom/root
  flags_file: /custom/root/flags.jsonc

capture:
  history_limit: 3

mesh_generation:
  mode: FAL_AI
  api_key_sealed: YWdlLWVuY3J5cHRlZA==
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Listen != "localhost:7000" {
		t.Errorf("expected listen=localhost:7000, got %s", cfg.Server.Listen)
	}
	if cfg.Server.TickRate != 30 {
		t.Errorf("expected tick_rate=30, got %d", cfg.Server.TickRate)
	}
	if cfg.Paths.Root != "/custom/root" {
		t.Errorf("expected root=/custom/root, got %s", cfg.Paths.Root)
	}
	if cfg.Capture.HistoryLimit != 3 {
		t.Errorf("expected history_limit=3, got %d", cfg.Capture.HistoryLimit)
	}
	if cfg.MeshGen.Mode != ModeFalAI {
		t.Errorf("expected mode=FAL_AI, got %s", cfg.MeshGen.Mode)
	}

	// Unset fields keep their defaults.
	if cfg.Server.QueueCapacity != 256 {
		t.Errorf("expected queue_capacity default 256, got %d", cfg.Server.QueueCapacity)
	}
	if cfg.Marketplace.BaseURL != "https://api.polyhaven.com" {
		t.Errorf("expected marketplace default base_url, got %s", cfg.Marketplace.BaseURL)
	}
}

func TestRootRelativePaths(t *testing.T) {
	configPath := writeConfig(t, `
paths:
  root: /srv/atelier
  captures: ${ATELIER_ROOT}/shots
  asset_cache: ${ATELIER_ROOT}/downloads
  flags_file: ${ATELIER_ROOT}/flags.jsonc
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Paths.Captures != "/srv/atelier/shots" {
		t.Errorf("expected captures=/srv/atelier/shots, got %s", cfg.Paths.Captures)
	}
	if cfg.Paths.AssetCache != "/srv/atelier/downloads" {
		t.Errorf("expected asset_cache=/srv/atelier/downloads, got %s", cfg.Paths.AssetCache)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/atelier",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/atelier",
		},
		{
			input:    "${MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "listen without port",
			modify: func(c *Config) {
				c.Server.Listen = "localhost"
			},
			wantErr: true,
		},
		{
			name: "listen port out of range",
			modify: func(c *Config) {
				c.Server.Listen = "localhost:99999"
			},
			wantErr: true,
		},
		{
			name: "zero tick rate",
			modify: func(c *Config) {
				c.Server.TickRate = 0
			},
			wantErr: true,
		},
		{
			name: "zero queue capacity",
			modify: func(c *Config) {
				c.Server.QueueCapacity = 0
			},
			wantErr: true,
		},
		{
			name: "empty root path",
			modify: func(c *Config) {
				c.Paths.Root = ""
			},
			wantErr: true,
		},
		{
			name: "zero history limit",
			modify: func(c *Config) {
				c.Capture.HistoryLimit = 0
			},
			wantErr: true,
		},
		{
			name: "bad marketplace URL scheme",
			modify: func(c *Config) {
				c.Marketplace.BaseURL = "ftp://api.polyhaven.com"
			},
			wantErr: true,
		},
		{
			name: "bad timeout",
			modify: func(c *Config) {
				c.Marketplace.RequestTimeout = "two minutes"
			},
			wantErr: true,
		},
		{
			name: "unknown meshgen mode",
			modify: func(c *Config) {
				c.MeshGen.Mode = "SIDE_SITE"
			},
			wantErr: true,
		},
		{
			name: "both key forms set",
			modify: func(c *Config) {
				c.MeshGen.APIKey = "plain"
				c.MeshGen.APIKeySealed = "c2VhbGVk"
			},
			wantErr: true,
		},
		{
			name: "meshgen base_url override allowed empty",
			modify: func(c *Config) {
				c.MeshGen.BaseURL = ""
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Listen = "nonsense"
	cfg.Capture.HistoryLimit = 0
	cfg.MeshGen.Mode = "wrong"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, fragment := range []string{"server.listen", "capture.history_limit", "mesh_generation.mode"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("joined error missing %q: %v", fragment, err)
		}
	}
}

func TestTimeoutsAndTickInterval(t *testing.T) {
	cfg := Default()
	if got := cfg.MarketplaceTimeout(); got != 2*time.Minute {
		t.Errorf("MarketplaceTimeout = %v", got)
	}
	if got := cfg.MeshGenTimeout(); got != time.Minute {
		t.Errorf("MeshGenTimeout = %v", got)
	}
	if got := cfg.TickInterval(); got != time.Second/60 {
		t.Errorf("TickInterval = %v", got)
	}

	cfg.Server.TickRate = 4
	if got := cfg.TickInterval(); got != 250*time.Millisecond {
		t.Errorf("TickInterval at 4 Hz = %v", got)
	}
}

func TestEnsurePaths(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Default()
	cfg.Paths.Root = filepath.Join(tmpDir, "atelier")
	cfg.Paths.Captures = filepath.Join(cfg.Paths.Root, "captures")
	cfg.Paths.AssetCache = filepath.Join(cfg.Paths.Root, "assets")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}

	for _, path := range []string{cfg.Paths.Root, cfg.Paths.Captures, cfg.Paths.AssetCache} {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("path %s not created: %v", path, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("path %s is not a directory", path)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}
