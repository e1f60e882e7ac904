// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/atelier-foundation/atelier-bridge/bridge"
	"github.com/atelier-foundation/atelier-bridge/command"
	"github.com/atelier-foundation/atelier-bridge/lib/assetcache"
	"github.com/atelier-foundation/atelier-bridge/lib/clock"
	"github.com/atelier-foundation/atelier-bridge/lib/config"
	"github.com/atelier-foundation/atelier-bridge/lib/flagfile"
	"github.com/atelier-foundation/atelier-bridge/lib/sealed"
	"github.com/atelier-foundation/atelier-bridge/lib/secret"
	"github.com/atelier-foundation/atelier-bridge/lib/tick"
	"github.com/atelier-foundation/atelier-bridge/lib/version"
	"github.com/atelier-foundation/atelier-bridge/marketplace"
	"github.com/atelier-foundation/atelier-bridge/meshgen"
	"github.com/atelier-foundation/atelier-bridge/nodegraph"
	"github.com/atelier-foundation/atelier-bridge/scene"
	"github.com/atelier-foundation/atelier-bridge/script"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath       string
		listenOverride   string
		identityOverride string
		verbose          bool
		showVersion      bool
	)

	flagSet := pflag.NewFlagSet("atelier-bridge", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to bridge.yaml (overrides ATELIER_BRIDGE_CONFIG)")
	flagSet.StringVar(&listenOverride, "listen", "", "listen address override (host:port)")
	flagSet.StringVar(&identityOverride, "identity", "", "age identity file override")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log per-connection events")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("atelier-bridge %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listenOverride != "" {
		cfg.Server.Listen = listenOverride
	}
	if identityOverride != "" {
		cfg.Paths.IdentityFile = identityOverride
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := scene.NewDefault()
	queue := tick.NewQueue(cfg.Server.QueueCapacity)
	registry := command.NewRegistry(logger)
	flags := command.NewFlagSet(marketplace.FlagName, meshgen.FlagName, nodegraph.FlagName)

	// The watcher applies the file's current contents before Run
	// starts, so the first command already sees the configured flags.
	watcher, err := flagfile.NewWatcher(cfg.Paths.FlagsFile, flags, logger)
	if err != nil {
		return fmt.Errorf("flag file: %w", err)
	}

	captures, err := scene.NewCaptureStore(cfg.Paths.Captures, cfg.Capture.HistoryLimit, clock.Real(), logger)
	if err != nil {
		return fmt.Errorf("capture store: %w", err)
	}

	cacheSecret, err := loadOrCreateCacheSecret(filepath.Join(cfg.Paths.Root, "cache.key"))
	if err != nil {
		return fmt.Errorf("cache key: %w", err)
	}
	cache, err := assetcache.Open(assetcache.Config{
		Directory: cfg.Paths.AssetCache,
		MaxBytes:  cfg.Cache.MaxBytes,
		Secret:    cacheSecret,
		Logger:    logger,
	})
	cacheSecret.Close()
	if err != nil {
		return fmt.Errorf("asset cache: %w", err)
	}
	defer cache.Close()

	meshKey, err := resolveMeshGenKey(cfg, logger)
	if err != nil {
		return err
	}
	meshClient, err := meshgen.NewClient(meshgen.ClientConfig{
		Mode:            cfg.MeshGen.Mode,
		BaseURL:         cfg.MeshGen.BaseURL,
		APIKey:          meshKey,
		DefaultTier:     cfg.MeshGen.DefaultTier,
		DefaultMeshMode: cfg.MeshGen.DefaultMeshMode,
		HTTPClient:      &http.Client{Timeout: cfg.MeshGenTimeout()},
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("mesh generation client: %w", err)
	}
	defer meshClient.Close()

	marketClient := marketplace.NewClient(marketplace.ClientConfig{
		BaseURL:    cfg.Marketplace.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.MarketplaceTimeout()},
		Logger:     logger,
	})

	scene.RegisterCommands(registry, engine, captures, cfg.Capture.MaxSize)
	script.RegisterCommands(registry, script.NewRunner(engine, 0, logger))
	marketplace.RegisterCommands(registry, marketplace.CommandConfig{
		Client:    marketClient,
		Cache:     cache,
		Engine:    engine,
		Flags:     flags,
		FlagsPath: cfg.Paths.FlagsFile,
		Logger:    logger,
	})
	meshgen.RegisterCommands(registry, meshgen.CommandConfig{
		Client:    meshClient,
		Cache:     cache,
		Engine:    engine,
		Flags:     flags,
		FlagsPath: cfg.Paths.FlagsFile,
		Logger:    logger,
	})
	nodegraph.RegisterCommands(registry, nodegraph.CommandConfig{
		Engine:    engine,
		Flags:     flags,
		FlagsPath: cfg.Paths.FlagsFile,
		Logger:    logger,
	})

	server, err := bridge.New(bridge.Config{
		ListenAddress: cfg.Server.Listen,
		Queue:         queue,
		Registry:      registry,
		Flags:         flags,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("atelier bridge running",
		"version", version.Short(),
		"listen", cfg.Server.Listen,
		"tick_rate", cfg.Server.TickRate,
		"commands", len(registry.Names()),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return watcher.Run(groupCtx)
	})
	group.Go(func() error {
		runTickLoop(groupCtx, clock.Real(), cfg, queue)
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		server.Stop()
		return nil
	})
	runErr := group.Wait()

	// The tick loop is gone; any commands still queued would never
	// run and their clients would hang until their own timeouts.
	// Execute them now — reply writes to closed sockets fail silently.
	if drained := queue.DrainAll(); drained > 0 {
		logger.Info("drained queued commands at shutdown", "count", drained)
	}
	if err := captures.Flush(); err != nil {
		logger.Warn("capture index flush failed", "error", err)
	}
	logger.Info("atelier bridge stopped")
	return runErr
}

// loadConfig resolves the configuration source: an explicit --config
// path wins, otherwise the ATELIER_BRIDGE_CONFIG environment variable
// names the file.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// runTickLoop is the host tick stand-in: one queued command per tick,
// the cadence the embedded engine would run the drain at.
func runTickLoop(ctx context.Context, clk clock.Clock, cfg *config.Config, queue *tick.Queue) {
	ticker := clk.NewTicker(cfg.TickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			queue.DrainOne()
		}
	}
}

// loadOrCreateCacheSecret loads the per-installation secret that keys
// asset-cache references, generating and persisting one on first run.
// The key is raw bytes, not text; whitespace in it is meaningful.
func loadOrCreateCacheSecret(path string) (*secret.Buffer, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		if len(raw) != assetcache.KeySize {
			return nil, fmt.Errorf("%s holds %d bytes, want %d", path, len(raw), assetcache.KeySize)
		}
		buffer, err := secret.NewFromBytes(raw)
		secret.Zero(raw)
		return buffer, err
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	raw = make([]byte, assetcache.KeySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return nil, err
	}
	buffer, err := secret.NewFromBytes(raw)
	secret.Zero(raw)
	return buffer, err
}

// resolveMeshGenKey produces the Rodin API key buffer, or nil when the
// config carries no key. A sealed key decrypts with the daemon's
// identity file; a plaintext api_key is accepted for development.
func resolveMeshGenKey(cfg *config.Config, logger *slog.Logger) (*secret.Buffer, error) {
	switch {
	case cfg.MeshGen.APIKey != "":
		logger.Warn("mesh_generation.api_key is plaintext in config; seal it with atelier-bridge-seal")
		return secret.NewFromBytes([]byte(cfg.MeshGen.APIKey))

	case cfg.MeshGen.APIKeySealed != "":
		identity, err := secret.ReadFromPath(cfg.Paths.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("reading identity file %s: %w", cfg.Paths.IdentityFile, err)
		}
		defer identity.Close()
		key, err := sealed.Decrypt(cfg.MeshGen.APIKeySealed, identity)
		if err != nil {
			return nil, fmt.Errorf("unsealing mesh_generation.api_key_sealed: %w", err)
		}
		return key, nil

	default:
		return nil, nil
	}
}
