// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package integration_test exercises the assembled bridge the way
// cmd/atelier-bridge wires it: a real TCP listener, a real tick loop
// draining one command per tick, a real flag file watched on disk, and
// the full command surface registered against one scene engine. Only
// the outbound HTTP side is faked — an httptest server plays Poly
// Haven, and the mesh generation client runs keyless.
//
// Each test builds its own stack with startStack, dials the listener,
// and speaks the wire protocol: bare JSON objects on a TCP stream, one
// Response per command, answered in order.
package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atelier-foundation/atelier-bridge/bridge"
	"github.com/atelier-foundation/atelier-bridge/command"
	"github.com/atelier-foundation/atelier-bridge/lib/assetcache"
	"github.com/atelier-foundation/atelier-bridge/lib/clock"
	"github.com/atelier-foundation/atelier-bridge/lib/flagfile"
	"github.com/atelier-foundation/atelier-bridge/lib/secret"
	"github.com/atelier-foundation/atelier-bridge/lib/tick"
	"github.com/atelier-foundation/atelier-bridge/marketplace"
	"github.com/atelier-foundation/atelier-bridge/meshgen"
	"github.com/atelier-foundation/atelier-bridge/nodegraph"
	"github.com/atelier-foundation/atelier-bridge/scene"
	"github.com/atelier-foundation/atelier-bridge/script"
)

// allFlagsEnabled is the default flag file content for tests that want
// the whole command surface available.
const allFlagsEnabled = `{
	"use_asset_marketplace": true,
	"use_mesh_generation": true,
	"use_node_graphs": true,
}
`

// testTickInterval drives the stack's tick loop. Production runs at
// 60 Hz; tests run faster so a journey of a few dozen commands does
// not dominate the suite's wall time.
const testTickInterval = time.Millisecond

// stackOptions configures startStack. The zero value gives a fresh
// temporary root, all feature flags enabled, and a private marketplace
// fake.
type stackOptions struct {
	// Root is the state directory (flags file, captures, asset
	// cache). Empty means a fresh t.TempDir(). Reusing a root across
	// two stacks simulates a daemon restart over persistent state.
	Root string

	// InitialFlags is the flag file content written before the
	// watcher starts. Empty means allFlagsEnabled.
	InitialFlags string

	// Marketplace is the fake Poly Haven to register commands
	// against. Nil means a private fake owned by the stack. Sharing
	// one fake across stacks keeps asset URLs stable, which the
	// URL-keyed asset cache needs for restart tests.
	Marketplace *marketplaceFake
}

// atelierStack is one fully wired bridge: everything the daemon's run()
// builds, minus config file parsing and signal handling.
type atelierStack struct {
	address     string
	flagsPath   string
	capturesDir string

	server   *bridge.Server
	queue    *tick.Queue
	captures *scene.CaptureStore
	cache    *assetcache.Cache
	cancel   context.CancelFunc
	group    *errgroup.Group

	shutdownOnce sync.Once
}

// marketplaceFake is an httptest server standing in for the Poly Haven
// API and its download host. Handlers are registered per test; download
// hits are counted so cache behavior is observable.
type marketplaceFake struct {
	mux    *http.ServeMux
	server *httptest.Server

	mu        sync.Mutex
	downloads map[string]int
}

func newMarketplaceFake(t *testing.T) *marketplaceFake {
	t.Helper()
	fake := &marketplaceFake{
		mux:       http.NewServeMux(),
		downloads: make(map[string]int),
	}
	fake.server = httptest.NewServer(fake.mux)
	t.Cleanup(fake.server.Close)
	return fake
}

// serveDownload registers a payload on the fake download host and
// returns its absolute URL.
func (f *marketplaceFake) serveDownload(path string, payload []byte) string {
	f.mux.HandleFunc("/dl"+path, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.downloads[path]++
		f.mu.Unlock()
		w.Write(payload)
	})
	return f.server.URL + "/dl" + path
}

func (f *marketplaceFake) downloadCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads[path]
}

// startStack builds and starts a complete bridge. Shutdown follows the
// daemon's order — stop the server, wait out the supervised goroutines,
// drain the queue, flush the capture index — and runs in t.Cleanup, or
// earlier if the test calls shutdown itself.
func startStack(t *testing.T, options stackOptions) *atelierStack {
	t.Helper()

	root := options.Root
	if root == "" {
		root = t.TempDir()
	}
	capturesDir := filepath.Join(root, "captures")
	cacheDir := filepath.Join(root, "cache")
	for _, directory := range []string{capturesDir, cacheDir} {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", directory, err)
		}
	}

	flagsPath := filepath.Join(root, "flags.jsonc")
	initialFlags := options.InitialFlags
	if initialFlags == "" {
		initialFlags = allFlagsEnabled
	}
	if err := os.WriteFile(flagsPath, []byte(initialFlags), 0o644); err != nil {
		t.Fatalf("write flags file: %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	engine := scene.NewDefault()
	queue := tick.NewQueue(64)
	registry := command.NewRegistry(logger)
	flags := command.NewFlagSet(marketplace.FlagName, meshgen.FlagName, nodegraph.FlagName)

	watcher, err := flagfile.NewWatcher(flagsPath, flags, logger)
	if err != nil {
		t.Fatalf("flag watcher: %v", err)
	}

	captures, err := scene.NewCaptureStore(capturesDir, 10, clock.Real(), logger)
	if err != nil {
		t.Fatalf("capture store: %v", err)
	}

	installation, err := secret.NewFromBytes(bytes.Repeat([]byte{0x5a}, assetcache.KeySize))
	if err != nil {
		t.Fatalf("installation secret: %v", err)
	}
	cache, err := assetcache.Open(assetcache.Config{
		Directory: cacheDir,
		Secret:    installation,
	})
	if err != nil {
		t.Fatalf("asset cache: %v", err)
	}
	installation.Close()

	market := options.Marketplace
	if market == nil {
		market = newMarketplaceFake(t)
	}
	marketClient := marketplace.NewClient(marketplace.ClientConfig{
		BaseURL: market.server.URL,
	})
	meshClient, err := meshgen.NewClient(meshgen.ClientConfig{Mode: meshgen.ModeMainSite})
	if err != nil {
		t.Fatalf("mesh generation client: %v", err)
	}
	t.Cleanup(func() { meshClient.Close() })

	scene.RegisterCommands(registry, engine, captures, 800)
	script.RegisterCommands(registry, script.NewRunner(engine, 0, logger))
	marketplace.RegisterCommands(registry, marketplace.CommandConfig{
		Client:    marketClient,
		Cache:     cache,
		Engine:    engine,
		Flags:     flags,
		FlagsPath: flagsPath,
	})
	meshgen.RegisterCommands(registry, meshgen.CommandConfig{
		Client:    meshClient,
		Cache:     cache,
		Engine:    engine,
		Flags:     flags,
		FlagsPath: flagsPath,
	})
	nodegraph.RegisterCommands(registry, nodegraph.CommandConfig{
		Engine:    engine,
		Flags:     flags,
		FlagsPath: flagsPath,
	})

	server, err := bridge.New(bridge.Config{
		ListenAddress: "127.0.0.1:0",
		Queue:         queue,
		Registry:      registry,
		Flags:         flags,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := server.Start(ctx); err != nil {
		cancel()
		t.Fatalf("server.Start: %v", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return watcher.Run(groupCtx)
	})
	group.Go(func() error {
		ticker := clock.Real().NewTicker(testTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				queue.DrainOne()
			}
		}
	})
	group.Go(func() error {
		<-groupCtx.Done()
		server.Stop()
		return nil
	})

	stack := &atelierStack{
		address:     server.Addr().String(),
		flagsPath:   flagsPath,
		capturesDir: capturesDir,
		server:      server,
		queue:       queue,
		captures:    captures,
		cache:       cache,
		cancel:      cancel,
		group:       group,
	}
	t.Cleanup(func() { stack.shutdown(t) })
	return stack
}

// shutdown tears the stack down in the daemon's order. Safe to call
// more than once; restart tests call it to release the state root
// before starting a successor stack over it.
func (s *atelierStack) shutdown(t *testing.T) {
	t.Helper()
	s.shutdownOnce.Do(func() {
		s.cancel()
		if err := s.group.Wait(); err != nil {
			t.Errorf("supervised goroutine failed: %v", err)
		}
		s.queue.DrainAll()
		if err := s.captures.Flush(); err != nil {
			t.Errorf("capture index flush: %v", err)
		}
		if err := s.cache.Close(); err != nil {
			t.Errorf("asset cache close: %v", err)
		}
	})
}

// setFlags rewrites the flag file the way an operator editing it would.
// The watcher picks the change up; poll with waitFor to observe it.
func (s *atelierStack) setFlags(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(s.flagsPath, []byte(content), 0o644); err != nil {
		t.Fatalf("rewrite flags file: %v", err)
	}
}

// bridgeClient is one TCP connection speaking the command protocol.
type bridgeClient struct {
	conn    net.Conn
	decoder *json.Decoder
}

// dial connects to the stack's listener. The connection closes with the
// test.
func (s *atelierStack) dial(t *testing.T) *bridgeClient {
	t.Helper()
	conn, err := net.Dial("tcp", s.address)
	if err != nil {
		t.Fatalf("dial %s: %v", s.address, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &bridgeClient{conn: conn, decoder: json.NewDecoder(conn)}
}

// call sends one command and reads its Response. params is a JSON
// literal or empty for no params.
func (c *bridgeClient) call(t *testing.T, commandType, params string) command.Response {
	t.Helper()

	request := command.Command{Type: commandType}
	if params != "" {
		request.Params = json.RawMessage(params)
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("marshal %s: %v", commandType, err)
	}
	if _, err := c.conn.Write(encoded); err != nil {
		t.Fatalf("send %s: %v", commandType, err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var response command.Response
	if err := c.decoder.Decode(&response); err != nil {
		t.Fatalf("read %s response: %v", commandType, err)
	}
	return response
}

// callSuccess is call plus a success assertion; it returns the result
// payload.
func (c *bridgeClient) callSuccess(t *testing.T, commandType, params string) json.RawMessage {
	t.Helper()
	response := c.call(t, commandType, params)
	if response.Status != command.StatusSuccess {
		t.Fatalf("%s failed: %s", commandType, response.Message)
	}
	return response.Result
}

// decodeResult unmarshals a command result into out.
func decodeResult(t *testing.T, result json.RawMessage, out any) {
	t.Helper()
	if err := json.Unmarshal(result, out); err != nil {
		t.Fatalf("decode result %s: %v", result, err)
	}
}

// waitFor polls condition until it holds or the deadline passes.
// Flag-file reloads ride inotify, so tests observing them need a
// bounded wait rather than a fixed sleep.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, description string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, description)
}

// assertCommandUnknown asserts the bridge reports commandType as
// unknown — the shared shape for missing and flag-disabled commands.
func assertCommandUnknown(t *testing.T, c *bridgeClient, commandType string) {
	t.Helper()
	response := c.call(t, commandType, "")
	if response.Status != command.StatusError {
		t.Fatalf("%s unexpectedly succeeded", commandType)
	}
	want := fmt.Sprintf("Unknown command type: %s", commandType)
	if response.Message != want {
		t.Fatalf("message = %q, want %q", response.Message, want)
	}
}
