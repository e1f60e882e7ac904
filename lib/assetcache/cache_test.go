// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package assetcache

import (
	"bytes"
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atelier-foundation/atelier-bridge/lib/clock"
)

// assetServer serves fixed payloads by URL path and counts requests,
// so tests can assert how often the cache actually hit the network.
type assetServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests map[string]int
	payloads map[string][]byte
}

func newAssetServer(t *testing.T) *assetServer {
	t.Helper()
	server := &assetServer{
		requests: make(map[string]int),
		payloads: make(map[string][]byte),
	}
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.mu.Lock()
		server.requests[r.URL.Path]++
		payload, ok := server.payloads[r.URL.Path]
		server.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "model/gltf-binary")
		w.Write(payload)
	}))
	t.Cleanup(server.Close)
	return server
}

func (s *assetServer) serve(path string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[path] = payload
}

func (s *assetServer) hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

func openTestCache(t *testing.T, directory string, clk clock.Clock, maxBytes int64) *Cache {
	t.Helper()
	cache, err := Open(Config{
		Directory: directory,
		MaxBytes:  maxBytes,
		Secret:    testSecret(t, 0x42),
		Clock:     clk,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func randomPayload(t *testing.T, size int) []byte {
	t.Helper()
	payload := make([]byte, size)
	if _, err := rand.Read(payload); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return payload
}

// payloadFiles returns the on-disk payload files under the cache's
// fanout directories, ignoring the SQLite index at the root.
func payloadFiles(t *testing.T, directory string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(directory, "??", "*.bin"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return files
}

func TestFetchDownloadsOnceAndCaches(t *testing.T) {
	server := newAssetServer(t)
	payload := randomPayload(t, 2048)
	server.serve("/asset.glb", payload)

	cache := openTestCache(t, t.TempDir(), nil, 0)
	ctx := context.Background()
	url := server.URL + "/asset.glb"

	first, contentType, err := cache.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("Fetch (miss): %v", err)
	}
	if !bytes.Equal(first, payload) {
		t.Fatal("downloaded payload does not match served payload")
	}
	if contentType != "model/gltf-binary" {
		t.Fatalf("content type = %q, want model/gltf-binary", contentType)
	}

	second, contentType, err := cache.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("Fetch (hit): %v", err)
	}
	if !bytes.Equal(second, payload) {
		t.Fatal("cached payload does not match served payload")
	}
	if contentType != "model/gltf-binary" {
		t.Fatalf("cached content type = %q, want model/gltf-binary", contentType)
	}

	if hits := server.hits("/asset.glb"); hits != 1 {
		t.Fatalf("server saw %d requests, want 1", hits)
	}
}

func TestFetchStoresCompressiblePayloadCompressed(t *testing.T) {
	server := newAssetServer(t)
	payload := []byte(strings.Repeat("# vertex data\nv 1.0 2.0 3.0\n", 400))
	server.serve("/model.obj", payload)

	directory := t.TempDir()
	cache := openTestCache(t, directory, nil, 0)

	if _, _, err := cache.Fetch(context.Background(), server.URL+"/model.obj"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	files := payloadFiles(t, directory)
	if len(files) != 1 {
		t.Fatalf("found %d payload files, want 1", len(files))
	}
	stored, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("reading payload file: %v", err)
	}
	if CompressionTag(stored[0]) != CompressionZstd {
		t.Fatalf("payload tag = %v, want zstd", CompressionTag(stored[0]))
	}
	if len(stored) >= len(payload) {
		t.Fatalf("stored %d bytes >= original %d bytes", len(stored), len(payload))
	}

	stats, err := cache.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Entries != 1 {
		t.Fatalf("stats entries = %d, want 1", stats.Entries)
	}
	if stats.StoredBytes >= stats.PayloadBytes {
		t.Fatalf("stored %d >= payload %d, compression had no effect",
			stats.StoredBytes, stats.PayloadBytes)
	}
}

func TestFetchStoresIncompressiblePayloadRaw(t *testing.T) {
	server := newAssetServer(t)
	payload := randomPayload(t, 4096)
	server.serve("/texture.bin", payload)

	directory := t.TempDir()
	cache := openTestCache(t, directory, nil, 0)

	if _, _, err := cache.Fetch(context.Background(), server.URL+"/texture.bin"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	files := payloadFiles(t, directory)
	if len(files) != 1 {
		t.Fatalf("found %d payload files, want 1", len(files))
	}
	stored, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("reading payload file: %v", err)
	}
	if CompressionTag(stored[0]) != CompressionNone {
		t.Fatalf("payload tag = %v, want none", CompressionTag(stored[0]))
	}
	if len(stored) != 1+len(payload) {
		t.Fatalf("stored %d bytes, want %d", len(stored), 1+len(payload))
	}
}

func TestFetchPropagatesHTTPErrors(t *testing.T) {
	server := newAssetServer(t)
	cache := openTestCache(t, t.TempDir(), nil, 0)

	_, _, err := cache.Fetch(context.Background(), server.URL+"/missing.glb")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "HTTP 404") {
		t.Fatalf("error should name the status, got: %v", err)
	}

	stats, err := cache.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Entries != 0 {
		t.Fatalf("failed download left %d index entries", stats.Entries)
	}
}

func TestFetchRepairsDeletedPayloadFile(t *testing.T) {
	server := newAssetServer(t)
	payload := randomPayload(t, 2048)
	server.serve("/asset.glb", payload)

	directory := t.TempDir()
	cache := openTestCache(t, directory, nil, 0)
	ctx := context.Background()
	url := server.URL + "/asset.glb"

	if _, _, err := cache.Fetch(ctx, url); err != nil {
		t.Fatalf("Fetch (initial): %v", err)
	}

	files := payloadFiles(t, directory)
	if len(files) != 1 {
		t.Fatalf("found %d payload files, want 1", len(files))
	}
	if err := os.Remove(files[0]); err != nil {
		t.Fatalf("removing payload file: %v", err)
	}

	repaired, _, err := cache.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("Fetch (repair): %v", err)
	}
	if !bytes.Equal(repaired, payload) {
		t.Fatal("repaired payload does not match served payload")
	}
	if hits := server.hits("/asset.glb"); hits != 2 {
		t.Fatalf("server saw %d requests, want 2 (initial + repair)", hits)
	}

	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Entries != 1 {
		t.Fatalf("stats entries = %d, want 1 after repair", stats.Entries)
	}
}

func TestFetchRepairsCorruptPayloadFile(t *testing.T) {
	server := newAssetServer(t)
	payload := randomPayload(t, 2048)
	server.serve("/asset.glb", payload)

	directory := t.TempDir()
	cache := openTestCache(t, directory, nil, 0)
	ctx := context.Background()
	url := server.URL + "/asset.glb"

	if _, _, err := cache.Fetch(ctx, url); err != nil {
		t.Fatalf("Fetch (initial): %v", err)
	}

	files := payloadFiles(t, directory)
	if len(files) != 1 {
		t.Fatalf("found %d payload files, want 1", len(files))
	}
	if err := os.WriteFile(files[0], []byte{9, 9, 9}, 0644); err != nil {
		t.Fatalf("corrupting payload file: %v", err)
	}

	repaired, _, err := cache.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("Fetch (repair): %v", err)
	}
	if !bytes.Equal(repaired, payload) {
		t.Fatal("repaired payload does not match served payload")
	}
	if hits := server.hits("/asset.glb"); hits != 2 {
		t.Fatalf("server saw %d requests, want 2 (initial + repair)", hits)
	}
}

func TestCacheSurvivesReopen(t *testing.T) {
	server := newAssetServer(t)
	payload := randomPayload(t, 2048)
	server.serve("/asset.glb", payload)

	directory := t.TempDir()
	ctx := context.Background()
	url := server.URL + "/asset.glb"

	first := openTestCache(t, directory, nil, 0)
	if _, _, err := first.Fetch(ctx, url); err != nil {
		t.Fatalf("Fetch (first cache): %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close (first cache): %v", err)
	}

	// Same directory, same installation secret: the reopened cache
	// must find the payload without touching the network.
	second := openTestCache(t, directory, nil, 0)
	reloaded, contentType, err := second.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("Fetch (second cache): %v", err)
	}
	if !bytes.Equal(reloaded, payload) {
		t.Fatal("reopened cache returned wrong payload")
	}
	if contentType != "model/gltf-binary" {
		t.Fatalf("reopened content type = %q, want model/gltf-binary", contentType)
	}
	if hits := server.hits("/asset.glb"); hits != 1 {
		t.Fatalf("server saw %d requests, want 1", hits)
	}
}

func TestTrimEvictsLeastRecentlyAccessed(t *testing.T) {
	server := newAssetServer(t)
	// Random payloads are incompressible, so each stores as exactly
	// 1001 bytes (tag byte + body) and eviction math is predictable.
	for _, path := range []string{"/a", "/b", "/c"} {
		server.serve(path, randomPayload(t, 1000))
	}

	clk := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	cache := openTestCache(t, t.TempDir(), clk, 0)
	ctx := context.Background()

	fetch := func(path string) {
		t.Helper()
		if _, _, err := cache.Fetch(ctx, server.URL+path); err != nil {
			t.Fatalf("Fetch %s: %v", path, err)
		}
	}

	fetch("/a")
	clk.Advance(time.Second)
	fetch("/b")
	clk.Advance(time.Second)
	fetch("/c")
	clk.Advance(time.Second)
	// Touch /a so /b becomes the least recently accessed entry.
	fetch("/a")
	clk.Advance(time.Second)

	evicted, err := cache.Trim(ctx, 2500)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("evicted %d entries, want 1", evicted)
	}

	// /a and /c survived; /b must be re-downloaded.
	fetch("/a")
	fetch("/c")
	fetch("/b")
	if hits := server.hits("/a"); hits != 1 {
		t.Fatalf("/a saw %d requests, want 1 (never evicted)", hits)
	}
	if hits := server.hits("/c"); hits != 1 {
		t.Fatalf("/c saw %d requests, want 1 (never evicted)", hits)
	}
	if hits := server.hits("/b"); hits != 2 {
		t.Fatalf("/b saw %d requests, want 2 (evicted and re-downloaded)", hits)
	}
}

func TestTrimNoopUnderBudget(t *testing.T) {
	server := newAssetServer(t)
	server.serve("/a", randomPayload(t, 1000))

	cache := openTestCache(t, t.TempDir(), nil, 0)
	ctx := context.Background()

	if _, _, err := cache.Fetch(ctx, server.URL+"/a"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	evicted, err := cache.Trim(ctx, 1<<20)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if evicted != 0 {
		t.Fatalf("evicted %d entries under budget, want 0", evicted)
	}
}

func TestFetchAutoTrimsToBudget(t *testing.T) {
	server := newAssetServer(t)
	server.serve("/first", randomPayload(t, 1000))
	server.serve("/second", randomPayload(t, 1000))

	clk := clock.Fake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	// Budget fits one stored payload (1001 bytes) but not two.
	cache := openTestCache(t, t.TempDir(), clk, 1500)
	ctx := context.Background()

	if _, _, err := cache.Fetch(ctx, server.URL+"/first"); err != nil {
		t.Fatalf("Fetch /first: %v", err)
	}
	clk.Advance(time.Second)
	if _, _, err := cache.Fetch(ctx, server.URL+"/second"); err != nil {
		t.Fatalf("Fetch /second: %v", err)
	}

	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Entries != 1 {
		t.Fatalf("stats entries = %d, want 1 after auto-trim", stats.Entries)
	}
	if stats.StoredBytes > 1500 {
		t.Fatalf("stored %d bytes exceeds %d budget", stats.StoredBytes, 1500)
	}

	// The older entry was evicted, the newer one kept.
	if _, _, err := cache.Fetch(ctx, server.URL+"/second"); err != nil {
		t.Fatalf("Fetch /second (cached): %v", err)
	}
	if hits := server.hits("/second"); hits != 1 {
		t.Fatalf("/second saw %d requests, want 1", hits)
	}
}

func TestStatsOnEmptyCache(t *testing.T) {
	cache := openTestCache(t, t.TempDir(), nil, 0)

	stats, err := cache.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Entries != 0 || stats.StoredBytes != 0 || stats.PayloadBytes != 0 {
		t.Fatalf("empty cache stats = %+v, want zeros", stats)
	}
}

func TestOpenValidatesConfig(t *testing.T) {
	if _, err := Open(Config{Secret: testSecret(t, 0x42)}); err == nil {
		t.Fatal("expected error for missing Directory")
	}
	if _, err := Open(Config{Directory: t.TempDir()}); err == nil {
		t.Fatal("expected error for missing Secret")
	}
}
