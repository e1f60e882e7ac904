// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package integration_test

import (
	"fmt"
	"net/http"
	"testing"
)

// TestAssetCacheAcrossRestart verifies the asset cache end to end: a
// marketplace download fetched over the wire lands in the encrypted
// cache, a repeat download is served from it, and the cache survives a
// full stack restart over the same state root.
//
//   - Phase 1: download an HDRI. The fake download host records one hit.
//   - Phase 2: download it again on a new connection. Still one hit.
//   - Phase 3: shut the stack down, start a fresh one over the same
//     root (same installation secret, same cache directory), download
//     again. Still one hit — the second daemon read the first's cache.
//
// The fake marketplace is shared across both stacks so asset URLs stay
// identical; the cache is keyed by source URL.
func TestAssetCacheAcrossRestart(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	market := newMarketplaceFake(t)

	payload := []byte("radiance payload, plausible enough for an import")
	hdrURL := market.serveDownload("/dusk_sky_1k.hdr", payload)
	market.mux.HandleFunc("/files/dusk_sky", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"hdri": {"1k": {"hdr": {"url": %q}}}}`, hdrURL)
	})

	download := func(t *testing.T, client *bridgeClient) {
		t.Helper()
		var imported struct {
			Success   bool   `json:"success"`
			ImageName string `json:"image_name"`
		}
		decodeResult(t, client.callSuccess(t, "download_polyhaven_asset",
			`{"asset_id": "dusk_sky", "asset_type": "hdris"}`), &imported)
		if !imported.Success {
			t.Fatal("import reported failure")
		}
		if imported.ImageName != "dusk_sky_1k.hdr" {
			t.Fatalf("image name = %q, want dusk_sky_1k.hdr", imported.ImageName)
		}
	}

	// --- Phase 1: first fetch goes to the network ---

	first := startStack(t, stackOptions{Root: root, Marketplace: market})
	download(t, first.dial(t))
	if hits := market.downloadCount("/dusk_sky_1k.hdr"); hits != 1 {
		t.Fatalf("download hits after first fetch = %d, want 1", hits)
	}

	// --- Phase 2: repeat fetch is served from cache ---

	download(t, first.dial(t))
	if hits := market.downloadCount("/dusk_sky_1k.hdr"); hits != 1 {
		t.Fatalf("download hits after repeat fetch = %d, want 1", hits)
	}
	t.Log("phases 1-2: second download served from cache")

	// --- Phase 3: cache survives a restart ---

	first.shutdown(t)

	second := startStack(t, stackOptions{Root: root, Marketplace: market})
	download(t, second.dial(t))
	if hits := market.downloadCount("/dusk_sky_1k.hdr"); hits != 1 {
		t.Fatalf("download hits after restart = %d, want 1", hits)
	}
	t.Log("phase 3: restarted stack reads its predecessor's cache")
}
