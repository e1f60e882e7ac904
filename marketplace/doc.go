// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package marketplace integrates the Poly Haven asset library: category
// and search queries against its public REST API, and asset downloads
// that land in the scene as environment images, materials, or imported
// models.
//
// The API has no authentication. Responses pass through with minimal
// reshaping — the client that drives the bridge wants the catalog
// JSON, not a curated view of it — except that asset searches are
// truncated to the first twenty entries so a broad query cannot flood
// the command channel.
//
// Downloads go through the asset cache (lib/assetcache), so repeating
// a prompt that references the same texture does not hit the network
// twice. Everything here runs on the tick goroutine; the HTTP calls
// block the loop for their duration, which matches how the host treats
// marketplace fetches as modal operations.
package marketplace
