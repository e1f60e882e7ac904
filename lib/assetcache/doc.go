// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package assetcache is the download cache for marketplace textures,
// HDRIs, and generated models. Fetch returns cached bytes when the
// URL has been seen before and downloads, compresses, and indexes
// them when it has not.
//
// Entries are keyed by a 32-byte reference: a keyed BLAKE3 hash of the
// source URL under a domain tag, with the key derived via HKDF-SHA256
// from a per-installation secret. Payload filenames on disk are the hex
// reference, so a directory listing (or a backup of it) does not reveal
// what was downloaded. The SQLite index next to the payloads does store
// source URLs — it is local, per-user state, and eviction logs would be
// useless without it.
//
// Payload files carry a one-byte compression tag (0 none, 1 lz4,
// 2 zstd) followed by the possibly-compressed bytes. Selection probes
// the content: strong ratios take zstd, middling ones lz4, and
// small or incompressible content (most of what a 3D marketplace
// serves: JPEG, compressed EXR, glTF binaries) stays raw.
//
// The index records sizes and access times; Trim evicts
// least-recently-used entries until the cache fits a byte budget.
package assetcache
