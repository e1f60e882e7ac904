// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the bridge's standard CBOR encoding
// configuration.
//
// The project uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the TCP command protocol, REST
//     collaborators (Poly Haven, Hyper3D), and CLI output.
//   - CBOR for internal state files: the capture-history index and any
//     other host-side state the daemon persists between runs.
//
// This package provides the shared CBOR modes so every package encodes
// identically without duplicating configuration. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, smallest
// integer encoding, no indefinite-length items — the same logical
// state always produces identical bytes, which keeps atomic
// write-then-rename updates byte-comparable.
//
//	data, err := codec.Marshal(index)
//	err = codec.Unmarshal(data, &index)
//
// Types serialized only as CBOR carry `cbor` struct tags; types that
// also cross the JSON wire carry `json` tags, which fxamacker/cbor
// reads as a fallback. Never both on one field.
package codec
