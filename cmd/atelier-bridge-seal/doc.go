// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Atelier-bridge-seal manages sealed API keys for the bridge daemon.
// With --generate-identity it writes a new age identity file and
// prints the matching public key; in its default mode it prompts for
// an API key with terminal echo disabled, encrypts it to the given
// recipient(s), and prints base64 ciphertext for the
// mesh_generation.api_key_sealed config field.
package main
