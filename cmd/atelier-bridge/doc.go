// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Atelier-bridge is the bridge daemon: it embeds the Atelier scene
// engine, serves the JSON command protocol over TCP, and runs the tick
// loop that executes commands against the scene. Configuration comes
// from a YAML file (--config or ATELIER_BRIDGE_CONFIG); feature flags
// live in a JSONC file watched for live edits.
package main
