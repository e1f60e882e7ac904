// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Atelier-bridge-call is a one-shot client for the bridge daemon. It
// sends a single command over TCP, prints the Response, and exits 0
// for a success response, 1 for an error response, or 2 when the
// bridge could not be reached at all. Shell scripts and smoke tests
// use it instead of carrying a persistent client.
package main
