// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge is the TCP command endpoint of the Atelier bridge.
//
// A Server accepts connections from controller clients, splits each
// connection's byte stream into JSON commands (lib/jsonframe), and
// hands every decoded command to the host's tick loop (lib/tick) as a
// closure that dispatches through the command registry and writes the
// Response back to the socket. Connection goroutines never touch the
// scene; the tick loop never touches a socket except through the reply
// closure it runs.
//
// Each decoded command produces exactly one Response, in order, and
// the server never pushes unsolicited data. Clients may pipeline:
// commands split across TCP segments or packed several to a segment
// frame identically.
//
// The Server is restartable. Stop closes the listener and the active
// connections, drains the handler goroutines, and leaves the Server
// ready for another Start, so the host can toggle the endpoint without
// rebuilding its wiring.
package bridge
