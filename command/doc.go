// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package command defines the bridge's wire envelope and the registry
// that routes decoded commands to handlers.
//
// A client request is a Command: a type name plus raw JSON params. The
// reply is always a Response with status "success" or "error" — the
// two-field envelope is the entire protocol surface, and every fault
// in the system (unknown command, disabled feature, handler error,
// handler panic, unmarshalable result) collapses into an error
// Response at exactly one place, [Registry.Dispatch]. Connection
// handling never sees a Go error from a handler.
//
// Registration happens once at startup and panics on programmer
// mistakes (duplicate names, nil handlers); dispatch happens on the
// tick loop and never panics. Entries may name a feature flag; the
// flag is consulted against a [FlagSet] on every dispatch, so flipping
// a flag at runtime immediately hides or exposes its commands. A
// disabled command is reported with the same message as a nonexistent
// one — probing clients cannot tell gated features apart from missing
// ones.
package command
