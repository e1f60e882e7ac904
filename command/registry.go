// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"slices"
)

// Handler processes one command on the tick loop. The returned value
// is marshaled as the response result; a returned error becomes an
// error Response carrying err.Error().
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Entry declares one command. Flag, if non-empty, names a feature flag
// that must be enabled for the command to exist from the client's
// point of view.
type Entry struct {
	Name    string
	Flag    string
	Handler Handler
}

// Registry maps command names to handlers. Populate it with Register
// during startup; it is read-only afterward and safe for concurrent
// Dispatch.
type Registry struct {
	entries map[string]Entry
	logger  *slog.Logger
}

// NewRegistry returns an empty registry. A nil logger discards
// dispatch diagnostics.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		entries: make(map[string]Entry),
		logger:  logger,
	}
}

// Register adds a command entry. Panics on a duplicate name, an empty
// name, or a nil handler: registration expresses programmer intent at
// startup, not runtime input.
func (r *Registry) Register(entry Entry) {
	if entry.Name == "" {
		panic("command.Registry: Register with empty name")
	}
	if entry.Handler == nil {
		panic(fmt.Sprintf("command.Registry: nil handler for %q", entry.Name))
	}
	if _, exists := r.entries[entry.Name]; exists {
		panic(fmt.Sprintf("command.Registry: duplicate handler for %q", entry.Name))
	}
	r.entries[entry.Name] = entry
}

// Names returns the registered command names in sorted order,
// including entries whose flags are currently disabled.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Dispatch resolves and runs the named command, converting every
// outcome into a wire Response.
//
// A name with no entry and a name whose flag is disabled produce
// byte-identical error Responses, so feature gating is invisible to
// probing. Flags are read at dispatch time: a flag flipped between two
// commands on one connection affects the second command.
//
// A handler panic is recovered and reported as an error Response; the
// tick loop and the other connections are unaffected.
func (r *Registry) Dispatch(ctx context.Context, name string, params json.RawMessage, flags *FlagSet) (response Response) {
	entry, exists := r.entries[name]
	if !exists || (entry.Flag != "" && !flags.Enabled(entry.Flag)) {
		return ErrorResponse(fmt.Sprintf("Unknown command type: %s", name))
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("handler panic",
				"command", name,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			response = ErrorResponse(fmt.Sprintf("internal error in %s: %v", name, recovered))
		}
	}()

	result, err := entry.Handler(ctx, params)
	if err != nil {
		r.logger.Debug("command failed",
			"command", name,
			"error", err,
		)
		return ErrorResponse(err.Error())
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		r.logger.Error("result not marshalable",
			"command", name,
			"error", err,
		)
		return ErrorResponse(fmt.Sprintf("internal: marshaling result of %s: %v", name, err))
	}

	return Response{Status: StatusSuccess, Result: encoded}
}
