// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package flagfile binds a command.FlagSet to a JSONC file on disk.
//
// The file maps flag names to booleans and may carry // comments,
// block comments, and trailing commas:
//
//	{
//	    // Enables the PolyHaven command set.
//	    "use_asset_marketplace": true,
//	    "use_mesh_generation": false,
//	}
//
// The file is the complete truth: every load sets each declared flag
// to the file's value, and a declared flag the file does not mention
// goes to false. Names the file mentions but the set never declared
// are logged and ignored. A Watcher re-applies the file whenever it
// changes, so features can be toggled while the bridge is serving;
// the watch covers the parent directory so editors that save by
// renaming a temporary file over the target are picked up too.
package flagfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/jsonc"

	"github.com/atelier-foundation/atelier-bridge/command"
)

// Parse strips JSONC comments and trailing commas from data and
// unmarshals the result into a name → enabled map.
func Parse(data []byte) (map[string]bool, error) {
	stripped := jsonc.ToJSON(data)

	var values map[string]bool
	if err := json.Unmarshal(stripped, &values); err != nil {
		return nil, fmt.Errorf("parsing flag file: %w", err)
	}
	return values, nil
}

// Load reads the flag file at path and applies it to flags. Unknown
// names are logged at warn level, not treated as errors, so a file
// written for a newer bridge still loads. Returns the read or parse
// error without touching any flag.
func Load(path string, flags *command.FlagSet, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	values, err := Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	apply(values, flags, logger)
	logger.Info("feature flags applied",
		"path", path,
		"flags", flags.Snapshot(),
	)
	return nil
}

// apply writes the file's values into the set. Declared flags absent
// from the file reset to false; file names with no declared flag are
// warned about once per load.
func apply(values map[string]bool, flags *command.FlagSet, logger *slog.Logger) {
	for _, name := range flags.Names() {
		// Set cannot fail for a declared name.
		_ = flags.Set(name, values[name])
	}
	for name := range values {
		if err := flags.Set(name, values[name]); err != nil {
			logger.Warn("ignoring unknown flag in flag file", "flag", name)
		}
	}
}

// Watcher keeps a FlagSet synchronized with a flag file.
type Watcher struct {
	path   string
	flags  *command.FlagSet
	logger *slog.Logger
	notify *fsnotify.Watcher
}

// NewWatcher starts watching the flag file's directory and applies the
// file's current contents. A missing file is not an error — features
// stay disabled until the file appears — but an unreadable or
// malformed file is, so a broken deployment fails at startup instead
// of running with silently-default flags.
func NewWatcher(path string, flags *command.FlagSet, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	path = filepath.Clean(path)

	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := notify.Add(filepath.Dir(path)); err != nil {
		notify.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	watcher := &Watcher{
		path:   path,
		flags:  flags,
		logger: logger,
		notify: notify,
	}

	if err := Load(path, flags, logger); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("flag file absent, gated features disabled", "path", path)
		} else {
			notify.Close()
			return nil, err
		}
	}
	return watcher, nil
}

// Run applies the flag file on every change until ctx is cancelled.
// A reload that fails (half-written or deleted file) keeps the last
// applied values; the next successful load wins. Always returns nil
// after cleanup — watcher failure modes are logged, not fatal, since
// the bridge can keep serving with its current flags.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.notify.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.notify.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
				w.reload()
			case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
				w.logger.Info("flag file removed, keeping last applied flags", "path", w.path)
			}

		case err, ok := <-w.notify.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("flag file watch error", "error", err)
		}
	}
}

// reload re-applies the file, tolerating transient failures: saves are
// often a truncate-then-write pair, and the first half must not flap
// every gated feature to off.
func (w *Watcher) reload() {
	if err := Load(w.path, w.flags, w.logger); err != nil {
		w.logger.Warn("flag file reload failed, keeping last applied flags",
			"path", w.path,
			"error", err,
		)
	}
}
