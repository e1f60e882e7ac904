// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"
	"slices"
	"sync/atomic"
)

// FlagSet holds the feature flags that gate command visibility. The
// set of names is fixed at construction; values flip at runtime. Reads
// and writes are atomic per flag, so the tick loop reads flags while
// the flag-file watcher updates them without locking.
type FlagSet struct {
	flags map[string]*atomic.Bool
}

// NewFlagSet declares the known flags, all initially disabled.
func NewFlagSet(names ...string) *FlagSet {
	flags := make(map[string]*atomic.Bool, len(names))
	for _, name := range names {
		flags[name] = new(atomic.Bool)
	}
	return &FlagSet{flags: flags}
}

// Set updates a flag. Unknown names are an error so that typos in a
// flag file surface in logs instead of silently gating nothing.
func (f *FlagSet) Set(name string, enabled bool) error {
	flag, known := f.flags[name]
	if !known {
		return fmt.Errorf("unknown feature flag %q", name)
	}
	flag.Store(enabled)
	return nil
}

// Enabled reports whether the named flag is on. Unknown names report
// false: a command gated on an undeclared flag can never be reached.
func (f *FlagSet) Enabled(name string) bool {
	flag, known := f.flags[name]
	return known && flag.Load()
}

// Names returns the declared flag names in sorted order.
func (f *FlagSet) Names() []string {
	names := make([]string, 0, len(f.flags))
	for name := range f.flags {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Snapshot returns the current value of every flag. The map is a copy;
// mutating it does not affect the set.
func (f *FlagSet) Snapshot() map[string]bool {
	snapshot := make(map[string]bool, len(f.flags))
	for name, flag := range f.flags {
		snapshot[name] = flag.Load()
	}
	return snapshot
}
