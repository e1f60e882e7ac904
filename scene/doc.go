// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package scene models the host application's scene graph: named objects
// with transforms, mesh summaries, materials, and modifier stacks.
//
// The engine is deliberately lock-free. The host mutates its scene from a
// single main-loop goroutine, and the bridge preserves that contract: every
// engine method must be called from the tick goroutine (command handlers
// and script snippets already run there). Code that touches the engine from
// any other goroutine is a bug, not a supported mode.
//
// The package also provides the viewport capture store: a bounded history
// of top-down orthographic renders of the scene, persisted as PNG files
// with a CBOR index that is rewritten atomically after every change.
package scene
