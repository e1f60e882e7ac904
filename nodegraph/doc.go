// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package nodegraph builds geometry node graphs and applies them to
// scene objects as NODES modifiers.
//
// A graph arrives as a flat node list plus a link list. Node types
// are written either as catalog names (mesh_primitive_cube) that
// resolve to engine type names (GeometryNodeMeshCube), or as engine
// type names directly for nodes the catalog does not cover. Graphs
// are validated before anything touches the scene: an unknown type,
// a duplicate node id, or a link referencing a node that is not in
// the list rejects the whole setup.
//
// Built graphs register under their setup name the way the host
// treats node groups as shared datablocks: applying a setup with an
// existing name rebuilds that graph and updates the modifier in
// place rather than stacking a second copy.
//
// Common arrangements ship as presets: parameterized JSONC templates
// embedded in the binary and expanded through the same validation
// path as hand-written graphs.
package nodegraph
