// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package meshgen generates 3D models through the Hyper3D Rodin API
// and imports the results into the scene.
//
// Rodin is served by two providers with different wire contracts: the
// main site (hyperhuman.deemos.com, multipart uploads, Bearer auth)
// and fal.ai (queue.fal.run, JSON, Key auth). A Client speaks one of
// the two, selected at construction; command parameters and results
// keep the provider's own shapes so a caller can follow the provider
// documentation directly.
//
// Generation is asynchronous: create_rodin_job starts a job,
// poll_rodin_job_status watches it, and import_generated_asset
// downloads the finished mesh through the asset cache and registers
// it as a scene object. The import reports success or failure inside
// its result body (a succeed field) rather than as a command error,
// matching the contract generation-aware clients already handle.
//
// The API key is held in guarded memory for the daemon's lifetime and
// never written to logs. A published free-trial key exists for
// evaluation; get_hyper3d_status reports which kind is configured.
package meshgen
