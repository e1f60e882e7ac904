// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package script runs Go snippets against the live scene in an embedded
// yaegi interpreter.
//
// Each execution gets a fresh interpreter: variables do not persist
// between snippets, and a snippet that leaves the interpreter in a bad
// state poisons nothing. The snippet is evaluated as statements (REPL
// form, not a package main program) with fmt, math, strings, and the
// scene API pre-imported; whatever it prints is captured and returned
// as the result, capped at 1 MiB.
//
// Execution runs on the tick goroutine and blocks it, exactly like
// every other command — a snippet mutating the scene needs the same
// single-writer guarantee the handlers get. Interpretation is abandoned
// when the context expires; the interpreter is cancelled at its next
// statement boundary, so a snippet stuck in a host call can outlive the
// command that started it by that call's duration.
package script

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/atelier-foundation/atelier-bridge/scene"
)

// DefaultTimeout bounds a single snippet when the caller's context has
// no earlier deadline.
const DefaultTimeout = 30 * time.Second

// maxScriptOutput caps captured snippet output. Anything beyond it is
// discarded and the result gains a truncation marker.
const maxScriptOutput = 1 << 20

const prelude = `import (
	"fmt"
	"math"
	"strings"

	"scene"
)`

// Runner executes snippets against one engine.
type Runner struct {
	engine  *scene.Engine
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner returns a Runner for the given engine. A timeout of 0 means
// DefaultTimeout; a nil logger discards.
func NewRunner(engine *scene.Engine, timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{engine: engine, timeout: timeout, logger: logger}
}

// Execute runs one snippet and returns its captured output. The error
// carries the interpreter's position-annotated message when the snippet
// fails to evaluate, and the panic value when it panics.
func (r *Runner) Execute(ctx context.Context, code string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	output := &boundedBuffer{limit: maxScriptOutput}
	interpreter := interp.New(interp.Options{Stdout: output, Stderr: output})
	if err := interpreter.Use(stdlib.Symbols); err != nil {
		return "", fmt.Errorf("loading interpreter stdlib: %w", err)
	}
	if err := interpreter.Use(sceneExports(r.engine)); err != nil {
		return "", fmt.Errorf("loading scene bindings: %w", err)
	}
	if _, err := interpreter.Eval(prelude); err != nil {
		return "", fmt.Errorf("loading interpreter prelude: %w", err)
	}

	started := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- fmt.Errorf("script panicked: %v", recovered)
			}
		}()
		_, err := interpreter.EvalWithContext(ctx, code)
		done <- err
	}()

	select {
	case err := <-done:
		duration := time.Since(started)
		if err != nil {
			r.logger.Debug("script failed", "duration", duration, "error", err)
			return "", fmt.Errorf("script error: %w", err)
		}
		r.logger.Debug("script executed",
			"duration", duration, "output_bytes", output.Len())
		return output.String(), nil
	case <-ctx.Done():
		// The interpreter stops at its next statement; do not touch
		// the output buffer the zombie goroutine may still write.
		r.logger.Warn("script abandoned", "timeout", r.timeout)
		return "", fmt.Errorf("script abandoned: %w", ctx.Err())
	}
}

// boundedBuffer keeps the first limit bytes written and drops the rest,
// remembering that it did. Write never errors so fmt keeps printing
// into the void instead of surfacing a spurious failure to the snippet.
type boundedBuffer struct {
	buffer    bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buffer.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buffer.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buffer.Write(p)
}

func (b *boundedBuffer) Len() int { return b.buffer.Len() }

func (b *boundedBuffer) String() string {
	if b.truncated {
		return b.buffer.String() + "\n[output truncated]"
	}
	return b.buffer.String()
}
