// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package script

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/atelier-foundation/atelier-bridge/command"
)

type executeResult struct {
	Executed bool   `json:"executed"`
	Result   string `json:"result"`
}

// RegisterCommands registers execute_code. It is part of the base
// command set: scripting is the escape hatch the rest of the protocol
// is measured against, so it is never feature gated.
func RegisterCommands(registry *command.Registry, runner *Runner) {
	registry.Register(command.Entry{Name: "execute_code", Handler: runner.executeCode})
}

func (r *Runner) executeCode(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Code string `json:"code"`
	}
	if err := command.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Code == "" {
		return nil, errors.New("missing required parameter: code")
	}

	output, err := r.Execute(ctx, p.Code)
	if err != nil {
		return nil, err
	}
	return executeResult{Executed: true, Result: output}, nil
}
