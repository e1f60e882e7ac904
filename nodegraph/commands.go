// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package nodegraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atelier-foundation/atelier-bridge/command"
	"github.com/atelier-foundation/atelier-bridge/scene"
)

// FlagName gates the node-graph command set.
const FlagName = "use_node_graphs"

// CommandConfig wires the node-graph command set.
type CommandConfig struct {
	Engine *scene.Engine

	// Flags is consulted by get_node_graphs_status; the gated
	// commands themselves are flag-checked by the registry.
	Flags *command.FlagSet

	// FlagsPath, when set, lets the disabled status message point at
	// the actual flags file.
	FlagsPath string

	Logger *slog.Logger
}

// Commands holds the node-graph command handlers. Built graphs live
// in a registry keyed by setup name, shared across objects the way
// the host shares node groups between modifiers; handlers run on the
// tick goroutine, so the map needs no locking.
type Commands struct {
	engine    *scene.Engine
	flags     *command.FlagSet
	flagsPath string
	logger    *slog.Logger
	graphs    map[string]*Graph
}

// RegisterCommands registers the geometry node commands: setup
// creation and the type listing gated by the node-graph flag, and
// the always-available status query.
func RegisterCommands(registry *command.Registry, cfg CommandConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	commands := &Commands{
		engine:    cfg.Engine,
		flags:     cfg.Flags,
		flagsPath: cfg.FlagsPath,
		logger:    logger,
		graphs:    make(map[string]*Graph),
	}

	registry.Register(command.Entry{Name: "create_geometry_nodes_setup", Flag: FlagName, Handler: commands.createSetup})
	registry.Register(command.Entry{Name: "create_common_geometry_setup", Flag: FlagName, Handler: commands.commonSetup})
	registry.Register(command.Entry{Name: "list_geometry_node_types", Flag: FlagName, Handler: commands.listTypes})
	registry.Register(command.Entry{Name: "get_node_graphs_status", Handler: commands.status})
}

// applyGraph validates a setup and installs it on an object as a
// NODES modifier. The graph registers under its setup name; applying
// a setup with an existing name rebuilds that graph and updates the
// modifier in place.
func (c *Commands) applyGraph(objectName, setupName string, nodes []Node, links []Link) (*Graph, error) {
	object, exists := c.engine.Object(objectName)
	if !exists {
		return nil, fmt.Errorf("Object not found: %s", objectName)
	}
	if object.Type != scene.TypeMesh {
		return nil, fmt.Errorf("Object %s cannot accept modifiers", objectName)
	}

	graph, err := Build(setupName, nodes, links)
	if err != nil {
		return nil, err
	}

	c.graphs[graph.Name] = graph
	if err := c.engine.SetModifier(objectName, scene.Modifier{
		Name:  graph.Name,
		Type:  "NODES",
		Graph: graph.Name,
	}); err != nil {
		return nil, err
	}

	c.logger.Info("node graph applied",
		"object", objectName,
		"setup", graph.Name,
		"nodes", len(graph.Nodes),
		"links", len(graph.Links),
	)
	return graph, nil
}

type setupResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Modifier  string `json:"modifier"`
	SetupType string `json:"setup_type,omitempty"`
	NodeCount int    `json:"node_count"`
}

type createSetupParams struct {
	ObjectName string `json:"object_name"`
	SetupName  string `json:"setup_name"`
	Nodes      []Node `json:"nodes"`
	Links      []Link `json:"links"`
}

func (c *Commands) createSetup(ctx context.Context, params json.RawMessage) (any, error) {
	var p createSetupParams
	if err := command.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ObjectName == "" {
		return nil, errors.New("missing required parameter: object_name")
	}

	graph, err := c.applyGraph(p.ObjectName, p.SetupName, p.Nodes, p.Links)
	if err != nil {
		return nil, err
	}
	return setupResult{
		Success:   true,
		Message:   fmt.Sprintf("Geometry nodes setup %s applied to %s", graph.Name, p.ObjectName),
		Modifier:  graph.Name,
		NodeCount: graph.NodeCount(),
	}, nil
}

type commonSetupParams struct {
	ObjectName string         `json:"object_name"`
	SetupType  string         `json:"setup_type"`
	Params     map[string]any `json:"params"`
}

func (c *Commands) commonSetup(ctx context.Context, params json.RawMessage) (any, error) {
	var p commonSetupParams
	if err := command.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ObjectName == "" {
		return nil, errors.New("missing required parameter: object_name")
	}
	if p.SetupType == "" {
		return nil, errors.New("missing required parameter: setup_type")
	}

	nodes, links, err := expandPreset(p.SetupType, p.Params)
	if err != nil {
		return nil, err
	}

	setupName := "GN_" + strings.ToUpper(p.SetupType[:1]) + p.SetupType[1:]
	graph, err := c.applyGraph(p.ObjectName, setupName, nodes, links)
	if err != nil {
		return nil, err
	}
	return setupResult{
		Success:   true,
		Message:   fmt.Sprintf("Geometry nodes setup %s applied to %s", graph.Name, p.ObjectName),
		Modifier:  graph.Name,
		SetupType: p.SetupType,
		NodeCount: graph.NodeCount(),
	}, nil
}

type listTypesResult struct {
	NodeTypes map[string]string `json:"node_types"`
	Count     int               `json:"count"`
}

func (c *Commands) listTypes(ctx context.Context, params json.RawMessage) (any, error) {
	types := Catalog()
	return listTypesResult{NodeTypes: types, Count: len(types)}, nil
}

type statusResult struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

func (c *Commands) status(ctx context.Context, params json.RawMessage) (any, error) {
	if c.flags.Enabled(FlagName) {
		return statusResult{
			Enabled: true,
			Message: "Geometry node graph support is enabled and ready to use.",
		}, nil
	}

	flagsFile := "the feature flags file"
	if c.flagsPath != "" {
		flagsFile = c.flagsPath
	}
	return statusResult{
		Enabled: false,
		Message: fmt.Sprintf(
			"Geometry node graph support is currently disabled. To enable it, set %q to true in %s; the bridge picks up the change without a restart.",
			FlagName, flagsFile),
	}, nil
}
