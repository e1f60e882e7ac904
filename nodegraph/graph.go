// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package nodegraph

import (
	"errors"
	"fmt"
)

// Node is one node in a setup. Type is a catalog name or an engine
// type name; Build resolves it. Params are free-form node settings
// recorded on the node (operation, radius, seed, ...).
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Name     string         `json:"name,omitempty"`
	Location []float64      `json:"location,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// Link connects an output socket of one node to an input socket of
// another.
type Link struct {
	FromNode   string `json:"from_node"`
	FromSocket string `json:"from_socket"`
	ToNode     string `json:"to_node"`
	ToSocket   string `json:"to_socket"`
}

// Graph is a validated node graph. Node types are resolved to engine
// names and every link endpoint is known to exist.
type Graph struct {
	Name  string
	Nodes []Node
	Links []Link
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int { return len(g.Nodes) }

// Build validates a setup and returns the graph. Nodes without an id
// are numbered by position; nodes without a display name take their
// id. An empty name falls back to "GeometryNodes".
//
// Validation rejects the whole setup on the first problem: a missing
// or unknown node type, a duplicate id, a malformed location, or a
// link with a missing field or an endpoint that names no declared
// node.
func Build(name string, nodes []Node, links []Link) (*Graph, error) {
	if name == "" {
		name = "GeometryNodes"
	}
	if len(nodes) == 0 {
		return nil, errors.New("a node graph needs at least one node")
	}

	graph := &Graph{
		Name:  name,
		Nodes: make([]Node, len(nodes)),
		Links: make([]Link, len(links)),
	}

	declared := make(map[string]bool, len(nodes))
	for i, node := range nodes {
		if node.ID == "" {
			node.ID = fmt.Sprintf("node_%d", i)
		}
		if declared[node.ID] {
			return nil, fmt.Errorf("duplicate node id: %s", node.ID)
		}
		declared[node.ID] = true

		if node.Type == "" {
			return nil, fmt.Errorf("node %s has no type", node.ID)
		}
		engineType, err := resolveNodeType(node.Type)
		if err != nil {
			return nil, err
		}
		node.Type = engineType

		if node.Name == "" {
			node.Name = node.ID
		}
		switch len(node.Location) {
		case 0:
			node.Location = []float64{0, 0}
		case 2:
		default:
			return nil, fmt.Errorf("node %s location must be [x, y], got %d values", node.ID, len(node.Location))
		}

		graph.Nodes[i] = node
	}

	for i, link := range links {
		if link.FromNode == "" || link.FromSocket == "" || link.ToNode == "" || link.ToSocket == "" {
			return nil, fmt.Errorf("link %d is incomplete: all of from_node, from_socket, to_node, to_socket are required", i)
		}
		if !declared[link.FromNode] {
			return nil, fmt.Errorf("link %d references unknown node: %s", i, link.FromNode)
		}
		if !declared[link.ToNode] {
			return nil, fmt.Errorf("link %d references unknown node: %s", i, link.ToNode)
		}
		graph.Links[i] = link
	}

	return graph, nil
}
