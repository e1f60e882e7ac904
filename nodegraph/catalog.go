// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package nodegraph

import (
	"fmt"
	"maps"
	"strings"
)

// catalog maps friendly node names to engine node type names. The
// friendly names are what callers write in setups; the engine names
// are the host's own identifiers.
var catalog = map[string]string{
	// Input nodes
	"input_position":       "GeometryNodeInputPosition",
	"input_normal":         "GeometryNodeInputNormal",
	"input_id":             "GeometryNodeInputID",
	"input_index":          "GeometryNodeInputIndex",
	"input_material_index": "GeometryNodeInputMaterialIndex",

	// Attribute nodes
	"attribute_statistic":   "GeometryNodeAttributeStatistic",
	"attribute_domain_size": "GeometryNodeAttributeDomainSize",

	// Mesh primitives
	"mesh_primitive_cube":     "GeometryNodeMeshCube",
	"mesh_primitive_cylinder": "GeometryNodeMeshCylinder",
	"mesh_primitive_sphere":   "GeometryNodeMeshIcoSphere",
	"mesh_primitive_grid":     "GeometryNodeMeshGrid",
	"mesh_primitive_circle":   "GeometryNodeMeshCircle",
	"mesh_primitive_line":     "GeometryNodeMeshLine",
	"mesh_primitive_cone":     "GeometryNodeMeshCone",

	// Mesh operations
	"mesh_boolean":     "GeometryNodeMeshBoolean",
	"mesh_to_points":   "GeometryNodeMeshToPoints",
	"mesh_to_curve":    "GeometryNodeMeshToCurve",
	"mesh_extrude":     "GeometryNodeExtrudeMesh",
	"mesh_subdivide":   "GeometryNodeSubdivideMesh",
	"mesh_triangulate": "GeometryNodeTriangulateMesh",

	// Point operations
	"points_to_vertices": "GeometryNodePointsToVertices",
	"points_to_volume":   "GeometryNodePointsToVolume",
	"distribute_points":  "GeometryNodeDistributePointsOnFaces",

	// Curve operations
	"curve_primitive_line":   "GeometryNodeCurvePrimitiveLine",
	"curve_primitive_circle": "GeometryNodeCurvePrimitiveCircle",
	"curve_to_mesh":          "GeometryNodeCurveToMesh",
	"curve_to_points":        "GeometryNodeCurveToPoints",
	"curve_length":           "GeometryNodeCurveLength",

	// Instances
	"instance_on_points": "GeometryNodeInstanceOnPoints",
	"realize_instances":  "GeometryNodeRealizeInstances",

	// Transforms
	"transform":          "GeometryNodeTransform",
	"transform_geometry": "GeometryNodeTransform",
	"set_position":       "GeometryNodeSetPosition",

	// Materials
	"set_material":       "GeometryNodeSetMaterial",
	"material_selection": "GeometryNodeMaterialSelection",

	// Utilities
	"math":          "ShaderNodeMath",
	"vector_math":   "ShaderNodeVectorMath",
	"boolean_math":  "FunctionNodeBooleanMath",
	"combine_xyz":   "ShaderNodeCombineXYZ",
	"separate_xyz":  "ShaderNodeSeparateXYZ",
	"map_range":     "ShaderNodeMapRange",
	"noise_texture": "ShaderNodeTexNoise",

	// Geometry operations
	"join_geometry":     "GeometryNodeJoinGeometry",
	"separate_geometry": "GeometryNodeSeparateGeometry",

	// Group nodes
	"group_input":  "NodeGroupInput",
	"group_output": "NodeGroupOutput",
}

// engineTypePrefixes are the engine's node type namespaces. A type
// written with one of these prefixes bypasses the catalog, so setups
// can use nodes the friendly list does not cover.
var engineTypePrefixes = []string{
	"GeometryNode",
	"ShaderNode",
	"FunctionNode",
}

// Catalog returns a copy of the friendly-name catalog.
func Catalog() map[string]string {
	return maps.Clone(catalog)
}

// resolveNodeType maps a setup's node type to an engine type name.
// Friendly names resolve through the catalog; engine type names pass
// through. Anything else is an error.
func resolveNodeType(nodeType string) (string, error) {
	if engineName, known := catalog[nodeType]; known {
		return engineName, nil
	}
	if nodeType == "NodeGroupInput" || nodeType == "NodeGroupOutput" {
		return nodeType, nil
	}
	for _, prefix := range engineTypePrefixes {
		if strings.HasPrefix(nodeType, prefix) && len(nodeType) > len(prefix) {
			return nodeType, nil
		}
	}
	return "", fmt.Errorf("unknown node type: %s", nodeType)
}
