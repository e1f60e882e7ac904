// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"fmt"
	"math"
)

// Object types, matching the host's naming.
const (
	TypeMesh   = "MESH"
	TypeCamera = "CAMERA"
	TypeLight  = "LIGHT"
	TypeEmpty  = "EMPTY"
)

// Vec3 is a point or direction in scene space. It marshals to a JSON
// array of three numbers, which is the wire shape every command uses
// for locations, rotations, and scales.
type Vec3 [3]float64

// Object is a single entry in the scene graph. Rotation is an XYZ Euler
// in radians; Scale multiplies the local bounds before rotation, the
// same order the host applies when building an object's world matrix.
type Object struct {
	Name      string
	Type      string
	Location  Vec3
	Rotation  Vec3
	Scale     Vec3
	Visible   bool
	Materials []string
	Modifiers []Modifier

	// Mesh carries geometry counts and local bounds. Nil for every
	// non-mesh type.
	Mesh *Mesh
}

// Mesh summarizes an object's geometry. The bridge never stores real
// vertex data; counts and an axis-aligned local bound are all the
// protocol ever reports.
type Mesh struct {
	Vertices int
	Edges    int
	Polygons int

	// BoundMin and BoundMax are the corners of the local-space
	// bounding box, before the object's transform is applied.
	BoundMin Vec3
	BoundMax Vec3
}

// Modifier is one entry in an object's modifier stack. Graph names the
// node graph driving the modifier and is empty for every type other
// than "NODES".
type Modifier struct {
	Name  string
	Type  string
	Graph string
}

// WorldBoundingBox returns the world-space axis-aligned bounding box of
// a mesh object as its minimum and maximum corners. The box is computed
// by transforming all eight local bound corners through scale, rotation,
// and translation, then taking the per-axis extrema, so it stays correct
// for rotated objects where transforming just two corners would not.
//
// Returns an error for non-mesh objects.
func (o *Object) WorldBoundingBox() ([2]Vec3, error) {
	if o.Type != TypeMesh || o.Mesh == nil {
		return [2]Vec3{}, fmt.Errorf("object %s has no mesh bounds", o.Name)
	}

	rotation := eulerXYZMatrix(o.Rotation)

	minimum := Vec3{math.Inf(1), math.Inf(1), math.Inf(1)}
	maximum := Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)}

	bounds := [2]Vec3{o.Mesh.BoundMin, o.Mesh.BoundMax}
	for xi := 0; xi < 2; xi++ {
		for yi := 0; yi < 2; yi++ {
			for zi := 0; zi < 2; zi++ {
				corner := Vec3{
					bounds[xi][0] * o.Scale[0],
					bounds[yi][1] * o.Scale[1],
					bounds[zi][2] * o.Scale[2],
				}
				world := rotation.apply(corner)
				for axis := 0; axis < 3; axis++ {
					world[axis] += o.Location[axis]
					minimum[axis] = math.Min(minimum[axis], world[axis])
					maximum[axis] = math.Max(maximum[axis], world[axis])
				}
			}
		}
	}

	return [2]Vec3{minimum, maximum}, nil
}

// matrix3 is a row-major 3x3 rotation matrix.
type matrix3 [3][3]float64

func (m matrix3) apply(v Vec3) Vec3 {
	return Vec3{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

// eulerXYZMatrix builds the rotation matrix for an XYZ Euler (the host's
// default rotation mode): rotate about X, then Y, then Z, which as a
// matrix product is Rz·Ry·Rx.
func eulerXYZMatrix(rotation Vec3) matrix3 {
	sx, cx := math.Sincos(rotation[0])
	sy, cy := math.Sincos(rotation[1])
	sz, cz := math.Sincos(rotation[2])

	return matrix3{
		{cz * cy, cz*sy*sx - sz*cx, cz*sy*cx + sz*sx},
		{sz * cy, sz*sy*sx + cz*cx, sz*sy*cx - cz*sx},
		{-sy, cy * sx, cy * cx},
	}
}
