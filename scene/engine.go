// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Engine holds the scene graph. All methods must run on the tick
// goroutine; the engine carries no locks because the scheduler already
// guarantees a single writer.
//
// Objects and materials keep insertion order so listings are stable
// across calls — a client that asks twice sees the same first ten
// objects, not a map-iteration shuffle.
type Engine struct {
	name          string
	objects       map[string]*Object
	objectOrder   []string
	materials     map[string]*Material
	materialOrder []string
	images        map[string]*Image
	imageOrder    []string

	// environment names the image lighting the world background, or ""
	// when none is set.
	environment string
}

// Material is a named surface definition. Maps associates texture map
// types ("diffuse", "rough", "nor", ...) with registered image names
// for materials built from downloaded texture sets.
type Material struct {
	Name      string
	BaseColor [4]float64
	Maps      map[string]string
}

// Image is a registered image datablock: a texture map or environment
// map the scene references by name. Source records where the bytes
// came from; the pixels themselves stay in the asset cache.
type Image struct {
	Name   string
	Source string
	Size   int
}

// NewEngine returns an empty scene with the given name.
func NewEngine(name string) *Engine {
	if name == "" {
		name = "Scene"
	}
	return &Engine{
		name:      name,
		objects:   make(map[string]*Object),
		materials: make(map[string]*Material),
		images:    make(map[string]*Image),
	}
}

// NewDefault returns a scene seeded the way the host starts up: a unit
// camera and light, and a 2-unit cube at the origin carrying the default
// material. Tests and the daemon both start from this so a fresh bridge
// answers get_scene_info with familiar content.
func NewDefault() *Engine {
	engine := NewEngine("Scene")

	engine.AddObject(&Object{
		Name:     "Camera",
		Type:     TypeCamera,
		Location: Vec3{7.36, -6.93, 4.96},
		Rotation: Vec3{1.1093, 0, 0.8149},
		Scale:    Vec3{1, 1, 1},
		Visible:  true,
	})
	cube := engine.AddCube("Cube", 2, Vec3{0, 0, 0})
	engine.AddObject(&Object{
		Name:     "Light",
		Type:     TypeLight,
		Location: Vec3{4.08, 1.01, 5.9},
		Scale:    Vec3{1, 1, 1},
		Visible:  true,
	})

	engine.EnsureMaterial("Material")
	engine.AssignMaterial(cube.Name, "Material")

	return engine
}

// Name returns the scene name.
func (e *Engine) Name() string { return e.name }

// ObjectCount returns the number of objects in the scene.
func (e *Engine) ObjectCount() int { return len(e.objects) }

// Objects returns every object in insertion order. Callers must not
// hold the slice across engine mutations.
func (e *Engine) Objects() []*Object {
	listed := make([]*Object, 0, len(e.objectOrder))
	for _, name := range e.objectOrder {
		listed = append(listed, e.objects[name])
	}
	return listed
}

// Object looks up an object by name.
func (e *Engine) Object(name string) (*Object, bool) {
	object, exists := e.objects[name]
	return object, exists
}

// AddObject inserts an object into the scene. When the requested name is
// empty or already taken, the object is renamed with the host's numeric
// suffix convention ("Cube", "Cube.001", "Cube.002", ...). A zero scale
// is normalized to identity so a literal Object{} behaves sensibly. The
// stored object (with its final name) is returned.
func (e *Engine) AddObject(object *Object) *Object {
	if object.Scale == (Vec3{}) {
		object.Scale = Vec3{1, 1, 1}
	}
	object.Name = e.uniqueName(object.Name)
	e.objects[object.Name] = object
	e.objectOrder = append(e.objectOrder, object.Name)
	return object
}

// RemoveObject deletes an object by name. Returns false when no object
// has that name. Materials stay registered; only the object goes.
func (e *Engine) RemoveObject(name string) bool {
	if _, exists := e.objects[name]; !exists {
		return false
	}
	delete(e.objects, name)
	for i, ordered := range e.objectOrder {
		if ordered == name {
			e.objectOrder = append(e.objectOrder[:i], e.objectOrder[i+1:]...)
			break
		}
	}
	return true
}

// TransformObject updates an object's location, rotation, and scale.
// Nil components are left unchanged, so callers can move an object
// without resetting its rotation.
func (e *Engine) TransformObject(name string, location, rotation, scale *Vec3) error {
	object, exists := e.objects[name]
	if !exists {
		return fmt.Errorf("Object not found: %s", name)
	}
	if location != nil {
		object.Location = *location
	}
	if rotation != nil {
		object.Rotation = *rotation
	}
	if scale != nil {
		object.Scale = *scale
	}
	return nil
}

// AddModifier appends a modifier to an object's stack.
func (e *Engine) AddModifier(objectName string, modifier Modifier) error {
	object, exists := e.objects[objectName]
	if !exists {
		return fmt.Errorf("Object not found: %s", objectName)
	}
	object.Modifiers = append(object.Modifiers, modifier)
	return nil
}

// SetModifier replaces the named modifier on an object, or appends it
// when no modifier of that name exists. Reapplying a node-graph setup
// updates the modifier in place instead of stacking a duplicate.
func (e *Engine) SetModifier(objectName string, modifier Modifier) error {
	object, exists := e.objects[objectName]
	if !exists {
		return fmt.Errorf("Object not found: %s", objectName)
	}
	for i := range object.Modifiers {
		if object.Modifiers[i].Name == modifier.Name {
			object.Modifiers[i] = modifier
			return nil
		}
	}
	object.Modifiers = append(object.Modifiers, modifier)
	return nil
}

// MaterialCount returns the number of materials registered in the scene.
func (e *Engine) MaterialCount() int { return len(e.materials) }

// Materials returns every material in insertion order.
func (e *Engine) Materials() []*Material {
	listed := make([]*Material, 0, len(e.materialOrder))
	for _, name := range e.materialOrder {
		listed = append(listed, e.materials[name])
	}
	return listed
}

// Material looks up a material by name.
func (e *Engine) Material(name string) (*Material, bool) {
	material, exists := e.materials[name]
	return material, exists
}

// EnsureMaterial returns the named material, creating a plain gray one
// when it does not exist yet.
func (e *Engine) EnsureMaterial(name string) *Material {
	if material, exists := e.materials[name]; exists {
		return material
	}
	material := &Material{
		Name:      name,
		BaseColor: [4]float64{0.8, 0.8, 0.8, 1},
	}
	e.materials[name] = material
	e.materialOrder = append(e.materialOrder, name)
	return material
}

// AssignMaterial appends a registered material to an object's slot
// list. Assigning a material the object already carries is a no-op.
func (e *Engine) AssignMaterial(objectName, materialName string) error {
	object, exists := e.objects[objectName]
	if !exists {
		return fmt.Errorf("Object not found: %s", objectName)
	}
	if _, exists := e.materials[materialName]; !exists {
		return fmt.Errorf("material not found: %s", materialName)
	}
	for _, assigned := range object.Materials {
		if assigned == materialName {
			return nil
		}
	}
	object.Materials = append(object.Materials, materialName)
	return nil
}

// ClearObjectMaterials empties an object's material slots. The
// materials stay registered in the scene.
func (e *Engine) ClearObjectMaterials(objectName string) error {
	object, exists := e.objects[objectName]
	if !exists {
		return fmt.Errorf("Object not found: %s", objectName)
	}
	object.Materials = nil
	return nil
}

// AddImage registers an image datablock. Re-registering an existing
// name refreshes its source and size in place, the way reloading an
// image refreshes its pixels without minting a new datablock.
func (e *Engine) AddImage(name, source string, size int) *Image {
	if image, exists := e.images[name]; exists {
		image.Source = source
		image.Size = size
		return image
	}
	image := &Image{Name: name, Source: source, Size: size}
	e.images[name] = image
	e.imageOrder = append(e.imageOrder, name)
	return image
}

// Images returns every registered image in insertion order.
func (e *Engine) Images() []*Image {
	listed := make([]*Image, 0, len(e.imageOrder))
	for _, name := range e.imageOrder {
		listed = append(listed, e.images[name])
	}
	return listed
}

// Image looks up an image by name.
func (e *Engine) Image(name string) (*Image, bool) {
	image, exists := e.images[name]
	return image, exists
}

// SetEnvironment points the world background at a registered
// environment image.
func (e *Engine) SetEnvironment(imageName string) error {
	if _, exists := e.images[imageName]; !exists {
		return fmt.Errorf("image not found: %s", imageName)
	}
	e.environment = imageName
	return nil
}

// Environment returns the name of the image lighting the world
// background, or "" when none is set.
func (e *Engine) Environment() string { return e.environment }

// AddCube adds a cube mesh with the given edge length, centered on
// location. An empty name defaults to "Cube".
func (e *Engine) AddCube(name string, size float64, location Vec3) *Object {
	if name == "" {
		name = "Cube"
	}
	half := size / 2
	return e.AddObject(&Object{
		Name:     name,
		Type:     TypeMesh,
		Location: location,
		Scale:    Vec3{1, 1, 1},
		Visible:  true,
		Mesh: &Mesh{
			Vertices: 8,
			Edges:    12,
			Polygons: 6,
			BoundMin: Vec3{-half, -half, -half},
			BoundMax: Vec3{half, half, half},
		},
	})
}

// AddPlane adds a single-face square mesh in the XY plane.
func (e *Engine) AddPlane(name string, size float64, location Vec3) *Object {
	if name == "" {
		name = "Plane"
	}
	half := size / 2
	return e.AddObject(&Object{
		Name:     name,
		Type:     TypeMesh,
		Location: location,
		Scale:    Vec3{1, 1, 1},
		Visible:  true,
		Mesh: &Mesh{
			Vertices: 4,
			Edges:    4,
			Polygons: 1,
			BoundMin: Vec3{-half, -half, 0},
			BoundMax: Vec3{half, half, 0},
		},
	})
}

// AddSphere adds a UV sphere. Counts follow the host's topology: with s
// segments and r rings the sphere has s·(r-1)+2 vertices and s·r faces
// (a quad band per interior ring plus two triangle fans at the poles);
// edges fall out of the Euler characteristic. Segments clamp to at
// least 3, rings to at least 2.
func (e *Engine) AddSphere(name string, radius float64, segments, rings int, location Vec3) *Object {
	if name == "" {
		name = "Sphere"
	}
	if segments < 3 {
		segments = 3
	}
	if rings < 2 {
		rings = 2
	}
	vertices := segments*(rings-1) + 2
	polygons := segments * rings
	return e.AddObject(&Object{
		Name:     name,
		Type:     TypeMesh,
		Location: location,
		Scale:    Vec3{1, 1, 1},
		Visible:  true,
		Mesh: &Mesh{
			Vertices: vertices,
			Edges:    vertices + polygons - 2,
			Polygons: polygons,
			BoundMin: Vec3{-radius, -radius, -radius},
			BoundMax: Vec3{radius, radius, radius},
		},
	})
}

// AddCylinder adds a capped cylinder with the given number of side
// vertices (clamped to at least 3), centered on location.
func (e *Engine) AddCylinder(name string, radius, depth float64, sideVertices int, location Vec3) *Object {
	if name == "" {
		name = "Cylinder"
	}
	if sideVertices < 3 {
		sideVertices = 3
	}
	halfDepth := depth / 2
	return e.AddObject(&Object{
		Name:     name,
		Type:     TypeMesh,
		Location: location,
		Scale:    Vec3{1, 1, 1},
		Visible:  true,
		Mesh: &Mesh{
			Vertices: 2 * sideVertices,
			Edges:    3 * sideVertices,
			Polygons: sideVertices + 2,
			BoundMin: Vec3{-radius, -radius, -halfDepth},
			BoundMax: Vec3{radius, radius, halfDepth},
		},
	})
}

// ImportModel registers an object for a model file loaded from disk.
// The object is named after the file's base name.
func (e *Engine) ImportModel(path string) *Object {
	base := filepath.Base(path)
	return e.ImportMesh(strings.TrimSuffix(base, filepath.Ext(base)))
}

// ImportMesh registers a mesh object produced by an external importer
// run — a marketplace model download or a generated asset. The object
// sits at the origin with a unit-cube bound standing in for geometry
// the bridge never parses.
func (e *Engine) ImportMesh(name string) *Object {
	return e.AddObject(&Object{
		Name:    name,
		Type:    TypeMesh,
		Scale:   Vec3{1, 1, 1},
		Visible: true,
		Mesh: &Mesh{
			Vertices: 8,
			Edges:    12,
			Polygons: 6,
			BoundMin: Vec3{-0.5, -0.5, -0.5},
			BoundMax: Vec3{0.5, 0.5, 0.5},
		},
	})
}

// uniqueName resolves naming collisions the way the host does: the base
// name if free, otherwise the first free "base.NNN" suffix.
func (e *Engine) uniqueName(base string) string {
	if base == "" {
		base = "Object"
	}
	if _, taken := e.objects[base]; !taken {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s.%03d", base, i)
		if _, taken := e.objects[candidate]; !taken {
			return candidate
		}
	}
}
