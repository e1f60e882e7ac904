// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package script

import (
	"reflect"

	"github.com/traefik/yaegi/interp"

	"github.com/atelier-foundation/atelier-bridge/scene"
)

// sceneExports builds the symbol table snippets see as `import "scene"`.
// Engine methods are bound as package-level functions so snippets write
// scene.AddCube(...) rather than threading an engine value around; the
// method values close over the live engine.
func sceneExports(engine *scene.Engine) interp.Exports {
	return interp.Exports{
		"scene/scene": {
			// Types, exported in yaegi's nil-pointer convention.
			"Vec3":     reflect.ValueOf((*scene.Vec3)(nil)),
			"Object":   reflect.ValueOf((*scene.Object)(nil)),
			"Mesh":     reflect.ValueOf((*scene.Mesh)(nil)),
			"Modifier": reflect.ValueOf((*scene.Modifier)(nil)),
			"Material": reflect.ValueOf((*scene.Material)(nil)),

			"TypeMesh":   reflect.ValueOf(scene.TypeMesh),
			"TypeCamera": reflect.ValueOf(scene.TypeCamera),
			"TypeLight":  reflect.ValueOf(scene.TypeLight),
			"TypeEmpty":  reflect.ValueOf(scene.TypeEmpty),

			// Construction.
			"AddCube":     reflect.ValueOf(engine.AddCube),
			"AddSphere":   reflect.ValueOf(engine.AddSphere),
			"AddPlane":    reflect.ValueOf(engine.AddPlane),
			"AddCylinder": reflect.ValueOf(engine.AddCylinder),
			"AddObject":   reflect.ValueOf(engine.AddObject),

			// Mutation.
			"RemoveObject":    reflect.ValueOf(engine.RemoveObject),
			"TransformObject": reflect.ValueOf(engine.TransformObject),
			"AddModifier":     reflect.ValueOf(engine.AddModifier),
			"EnsureMaterial":  reflect.ValueOf(engine.EnsureMaterial),
			"AssignMaterial":  reflect.ValueOf(engine.AssignMaterial),

			// Inspection. GetObject is Engine.Object under a name that
			// does not collide with the Object type.
			"GetObject":     reflect.ValueOf(engine.Object),
			"Objects":       reflect.ValueOf(engine.Objects),
			"ObjectCount":   reflect.ValueOf(engine.ObjectCount),
			"MaterialCount": reflect.ValueOf(engine.MaterialCount),
			"SceneName":     reflect.ValueOf(engine.Name),
		},
	}
}
