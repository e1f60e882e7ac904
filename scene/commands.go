// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/atelier-foundation/atelier-bridge/command"
)

// sceneInfoObjectLimit caps how many objects get_scene_info lists. The
// full count is still reported in object_count; the listing is a
// preview, not an inventory.
const sceneInfoObjectLimit = 10

// Bounds accepted for capture_viewport's max_size parameter.
const (
	minCaptureSize = 16
	maxCaptureSize = 8192
)

// importableExtensions whitelists model files import_model_from_path
// accepts, keyed by lowercased extension including the dot.
var importableExtensions = map[string]bool{
	".obj":   true,
	".fbx":   true,
	".glb":   true,
	".gltf":  true,
	".blend": true,
}

// Commands exposes the always-available scene commands. Handlers run on
// the tick goroutine, so they touch the engine and capture store
// without synchronization.
type Commands struct {
	engine         *Engine
	captures       *CaptureStore
	captureMaxSize int
}

// RegisterCommands registers the base scene command set: get_scene_info,
// get_object_info, get_mesh_details, import_model_from_path, and
// capture_viewport. None are feature gated. captureMaxSize is the
// default longest-side pixel bound when capture_viewport omits
// max_size.
func RegisterCommands(registry *command.Registry, engine *Engine, captures *CaptureStore, captureMaxSize int) {
	c := &Commands{
		engine:         engine,
		captures:       captures,
		captureMaxSize: captureMaxSize,
	}
	registry.Register(command.Entry{Name: "get_scene_info", Handler: c.getSceneInfo})
	registry.Register(command.Entry{Name: "get_object_info", Handler: c.getObjectInfo})
	registry.Register(command.Entry{Name: "get_mesh_details", Handler: c.getMeshDetails})
	registry.Register(command.Entry{Name: "import_model_from_path", Handler: c.importModelFromPath})
	registry.Register(command.Entry{Name: "capture_viewport", Handler: c.captureViewport})
}

type sceneInfo struct {
	Name           string            `json:"name"`
	ObjectCount    int               `json:"object_count"`
	Objects        []sceneObjectInfo `json:"objects"`
	MaterialsCount int               `json:"materials_count"`
}

type sceneObjectInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Location Vec3   `json:"location"`
}

func (c *Commands) getSceneInfo(ctx context.Context, params json.RawMessage) (any, error) {
	if err := command.DecodeParams(params, &struct{}{}); err != nil {
		return nil, err
	}

	objects := c.engine.Objects()
	info := sceneInfo{
		Name:           c.engine.Name(),
		ObjectCount:    len(objects),
		Objects:        make([]sceneObjectInfo, 0, min(len(objects), sceneInfoObjectLimit)),
		MaterialsCount: c.engine.MaterialCount(),
	}
	for _, object := range objects {
		if len(info.Objects) >= sceneInfoObjectLimit {
			break
		}
		info.Objects = append(info.Objects, sceneObjectInfo{
			Name:     object.Name,
			Type:     object.Type,
			Location: roundVec(object.Location),
		})
	}
	return info, nil
}

type objectInfo struct {
	Name             string    `json:"name"`
	Type             string    `json:"type"`
	Location         Vec3      `json:"location"`
	Rotation         Vec3      `json:"rotation"`
	Scale            Vec3      `json:"scale"`
	Visible          bool      `json:"visible"`
	Materials        []string  `json:"materials"`
	WorldBoundingBox *[2]Vec3  `json:"world_bounding_box,omitempty"`
	Mesh             *meshInfo `json:"mesh,omitempty"`
}

type meshInfo struct {
	Vertices int `json:"vertices"`
	Edges    int `json:"edges"`
	Polygons int `json:"polygons"`
}

func (c *Commands) getObjectInfo(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Name string `json:"name"`
	}
	if err := command.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, errors.New("missing required parameter: name")
	}

	object, exists := c.engine.Object(p.Name)
	if !exists {
		return nil, fmt.Errorf("Object not found: %s", p.Name)
	}

	info := objectInfo{
		Name:      object.Name,
		Type:      object.Type,
		Location:  object.Location,
		Rotation:  object.Rotation,
		Scale:     object.Scale,
		Visible:   object.Visible,
		Materials: append([]string{}, object.Materials...),
	}
	if object.Type == TypeMesh && object.Mesh != nil {
		if box, err := object.WorldBoundingBox(); err == nil {
			info.WorldBoundingBox = &box
		}
		info.Mesh = &meshInfo{
			Vertices: object.Mesh.Vertices,
			Edges:    object.Mesh.Edges,
			Polygons: object.Mesh.Polygons,
		}
	}
	return info, nil
}

type meshDetails struct {
	Name      string   `json:"name"`
	Vertices  int      `json:"vertices"`
	Faces     int      `json:"faces"`
	Modifiers []string `json:"modifiers"`
}

func (c *Commands) getMeshDetails(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Name string `json:"name"`
	}
	if err := command.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, errors.New("missing required parameter: name")
	}

	object, exists := c.engine.Object(p.Name)
	if !exists {
		return nil, fmt.Errorf("Object not found: %s", p.Name)
	}
	if object.Type != TypeMesh || object.Mesh == nil {
		return nil, fmt.Errorf("Object '%s' is not a mesh (type: %s)", p.Name, object.Type)
	}

	details := meshDetails{
		Name:      object.Name,
		Vertices:  object.Mesh.Vertices,
		Faces:     object.Mesh.Polygons,
		Modifiers: make([]string, 0, len(object.Modifiers)),
	}
	for _, modifier := range object.Modifiers {
		details.Modifiers = append(details.Modifiers, modifier.Name)
	}
	return details, nil
}

type importResult struct {
	ImportedFile string `json:"imported_file"`
	Type         string `json:"type"`
}

func (c *Commands) importModelFromPath(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Path string `json:"path"`
	}
	if err := command.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, errors.New("missing required parameter: path")
	}

	if _, err := os.Stat(p.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("File does not exist: %s", p.Path)
		}
		return nil, fmt.Errorf("checking %s: %w", p.Path, err)
	}

	extension := strings.ToLower(filepath.Ext(p.Path))
	if !importableExtensions[extension] {
		return nil, fmt.Errorf("Unsupported file extension: %s", extension)
	}

	c.engine.ImportModel(p.Path)
	return importResult{ImportedFile: p.Path, Type: extension}, nil
}

type captureResult struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (c *Commands) captureViewport(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		MaxSize *int `json:"max_size"`
	}
	if err := command.DecodeParams(params, &p); err != nil {
		return nil, err
	}

	size := c.captureMaxSize
	if p.MaxSize != nil {
		size = *p.MaxSize
		if size < minCaptureSize || size > maxCaptureSize {
			return nil, fmt.Errorf("max_size must be between %d and %d", minCaptureSize, maxCaptureSize)
		}
	}

	record, err := c.captures.Capture(c.engine, size)
	if err != nil {
		return nil, err
	}
	return captureResult{
		ID:     record.ID,
		Path:   record.Path,
		Width:  record.Width,
		Height: record.Height,
	}, nil
}

// roundVec rounds each component to two decimal places, the precision
// the scene summary reports locations at.
func roundVec(v Vec3) Vec3 {
	return Vec3{
		math.Round(v[0]*100) / 100,
		math.Round(v[1]*100) / 100,
		math.Round(v[2]*100) / 100,
	}
}
