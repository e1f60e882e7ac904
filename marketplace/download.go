// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/atelier-foundation/atelier-bridge/command"
)

// defaultResolution is used when a download names no resolution. Poly
// Haven serves every asset at 1k.
const defaultResolution = "1k"

// Default file formats per asset class.
const (
	defaultHDRIFormat    = "hdr"
	defaultTextureFormat = "jpg"
	defaultModelFormat   = "gltf"
)

// modelFormats are the model file formats the importer accepts.
var modelFormats = map[string]bool{
	"gltf":  true,
	"glb":   true,
	"fbx":   true,
	"obj":   true,
	"blend": true,
}

// textureSkipSections are /files sections that are not texture maps.
var textureSkipSections = map[string]bool{
	"blend": true,
	"gltf":  true,
}

type downloadParams struct {
	AssetID    string `json:"asset_id"`
	AssetType  string `json:"asset_type"`
	Resolution string `json:"resolution"`
	FileFormat string `json:"file_format"`
}

func (c *Commands) download(ctx context.Context, params json.RawMessage) (any, error) {
	p := downloadParams{Resolution: defaultResolution}
	if err := command.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.AssetID == "" {
		return nil, errors.New("missing required parameter: asset_id")
	}
	if p.AssetType == "" {
		return nil, errors.New("missing required parameter: asset_type")
	}

	catalog, err := c.client.Files(ctx, p.AssetID)
	if err != nil {
		return nil, err
	}

	switch p.AssetType {
	case "hdris":
		return c.downloadHDRI(ctx, p, catalog)
	case "textures":
		return c.downloadTexture(ctx, p, catalog)
	case "models":
		return c.downloadModel(ctx, p, catalog)
	default:
		return nil, fmt.Errorf("Unsupported asset type: %s", p.AssetType)
	}
}

type hdriResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ImageName string `json:"image_name"`
}

// downloadHDRI fetches an environment map and points the world
// background at it.
func (c *Commands) downloadHDRI(ctx context.Context, p downloadParams, catalog FileCatalog) (any, error) {
	format := p.FileFormat
	if format == "" {
		format = defaultHDRIFormat
	}

	ref, available := catalog.Variant("hdri", p.Resolution, format)
	if !available {
		return nil, errors.New("Requested resolution or format not available for this HDRI")
	}

	data, _, err := c.cache.Fetch(ctx, ref.URL)
	if err != nil {
		return nil, fmt.Errorf("Failed to download HDRI: %w", err)
	}

	imageName := fileNameFromURL(ref.URL)
	c.engine.AddImage(imageName, ref.URL, len(data))
	if err := c.engine.SetEnvironment(imageName); err != nil {
		return nil, err
	}

	c.logger.Info("environment map installed",
		"asset", p.AssetID,
		"image", imageName,
		"bytes", len(data),
	)

	return hdriResult{
		Success:   true,
		Message:   fmt.Sprintf("HDRI %s imported successfully", p.AssetID),
		ImageName: imageName,
	}, nil
}

type textureResult struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Material string   `json:"material"`
	Maps     []string `json:"maps"`
}

// downloadTexture fetches every texture map available at the requested
// resolution and format and builds a material named after the asset. A
// map that fails to download is skipped, not fatal — a material with
// most of its maps beats no material.
func (c *Commands) downloadTexture(ctx context.Context, p downloadParams, catalog FileCatalog) (any, error) {
	format := p.FileFormat
	if format == "" {
		format = defaultTextureFormat
	}

	maps := make(map[string]string)
	var mapTypes []string
	for _, section := range catalog.Sections() {
		if textureSkipSections[section] {
			continue
		}
		ref, available := catalog.Variant(section, p.Resolution, format)
		if !available {
			continue
		}

		data, _, err := c.cache.Fetch(ctx, ref.URL)
		if err != nil {
			c.logger.Warn("texture map download failed, skipping",
				"asset", p.AssetID,
				"map", section,
				"error", err,
			)
			continue
		}

		imageName := fmt.Sprintf("%s_%s.%s", p.AssetID, section, format)
		c.engine.AddImage(imageName, ref.URL, len(data))
		maps[section] = imageName
		mapTypes = append(mapTypes, section)
	}
	if len(maps) == 0 {
		return nil, errors.New("No texture maps found for the requested resolution and format")
	}

	material := c.engine.EnsureMaterial(p.AssetID)
	material.Maps = maps

	c.logger.Info("texture set downloaded",
		"asset", p.AssetID,
		"material", material.Name,
		"maps", mapTypes,
	)

	return textureResult{
		Success:  true,
		Message:  fmt.Sprintf("Texture %s imported as material", p.AssetID),
		Material: material.Name,
		Maps:     mapTypes,
	}, nil
}

type modelResult struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message"`
	ImportedObjects []string `json:"imported_objects"`
}

// downloadModel fetches a model's main file and its companion files
// (buffers, textures) and imports it into the scene.
func (c *Commands) downloadModel(ctx context.Context, p downloadParams, catalog FileCatalog) (any, error) {
	format := p.FileFormat
	if format == "" {
		format = defaultModelFormat
	}
	if !modelFormats[format] {
		return nil, fmt.Errorf("Unsupported model format: %s", format)
	}

	ref, available := catalog.Variant(format, p.Resolution, format)
	if !available {
		return nil, errors.New("Requested format or resolution not available for this model")
	}

	data, _, err := c.cache.Fetch(ctx, ref.URL)
	if err != nil {
		return nil, fmt.Errorf("Failed to download model: %w", err)
	}

	for includePath, include := range ref.Include {
		if _, _, err := c.cache.Fetch(ctx, include.URL); err != nil {
			c.logger.Warn("companion file download failed",
				"asset", p.AssetID,
				"include", includePath,
				"error", err,
			)
		}
	}

	fileName := fileNameFromURL(ref.URL)
	object := c.engine.ImportMesh(strings.TrimSuffix(fileName, path.Ext(fileName)))

	c.logger.Info("model imported",
		"asset", p.AssetID,
		"object", object.Name,
		"bytes", len(data),
		"includes", len(ref.Include),
	)

	return modelResult{
		Success:         true,
		Message:         fmt.Sprintf("Model %s imported successfully", p.AssetID),
		ImportedObjects: []string{object.Name},
	}, nil
}

// fileNameFromURL extracts the final path segment of a download URL.
func fileNameFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return path.Base(raw)
	}
	return path.Base(parsed.Path)
}
