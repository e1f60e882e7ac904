// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atelier-foundation/atelier-bridge/command"
	"github.com/atelier-foundation/atelier-bridge/lib/assetcache"
	"github.com/atelier-foundation/atelier-bridge/scene"
)

// FlagName gates the marketplace command set.
const FlagName = "use_asset_marketplace"

// CommandConfig wires the marketplace command set.
type CommandConfig struct {
	Client *Client
	Cache  *assetcache.Cache
	Engine *scene.Engine

	// Flags is consulted by get_polyhaven_status; the gated commands
	// themselves are flag-checked by the registry.
	Flags *command.FlagSet

	// FlagsPath, when set, lets the disabled status message point at
	// the actual flags file.
	FlagsPath string

	Logger *slog.Logger
}

// Commands holds the marketplace command handlers.
type Commands struct {
	client    *Client
	cache     *assetcache.Cache
	engine    *scene.Engine
	flags     *command.FlagSet
	flagsPath string
	logger    *slog.Logger
}

// RegisterCommands registers the Poly Haven commands: the four gated
// by the marketplace flag, and the always-available status query.
func RegisterCommands(registry *command.Registry, cfg CommandConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	commands := &Commands{
		client:    cfg.Client,
		cache:     cfg.Cache,
		engine:    cfg.Engine,
		flags:     cfg.Flags,
		flagsPath: cfg.FlagsPath,
		logger:    logger,
	}

	registry.Register(command.Entry{Name: "get_polyhaven_categories", Flag: FlagName, Handler: commands.categories})
	registry.Register(command.Entry{Name: "search_polyhaven_assets", Flag: FlagName, Handler: commands.search})
	registry.Register(command.Entry{Name: "download_polyhaven_asset", Flag: FlagName, Handler: commands.download})
	registry.Register(command.Entry{Name: "set_texture", Flag: FlagName, Handler: commands.setTexture})
	registry.Register(command.Entry{Name: "get_polyhaven_status", Handler: commands.status})
}

type categoriesParams struct {
	AssetType string `json:"asset_type"`
}

type categoriesResult struct {
	Categories json.RawMessage `json:"categories"`
}

func (c *Commands) categories(ctx context.Context, params json.RawMessage) (any, error) {
	p := categoriesParams{AssetType: "hdris"}
	if err := command.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	listing, err := c.client.Categories(ctx, p.AssetType)
	if err != nil {
		return nil, err
	}
	return categoriesResult{Categories: listing}, nil
}

type searchParams struct {
	AssetType  string `json:"asset_type"`
	Categories string `json:"categories"`
}

func (c *Commands) search(ctx context.Context, params json.RawMessage) (any, error) {
	p := searchParams{AssetType: "all"}
	if err := command.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	return c.client.SearchAssets(ctx, p.AssetType, p.Categories)
}

type setTextureParams struct {
	ObjectName string `json:"object_name"`
	TextureID  string `json:"texture_id"`
}

type setTextureResult struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Material string   `json:"material"`
	Maps     []string `json:"maps"`
}

// setTexture applies a previously downloaded texture set to an object:
// it builds a fresh material from every registered image of that
// texture and replaces the object's material slots with it.
func (c *Commands) setTexture(ctx context.Context, params json.RawMessage) (any, error) {
	var p setTextureParams
	if err := command.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ObjectName == "" {
		return nil, errors.New("missing required parameter: object_name")
	}
	if p.TextureID == "" {
		return nil, errors.New("missing required parameter: texture_id")
	}

	object, exists := c.engine.Object(p.ObjectName)
	if !exists {
		return nil, fmt.Errorf("Object not found: %s", p.ObjectName)
	}
	if object.Type != scene.TypeMesh {
		return nil, fmt.Errorf("Object %s cannot accept materials", p.ObjectName)
	}

	// Collect this texture's downloaded maps. Image names follow the
	// "<asset>_<map>.<format>" convention, so the map type is the
	// last underscore segment with the extension cut off.
	prefix := p.TextureID + "_"
	maps := make(map[string]string)
	var mapTypes []string
	for _, image := range c.engine.Images() {
		if !strings.HasPrefix(image.Name, prefix) {
			continue
		}
		segments := strings.Split(image.Name, "_")
		mapType, _, _ := strings.Cut(segments[len(segments)-1], ".")
		if _, seen := maps[mapType]; !seen {
			mapTypes = append(mapTypes, mapType)
		}
		maps[mapType] = image.Name
	}
	if len(maps) == 0 {
		return nil, fmt.Errorf("No texture images found for: %s. Please download the texture first.", p.TextureID)
	}

	materialName := fmt.Sprintf("%s_material_%s", p.TextureID, p.ObjectName)
	material := c.engine.EnsureMaterial(materialName)
	material.Maps = maps

	if err := c.engine.ClearObjectMaterials(p.ObjectName); err != nil {
		return nil, err
	}
	if err := c.engine.AssignMaterial(p.ObjectName, materialName); err != nil {
		return nil, err
	}

	c.logger.Info("texture applied",
		"object", p.ObjectName,
		"texture", p.TextureID,
		"material", materialName,
		"maps", mapTypes,
	)

	return setTextureResult{
		Success:  true,
		Message:  fmt.Sprintf("Created new material and applied texture %s to %s", p.TextureID, p.ObjectName),
		Material: materialName,
		Maps:     mapTypes,
	}, nil
}

type statusResult struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

func (c *Commands) status(ctx context.Context, params json.RawMessage) (any, error) {
	if c.flags.Enabled(FlagName) {
		return statusResult{
			Enabled: true,
			Message: "PolyHaven integration is enabled and ready to use.",
		}, nil
	}

	flagsFile := "the feature flags file"
	if c.flagsPath != "" {
		flagsFile = c.flagsPath
	}
	return statusResult{
		Enabled: false,
		Message: fmt.Sprintf(
			"PolyHaven integration is currently disabled. To enable it, set %q to true in %s; the bridge picks up the change without a restart.",
			FlagName, flagsFile),
	}, nil
}
