// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package meshgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atelier-foundation/atelier-bridge/command"
	"github.com/atelier-foundation/atelier-bridge/lib/assetcache"
	"github.com/atelier-foundation/atelier-bridge/scene"
)

// FlagName gates the mesh-generation command set.
const FlagName = "use_mesh_generation"

// CommandConfig wires the mesh-generation command set.
type CommandConfig struct {
	Client *Client
	Cache  *assetcache.Cache
	Engine *scene.Engine

	// Flags is consulted by get_hyper3d_status; the gated commands
	// themselves are flag-checked by the registry.
	Flags *command.FlagSet

	// FlagsPath, when set, lets the disabled status message point at
	// the actual flags file.
	FlagsPath string

	Logger *slog.Logger
}

// Commands holds the mesh-generation command handlers.
type Commands struct {
	client    *Client
	cache     *assetcache.Cache
	engine    *scene.Engine
	flags     *command.FlagSet
	flagsPath string
	logger    *slog.Logger
}

// RegisterCommands registers the Hyper3D Rodin commands: job
// creation, polling, and import gated by the mesh-generation flag,
// and the always-available status query.
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

	registry.Register(command.Entry{Name: "create_rodin_job", Flag: FlagName, Handler: commands.createJob})
	registry.Register(command.Entry{Name: "poll_rodin_job_status", Flag: FlagName, Handler: commands.pollJob})
	registry.Register(command.Entry{Name: "import_generated_asset", Flag: FlagName, Handler: commands.importAsset})
	registry.Register(command.Entry{Name: "get_hyper3d_status", Handler: commands.status})
}

type createJobParams struct {
	TextPrompt    string       `json:"text_prompt"`
	Images        []ImageInput `json:"images"`
	BBoxCondition []float64    `json:"bbox_condition"`
	Tier          string       `json:"tier"`
	MeshMode      string       `json:"mesh_mode"`
}

func (c *Commands) createJob(ctx context.Context, params json.RawMessage) (any, error) {
	var p createJobParams
	if err := command.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.TextPrompt == "" && len(p.Images) == 0 {
		return nil, errors.New("missing required parameter: text_prompt or images")
	}

	response, err := c.client.CreateJob(ctx, JobRequest{
		TextPrompt:    p.TextPrompt,
		Images:        p.Images,
		BBoxCondition: p.BBoxCondition,
		Tier:          p.Tier,
		MeshMode:      p.MeshMode,
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("generation job created",
		"mode", c.client.Mode(),
		"images", len(p.Images),
		"prompt", p.TextPrompt != "",
	)
	return response, nil
}

type pollJobParams struct {
	SubscriptionKey string `json:"subscription_key"`
	RequestID       string `json:"request_id"`
}

// jobID returns whichever identifier the caller supplied. The main
// site names it a subscription key and fal.ai a request id; accepting
// both spares the caller from tracking which provider is configured.
func (p pollJobParams) jobID() string {
	if p.SubscriptionKey != "" {
		return p.SubscriptionKey
	}
	return p.RequestID
}

func (c *Commands) pollJob(ctx context.Context, params json.RawMessage) (any, error) {
	var p pollJobParams
	if err := command.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	jobID := p.jobID()
	if jobID == "" {
		return nil, errors.New("missing required parameter: subscription_key or request_id")
	}
	return c.client.JobStatus(ctx, jobID)
}

type importParams struct {
	Name      string `json:"name"`
	TaskUUID  string `json:"task_uuid"`
	RequestID string `json:"request_id"`
}

func (p importParams) jobID() string {
	if p.TaskUUID != "" {
		return p.TaskUUID
	}
	return p.RequestID
}

type importSuccess struct {
	Succeed          bool           `json:"succeed"`
	Name             string         `json:"name"`
	Type             string         `json:"type"`
	Location         scene.Vec3     `json:"location"`
	Rotation         scene.Vec3     `json:"rotation"`
	Scale            scene.Vec3     `json:"scale"`
	WorldBoundingBox *[2]scene.Vec3 `json:"world_bounding_box,omitempty"`
}

type importFailure struct {
	Succeed bool   `json:"succeed"`
	Error   string `json:"error"`
}

// importAsset downloads a finished job's mesh and registers it in the
// scene. Download and generation failures are reported inside the
// result body as {succeed: false, error}: clients drive a retry loop
// off that field, polling until the job completes. Parameter mistakes
// are still command errors.
func (c *Commands) importAsset(ctx context.Context, params json.RawMessage) (any, error) {
	var p importParams
	if err := command.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, errors.New("missing required parameter: name")
	}
	jobID := p.jobID()
	if jobID == "" {
		return nil, errors.New("missing required parameter: task_uuid or request_id")
	}

	modelURL, err := c.client.GeneratedModelURL(ctx, jobID)
	if err != nil {
		return importFailure{Error: err.Error()}, nil
	}

	payload, _, err := c.cache.Fetch(ctx, modelURL)
	if err != nil {
		return importFailure{Error: fmt.Sprintf("Failed to download generated model: %v", err)}, nil
	}

	object := c.engine.ImportMesh(p.Name)
	c.logger.Info("generated asset imported",
		"name", object.Name,
		"job", jobID,
		"bytes", len(payload),
	)

	result := importSuccess{
		Succeed:  true,
		Name:     object.Name,
		Type:     object.Type,
		Location: object.Location,
		Rotation: object.Rotation,
		Scale:    object.Scale,
	}
	if box, err := object.WorldBoundingBox(); err == nil {
		result.WorldBoundingBox = &box
	}
	return result, nil
}

type statusResult struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

func (c *Commands) status(ctx context.Context, params json.RawMessage) (any, error) {
	if !c.flags.Enabled(FlagName) {
		flagsFile := "the feature flags file"
		if c.flagsPath != "" {
			flagsFile = c.flagsPath
		}
		return statusResult{
			Enabled: false,
			Message: fmt.Sprintf(
				"Hyper3D Rodin integration is currently disabled. To enable it, set %q to true in %s; the bridge picks up the change without a restart.",
				FlagName, flagsFile),
		}, nil
	}

	if !c.client.HasKey() {
		return statusResult{
			Enabled: false,
			Message: "Hyper3D Rodin integration is currently enabled, but no API key is configured. " +
				"Seal a key with atelier-bridge-seal and set mesh_generation.api_key_sealed in the daemon config " +
				"(or use the published free-trial key), then restart the daemon.",
		}, nil
	}

	keyType := "private"
	if c.client.UsingFreeTrialKey() {
		keyType = "free_trial"
	}
	return statusResult{
		Enabled: true,
		Message: fmt.Sprintf("Hyper3D Rodin integration is enabled and ready to use. Mode: %s. Key type: %s",
			c.client.Mode(), keyType),
	}, nil
}
