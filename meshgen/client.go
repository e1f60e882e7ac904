// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package meshgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/atelier-foundation/atelier-bridge/lib/netutil"
	"github.com/atelier-foundation/atelier-bridge/lib/secret"
)

// Provider modes. The mode decides endpoints, request encoding, and
// the Authorization scheme.
const (
	ModeMainSite = "MAIN_SITE"
	ModeFalAI    = "FAL_AI"
)

// FreeTrialKey is the shared evaluation key published by Hyper3D. It
// works with ModeMainSite under trial rate limits. Installations with
// their own key are reported as "private" by the status command.
const FreeTrialKey = "k9TcfFoEhNd9cCPP2guHAHHHkctZHIRhZDywZ1euGUXwihbYLpOjQhofby80NJez"

// Published provider endpoints, used when ClientConfig.BaseURL is
// empty.
const (
	mainSiteBaseURL = "https://hyperhuman.deemos.com"
	falAIBaseURL    = "https://queue.fal.run"
)

// ErrNoAPIKey is returned by every job operation when the client was
// built without a key. get_hyper3d_status explains how to configure
// one.
var ErrNoAPIKey = errors.New("meshgen: no Hyper3D API key is configured")

// ClientConfig holds configuration for creating a Rodin Client.
type ClientConfig struct {
	// Mode selects the provider: ModeMainSite or ModeFalAI.
	Mode string

	// BaseURL overrides the provider endpoint. Empty means the mode's
	// published endpoint; tests point this at a local server.
	BaseURL string

	// APIKey authenticates requests. The Client takes ownership and
	// zeros it on Close. Nil builds a keyless client whose job
	// operations fail with ErrNoAPIKey; the status command still
	// works.
	APIKey *secret.Buffer

	// DefaultTier is used when a job request has no tier.
	// Default: Sketch
	DefaultTier string

	// DefaultMeshMode is used when a ModeMainSite job request has no
	// mesh mode. Default: Raw
	DefaultMeshMode string

	// HTTPClient is used for job requests (not model downloads, which
	// go through the asset cache). Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Logger receives request diagnostics. If nil, a no-op logger is
	// used. The API key is never logged.
	Logger *slog.Logger
}

// Client talks to one Rodin provider: job creation, status polling,
// and resolving the download URL of a finished model.
type Client struct {
	mode            string
	baseURL         string
	apiKey          *secret.Buffer
	defaultTier     string
	defaultMeshMode string
	httpClient      *http.Client
	logger          *slog.Logger
}

// NewClient creates a Rodin client for the configured provider mode.
func NewClient(config ClientConfig) (*Client, error) {
	switch config.Mode {
	case ModeMainSite, ModeFalAI:
	default:
		return nil, fmt.Errorf("meshgen: unknown provider mode %q (want %s or %s)",
			config.Mode, ModeMainSite, ModeFalAI)
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		if config.Mode == ModeMainSite {
			baseURL = mainSiteBaseURL
		} else {
			baseURL = falAIBaseURL
		}
	}
	defaultTier := config.DefaultTier
	if defaultTier == "" {
		defaultTier = "Sketch"
	}
	defaultMeshMode := config.DefaultMeshMode
	if defaultMeshMode == "" {
		defaultMeshMode = "Raw"
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		mode:            config.Mode,
		baseURL:         strings.TrimRight(baseURL, "/"),
		apiKey:          config.APIKey,
		defaultTier:     defaultTier,
		defaultMeshMode: defaultMeshMode,
		httpClient:      httpClient,
		logger:          logger,
	}, nil
}

// Close zeros the API key. The client is unusable afterwards.
func (c *Client) Close() error {
	if c.apiKey == nil {
		return nil
	}
	err := c.apiKey.Close()
	c.apiKey = nil
	return err
}

// Mode returns the provider mode the client was built for.
func (c *Client) Mode() string { return c.mode }

// HasKey reports whether an API key is configured.
func (c *Client) HasKey() bool { return c.apiKey != nil }

// UsingFreeTrialKey reports whether the configured key is the
// published trial key.
func (c *Client) UsingFreeTrialKey() bool {
	return c.apiKey != nil && bytes.Equal(c.apiKey.Bytes(), []byte(FreeTrialKey))
}

// authorize sets the provider's Authorization header: Bearer for the
// main site, Key for fal.ai.
func (c *Client) authorize(request *http.Request) error {
	if c.apiKey == nil {
		return ErrNoAPIKey
	}
	if c.mode == ModeMainSite {
		request.Header.Set("Authorization", "Bearer "+c.apiKey.String())
	} else {
		request.Header.Set("Authorization", "Key "+c.apiKey.String())
	}
	return nil
}

// do executes an authorized request and returns the response body.
// Provider errors usually arrive as JSON bodies with a non-2xx
// status, so the status is returned rather than treated as a
// transport failure.
func (c *Client) do(ctx context.Context, method, path string, contentType string, body io.Reader) ([]byte, int, error) {
	fullURL := c.baseURL + path
	request, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, 0, fmt.Errorf("building request for %s: %w", fullURL, err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if err := c.authorize(request); err != nil {
		return nil, 0, err
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, fullURL, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: reading response: %w", method, fullURL, err)
	}

	c.logger.Debug("rodin request",
		"mode", c.mode,
		"path", path,
		"status", response.StatusCode,
		"bytes", len(responseBody),
	)

	return responseBody, response.StatusCode, nil
}

// providerJSON validates that a provider response body is JSON and
// passes it through. Providers report their own failures as JSON
// bodies (often with a non-2xx status); those are results, not
// errors. A non-JSON body means the request never reached the API
// proper.
func providerJSON(operation string, body []byte, status int) (json.RawMessage, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s: HTTP %d with non-JSON response", operation, status)
	}
	return json.RawMessage(bytes.Clone(body)), nil
}

// ImageInput is one reference image for a generation job. Main-site
// jobs upload image bytes (Suffix names the file extension, Data the
// content); fal.ai jobs reference hosted images by URL.
type ImageInput struct {
	Suffix string `json:"suffix,omitempty"`
	Data   []byte `json:"data,omitempty"`
	URL    string `json:"url,omitempty"`
}

// JobRequest describes a generation job. Zero-value Tier and MeshMode
// fall back to the client's configured defaults.
type JobRequest struct {
	TextPrompt    string
	Images        []ImageInput
	BBoxCondition []float64
	Tier          string
	MeshMode      string
}

// CreateJob submits a generation job and returns the provider's
// response JSON untouched: the main site answers with job uuids and a
// subscription key, fal.ai with a request id.
func (c *Client) CreateJob(ctx context.Context, request JobRequest) (json.RawMessage, error) {
	tier := request.Tier
	if tier == "" {
		tier = c.defaultTier
	}

	if c.mode == ModeMainSite {
		meshMode := request.MeshMode
		if meshMode == "" {
			meshMode = c.defaultMeshMode
		}
		return c.createJobMainSite(ctx, request, tier, meshMode)
	}
	return c.createJobFalAI(ctx, request, tier)
}

// createJobMainSite posts a multipart form. Image parts are all named
// "images"; the filename orders them and carries the extension, so
// the first .png reference arrives as 0000.png.
func (c *Client) createJobMainSite(ctx context.Context, request JobRequest, tier, meshMode string) (json.RawMessage, error) {
	var form bytes.Buffer
	writer := multipart.NewWriter(&form)

	for i, image := range request.Images {
		if len(image.Data) == 0 {
			return nil, fmt.Errorf("meshgen: image %d has no data; %s jobs upload image bytes", i, ModeMainSite)
		}
		part, err := writer.CreateFormFile("images", fmt.Sprintf("%04d%s", i, image.Suffix))
		if err != nil {
			return nil, fmt.Errorf("building image part %d: %w", i, err)
		}
		if _, err := part.Write(image.Data); err != nil {
			return nil, fmt.Errorf("writing image part %d: %w", i, err)
		}
	}
	if err := writer.WriteField("tier", tier); err != nil {
		return nil, fmt.Errorf("writing tier field: %w", err)
	}
	if err := writer.WriteField("mesh_mode", meshMode); err != nil {
		return nil, fmt.Errorf("writing mesh_mode field: %w", err)
	}
	if request.TextPrompt != "" {
		if err := writer.WriteField("prompt", request.TextPrompt); err != nil {
			return nil, fmt.Errorf("writing prompt field: %w", err)
		}
	}
	if len(request.BBoxCondition) > 0 {
		encoded, err := json.Marshal(request.BBoxCondition)
		if err != nil {
			return nil, fmt.Errorf("encoding bbox_condition: %w", err)
		}
		if err := writer.WriteField("bbox_condition", string(encoded)); err != nil {
			return nil, fmt.Errorf("writing bbox_condition field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finishing multipart form: %w", err)
	}

	body, status, err := c.do(ctx, http.MethodPost, "/api/v2/rodin", writer.FormDataContentType(), &form)
	if err != nil {
		return nil, err
	}
	return providerJSON("creating generation job", body, status)
}

func (c *Client) createJobFalAI(ctx context.Context, request JobRequest, tier string) (json.RawMessage, error) {
	payload := map[string]any{
		"tier": tier,
	}
	if len(request.Images) > 0 {
		urls := make([]string, len(request.Images))
		for i, image := range request.Images {
			if image.URL == "" {
				return nil, fmt.Errorf("meshgen: image %d has no url; %s jobs reference hosted images", i, ModeFalAI)
			}
			urls[i] = image.URL
		}
		payload["input_image_urls"] = urls
	}
	if request.TextPrompt != "" {
		payload["prompt"] = request.TextPrompt
	}
	if len(request.BBoxCondition) > 0 {
		payload["bbox_condition"] = request.BBoxCondition
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding job request: %w", err)
	}
	body, status, err := c.do(ctx, http.MethodPost, "/fal-ai/hyper3d/rodin", "application/json", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	return providerJSON("creating generation job", body, status)
}

// JobStatus reports the state of a running job. The main site is
// queried by subscription key and its per-job states are flattened to
// {"status_list": [...]}; fal.ai is queried by request id and its
// status document is passed through.
func (c *Client) JobStatus(ctx context.Context, jobID string) (json.RawMessage, error) {
	if c.mode == ModeMainSite {
		return c.jobStatusMainSite(ctx, jobID)
	}

	body, status, err := c.do(ctx, http.MethodGet, "/fal-ai/hyper3d/requests/"+jobID+"/status", "", nil)
	if err != nil {
		return nil, err
	}
	return providerJSON("polling job status", body, status)
}

func (c *Client) jobStatusMainSite(ctx context.Context, subscriptionKey string) (json.RawMessage, error) {
	encoded, err := json.Marshal(map[string]string{"subscription_key": subscriptionKey})
	if err != nil {
		return nil, fmt.Errorf("encoding status request: %w", err)
	}
	body, status, err := c.do(ctx, http.MethodPost, "/api/v2/status", "application/json", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Jobs []struct {
			Status string `json:"status"`
		} `json:"jobs"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("polling job status: HTTP %d with unexpected response: %w", status, err)
	}

	statuses := make([]string, len(parsed.Jobs))
	for i, job := range parsed.Jobs {
		statuses[i] = job.Status
	}
	result, err := json.Marshal(map[string][]string{"status_list": statuses})
	if err != nil {
		return nil, fmt.Errorf("encoding status list: %w", err)
	}
	return result, nil
}

// ErrGenerationIncomplete is returned when the provider has no
// finished model for a job. The message matches what generation-aware
// clients expect to see verbatim.
var ErrGenerationIncomplete = errors.New("Generation failed. Please first make sure that all jobs of the task are done and then try again later.")

// GeneratedModelURL resolves the download URL of a finished job's
// mesh. The main site lists every produced file and the .glb entry is
// the mesh; fal.ai reports a single model_mesh URL.
func (c *Client) GeneratedModelURL(ctx context.Context, jobID string) (string, error) {
	if c.mode == ModeMainSite {
		return c.modelURLMainSite(ctx, jobID)
	}
	return c.modelURLFalAI(ctx, jobID)
}

func (c *Client) modelURLMainSite(ctx context.Context, taskUUID string) (string, error) {
	encoded, err := json.Marshal(map[string]string{"task_uuid": taskUUID})
	if err != nil {
		return "", fmt.Errorf("encoding download request: %w", err)
	}
	body, status, err := c.do(ctx, http.MethodPost, "/api/v2/download", "application/json", bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}

	var parsed struct {
		List []struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"list"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("resolving download: HTTP %d with unexpected response: %w", status, err)
	}
	for _, file := range parsed.List {
		if strings.HasSuffix(file.Name, ".glb") && file.URL != "" {
			return file.URL, nil
		}
	}
	return "", ErrGenerationIncomplete
}

func (c *Client) modelURLFalAI(ctx context.Context, requestID string) (string, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/fal-ai/hyper3d/requests/"+requestID, "", nil)
	if err != nil {
		return "", err
	}

	var parsed struct {
		ModelMesh struct {
			URL string `json:"url"`
		} `json:"model_mesh"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("resolving download: HTTP %d with unexpected response: %w", status, err)
	}
	if parsed.ModelMesh.URL == "" {
		return "", ErrGenerationIncomplete
	}
	return parsed.ModelMesh.URL, nil
}
