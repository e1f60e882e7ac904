// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/atelier-foundation/atelier-bridge/lib/netutil"
)

// defaultBaseURL is the public Poly Haven API.
const defaultBaseURL = "https://api.polyhaven.com"

// searchResultLimit caps how many assets a search returns. The full
// catalog response for a broad query runs to hundreds of entries;
// twenty is plenty for a client choosing an asset by name.
const searchResultLimit = 20

// validAssetTypes are the asset classes the API serves. "all" is only
// meaningful for queries, not downloads.
var validAssetTypes = map[string]bool{
	"hdris":    true,
	"textures": true,
	"models":   true,
	"all":      true,
}

func validateAssetType(assetType string) error {
	if !validAssetTypes[assetType] {
		return fmt.Errorf("Invalid asset type: %s. Must be one of: hdris, textures, models, all", assetType)
	}
	return nil
}

// ClientConfig holds configuration for creating a Poly Haven Client.
type ClientConfig struct {
	// BaseURL is the API root. Defaults to the public Poly Haven API.
	BaseURL string

	// HTTPClient is used for catalog requests (not asset payload
	// downloads, which go through the asset cache). Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Logger receives request diagnostics. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Client queries the Poly Haven catalog: categories, asset searches,
// and per-asset file listings.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Poly Haven catalog client.
func NewClient(config ClientConfig) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
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
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// get executes a catalog GET and returns the body and status code. A
// transport failure is an error; a non-200 status is not — callers
// map statuses to their own messages.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, int, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building request for %s: %w", fullURL, err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, 0, fmt.Errorf("GET %s: %w", fullURL, err)
	}
	defer response.Body.Close()

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("GET %s: reading response: %w", fullURL, err)
	}

	c.logger.Debug("catalog request",
		"path", path,
		"status", response.StatusCode,
		"bytes", len(body),
	)

	return body, response.StatusCode, nil
}

// Categories returns the category list for an asset type: a JSON
// object of category name to asset count, passed through untouched.
func (c *Client) Categories(ctx context.Context, assetType string) (json.RawMessage, error) {
	if err := validateAssetType(assetType); err != nil {
		return nil, err
	}

	body, status, err := c.get(ctx, "/categories/"+assetType, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status code %d", status)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("API returned invalid JSON for categories/%s", assetType)
	}
	return json.RawMessage(body), nil
}

// SearchResult is a truncated asset search: the first
// searchResultLimit entries of the catalog response in its own order,
// plus the counts a client needs to know the truncation happened.
type SearchResult struct {
	Assets        json.RawMessage `json:"assets"`
	TotalCount    int             `json:"total_count"`
	ReturnedCount int             `json:"returned_count"`
}

// SearchAssets queries the asset catalog, optionally filtered by type
// and by a comma-separated category list. assetType "all" (or empty)
// applies no type filter.
func (c *Client) SearchAssets(ctx context.Context, assetType, categories string) (*SearchResult, error) {
	query := url.Values{}
	if assetType != "" && assetType != "all" {
		if err := validateAssetType(assetType); err != nil {
			return nil, err
		}
		query.Set("type", assetType)
	}
	if categories != "" {
		query.Set("categories", categories)
	}

	body, status, err := c.get(ctx, "/assets", query)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status code %d", status)
	}

	all, err := decodeOrderedObject(body)
	if err != nil {
		return nil, fmt.Errorf("decoding asset search response: %w", err)
	}

	limited := all
	if len(limited) > searchResultLimit {
		limited = limited[:searchResultLimit]
	}
	encoded, err := limited.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding truncated asset list: %w", err)
	}

	return &SearchResult{
		Assets:        encoded,
		TotalCount:    len(all),
		ReturnedCount: len(limited),
	}, nil
}

// FileRef is one downloadable file variant of an asset. Include lists
// companion files (a glTF's buffers and textures) keyed by their
// archive-relative path.
type FileRef struct {
	URL     string                `json:"url"`
	Size    int64                 `json:"size"`
	Include map[string]IncludeRef `json:"include"`
}

// IncludeRef is a companion file referenced by a FileRef.
type IncludeRef struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// FileCatalog is the /files listing for one asset. Sections are texture
// map names ("Diffuse", "nor_gl", "arm"), "hdri" for HDRIs, or model
// formats ("gltf", "fbx", "blend"); each section nests resolution then
// format. Sections that do not follow that nesting ("colorchart",
// "tonemapped" preview entries) simply never match a Variant lookup.
type FileCatalog struct {
	sections orderedObject
}

// Sections returns the section names in catalog order.
func (c FileCatalog) Sections() []string {
	names := make([]string, 0, len(c.sections))
	for _, entry := range c.sections {
		names = append(names, entry.Key)
	}
	return names
}

// Variant returns the file at sections[section][resolution][format],
// if present.
func (c FileCatalog) Variant(section, resolution, format string) (FileRef, bool) {
	raw, exists := c.sections.get(section)
	if !exists {
		return FileRef{}, false
	}
	var byResolution map[string]map[string]FileRef
	if err := json.Unmarshal(raw, &byResolution); err != nil {
		return FileRef{}, false
	}
	ref, exists := byResolution[resolution][format]
	if !exists || ref.URL == "" {
		return FileRef{}, false
	}
	return ref, true
}

// Files fetches the downloadable file catalog for an asset.
func (c *Client) Files(ctx context.Context, assetID string) (FileCatalog, error) {
	body, status, err := c.get(ctx, "/files/"+url.PathEscape(assetID), nil)
	if err != nil {
		return FileCatalog{}, err
	}
	if status != http.StatusOK {
		return FileCatalog{}, fmt.Errorf("Failed to get asset files: %d", status)
	}

	sections, err := decodeOrderedObject(body)
	if err != nil {
		return FileCatalog{}, fmt.Errorf("decoding file catalog for %s: %w", assetID, err)
	}
	return FileCatalog{sections: sections}, nil
}

// orderedObject is a JSON object decoded with member order preserved.
// The catalog's own ordering is meaningful (search results rank by
// relevance, texture maps list primary maps first), and Go maps would
// shuffle it.
type orderedObject []orderedMember

type orderedMember struct {
	Key   string
	Value json.RawMessage
}

func decodeOrderedObject(data []byte) (orderedObject, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	first, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := first.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", first)
	}

	var members orderedObject
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		// Inside an object, every other token is a member key.
		key := keyToken.(string)

		var value json.RawMessage
		if err := decoder.Decode(&value); err != nil {
			return nil, fmt.Errorf("decoding value of %q: %w", key, err)
		}
		members = append(members, orderedMember{Key: key, Value: value})
	}
	return members, nil
}

func (o orderedObject) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('{')
	for index, entry := range o {
		if index > 0 {
			buffer.WriteByte(',')
		}
		key, err := json.Marshal(entry.Key)
		if err != nil {
			return nil, err
		}
		buffer.Write(key)
		buffer.WriteByte(':')
		buffer.Write(entry.Value)
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

func (o orderedObject) get(key string) (json.RawMessage, bool) {
	for _, entry := range o {
		if entry.Key == key {
			return entry.Value, true
		}
	}
	return nil, false
}
