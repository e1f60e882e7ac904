// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package nodegraph

import (
	"embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
)

//go:embed presets/*.jsonc
var presetFiles embed.FS

type presetParameter struct {
	name     string
	fallback any
}

// presetParameters lists each setup type's accepted parameters with
// their defaults. deform_type selects between two template files
// rather than substituting into one.
var presetParameters = map[string][]presetParameter{
	"array": {
		{"count_x", 3}, {"count_y", 3}, {"count_z", 1},
		{"spacing_x", 2.0}, {"spacing_y", 2.0}, {"spacing_z", 2.0},
	},
	"scatter": {
		{"count", 100}, {"seed", 0}, {"min_distance", 0.1}, {"density_max", 10.0},
	},
	"deform": {
		{"strength", 1.0}, {"deform_type", "noise"},
	},
}

// SetupTypes returns the preset setup types, sorted.
func SetupTypes() []string {
	types := make([]string, 0, len(presetParameters))
	for setupType := range presetParameters {
		types = append(types, setupType)
	}
	slices.Sort(types)
	return types
}

// expandPreset resolves a setup type and its parameters into the
// node and link lists of the corresponding template. Parameters not
// in the setup type's list are rejected rather than ignored, so a
// misspelled parameter fails loudly instead of silently keeping its
// default.
func expandPreset(setupType string, params map[string]any) ([]Node, []Link, error) {
	spec, known := presetParameters[setupType]
	if !known {
		return nil, nil, fmt.Errorf("unknown setup type: %s (want one of: %s)",
			setupType, strings.Join(SetupTypes(), ", "))
	}

	resolved := make(map[string]any, len(spec))
	for _, parameter := range spec {
		resolved[parameter.name] = parameter.fallback
	}
	for name, value := range params {
		if _, accepted := resolved[name]; !accepted {
			return nil, nil, fmt.Errorf("unknown parameter %q for setup type %s", name, setupType)
		}
		resolved[name] = value
	}

	templateName := setupType
	if setupType == "deform" {
		deformType, _ := resolved["deform_type"].(string)
		if deformType != "noise" && deformType != "wave" {
			return nil, nil, fmt.Errorf("deform_type must be %q or %q, got %v",
				"noise", "wave", resolved["deform_type"])
		}
		templateName = "deform_" + deformType
		delete(resolved, "deform_type")
	}

	template, err := presetFiles.ReadFile("presets/" + templateName + ".jsonc")
	if err != nil {
		return nil, nil, fmt.Errorf("reading preset %s: %w", templateName, err)
	}

	text := string(template)
	for name, value := range resolved {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding parameter %s: %w", name, err)
		}
		text = strings.ReplaceAll(text, "${"+name+"}", string(encoded))
	}
	if start := strings.Index(text, "${"); start >= 0 {
		end := strings.IndexByte(text[start:], '}')
		if end < 0 {
			end = len(text) - start - 1
		}
		return nil, nil, fmt.Errorf("preset %s leaves %s unexpanded", templateName, text[start:start+end+1])
	}

	var setup struct {
		Nodes []Node `json:"nodes"`
		Links []Link `json:"links"`
	}
	if err := json.Unmarshal(jsonc.ToJSON([]byte(text)), &setup); err != nil {
		return nil, nil, fmt.Errorf("parsing preset %s: %w", templateName, err)
	}
	return setup.Nodes, setup.Links, nil
}
