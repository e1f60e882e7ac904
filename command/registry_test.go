// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDispatchSuccess(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(Entry{
		Name: "get_scene_info",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			return map[string]any{"name": "Scene", "object_count": 3}, nil
		},
	})

	response := registry.Dispatch(context.Background(), "get_scene_info", nil, NewFlagSet())
	if response.Status != StatusSuccess {
		t.Fatalf("Status = %q, Message = %q", response.Status, response.Message)
	}

	var result struct {
		Name        string `json:"name"`
		ObjectCount int    `json:"object_count"`
	}
	if err := json.Unmarshal(response.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Name != "Scene" || result.ObjectCount != 3 {
		t.Fatalf("result = %+v", result)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(Entry{
		Name: "get_object_info",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, errors.New("Object not found: Cube")
		},
	})

	response := registry.Dispatch(context.Background(), "get_object_info", nil, NewFlagSet())
	if response.Status != StatusError {
		t.Fatalf("Status = %q", response.Status)
	}
	if response.Message != "Object not found: Cube" {
		t.Fatalf("Message = %q", response.Message)
	}
	if len(response.Result) != 0 {
		t.Fatalf("error response carries a result: %s", response.Result)
	}
}

func TestDispatchHandlerPanic(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(Entry{
		Name: "explode",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			panic("nil pointer somewhere deep")
		},
	})
	registry.Register(Entry{
		Name: "ping",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			return "pong", nil
		},
	})

	response := registry.Dispatch(context.Background(), "explode", nil, NewFlagSet())
	if response.Status != StatusError {
		t.Fatalf("Status = %q", response.Status)
	}
	if !strings.Contains(response.Message, "nil pointer somewhere deep") {
		t.Fatalf("Message = %q, expected the panic value", response.Message)
	}

	// The registry still works after a panic.
	response = registry.Dispatch(context.Background(), "ping", nil, NewFlagSet())
	if response.Status != StatusSuccess {
		t.Fatalf("dispatch after panic: Status = %q", response.Status)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	registry := NewRegistry(nil)

	response := registry.Dispatch(context.Background(), "totally_unknown", nil, NewFlagSet())
	if response.Status != StatusError {
		t.Fatalf("Status = %q", response.Status)
	}
	if response.Message != "Unknown command type: totally_unknown" {
		t.Fatalf("Message = %q", response.Message)
	}
}

func TestDisabledFlagLooksUnknown(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(Entry{
		Name: "search_polyhaven_assets",
		Flag: "use_asset_marketplace",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			return map[string]any{}, nil
		},
	})
	flags := NewFlagSet("use_asset_marketplace")

	// Disabled: the response must be byte-identical to a genuinely
	// unknown command's, so gating is indistinguishable from absence.
	gated := registry.Dispatch(context.Background(), "search_polyhaven_assets", nil, flags)
	unknown := registry.Dispatch(context.Background(), "search_polyhaven_asset", nil, flags)
	if gated.Status != StatusError {
		t.Fatalf("gated Status = %q", gated.Status)
	}
	if gated.Message != "Unknown command type: search_polyhaven_assets" {
		t.Fatalf("gated Message = %q", gated.Message)
	}
	if unknown.Status != gated.Status {
		t.Fatalf("gated and unknown statuses differ: %q vs %q", gated.Status, unknown.Status)
	}

	// Enabled: the same dispatch reaches the handler.
	if err := flags.Set("use_asset_marketplace", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	enabled := registry.Dispatch(context.Background(), "search_polyhaven_assets", nil, flags)
	if enabled.Status != StatusSuccess {
		t.Fatalf("enabled Status = %q, Message = %q", enabled.Status, enabled.Message)
	}

	// Disabled again: flags are read per dispatch, not cached.
	if err := flags.Set("use_asset_marketplace", false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	regated := registry.Dispatch(context.Background(), "search_polyhaven_assets", nil, flags)
	if regated.Message != gated.Message {
		t.Fatalf("regated Message = %q, want %q", regated.Message, gated.Message)
	}
}

func TestDispatchPassesParams(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(Entry{
		Name: "echo",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			var p struct {
				Value string `json:"value"`
			}
			if err := DecodeParams(params, &p); err != nil {
				return nil, err
			}
			return p.Value, nil
		},
	})

	response := registry.Dispatch(context.Background(), "echo", json.RawMessage(`{"value":"hello"}`), NewFlagSet())
	if response.Status != StatusSuccess {
		t.Fatalf("Status = %q, Message = %q", response.Status, response.Message)
	}
	if string(response.Result) != `"hello"` {
		t.Fatalf("Result = %s", response.Result)
	}
}

func TestRegisterPanics(t *testing.T) {
	handler := func(ctx context.Context, params json.RawMessage) (any, error) { return nil, nil }

	cases := []struct {
		name  string
		setup func(*Registry)
	}{
		{"duplicate name", func(r *Registry) {
			r.Register(Entry{Name: "dup", Handler: handler})
			r.Register(Entry{Name: "dup", Handler: handler})
		}},
		{"empty name", func(r *Registry) {
			r.Register(Entry{Handler: handler})
		}},
		{"nil handler", func(r *Registry) {
			r.Register(Entry{Name: "no_handler"})
		}},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("Register did not panic")
				}
			}()
			testCase.setup(NewRegistry(nil))
		})
	}
}

func TestNamesSorted(t *testing.T) {
	registry := NewRegistry(nil)
	handler := func(ctx context.Context, params json.RawMessage) (any, error) { return nil, nil }
	for _, name := range []string{"zeta", "alpha", "mid"} {
		registry.Register(Entry{Name: name, Handler: handler})
	}

	names := registry.Names()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names = %v, want %v", names, want)
		}
	}
}

func TestDecodeParams(t *testing.T) {
	type params struct {
		Name       string `json:"name"`
		Resolution string `json:"resolution"`
	}

	t.Run("absent params decode to zero value", func(t *testing.T) {
		var p params
		if err := DecodeParams(nil, &p); err != nil {
			t.Fatalf("DecodeParams(nil): %v", err)
		}
		if p != (params{}) {
			t.Fatalf("p = %+v", p)
		}
	})

	t.Run("fields populate", func(t *testing.T) {
		var p params
		if err := DecodeParams(json.RawMessage(`{"name":"rock_01","resolution":"2k"}`), &p); err != nil {
			t.Fatalf("DecodeParams: %v", err)
		}
		if p.Name != "rock_01" || p.Resolution != "2k" {
			t.Fatalf("p = %+v", p)
		}
	})

	t.Run("unknown field is an error", func(t *testing.T) {
		var p params
		err := DecodeParams(json.RawMessage(`{"nmae":"rock_01"}`), &p)
		if err == nil {
			t.Fatal("expected error for unknown field")
		}
	})
}

func TestDispatchNilResult(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(Entry{
		Name: "noop",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, nil
		},
	})

	response := registry.Dispatch(context.Background(), "noop", nil, NewFlagSet())
	if response.Status != StatusSuccess {
		t.Fatalf("Status = %q", response.Status)
	}
	if string(response.Result) != "null" {
		t.Fatalf("Result = %s, want null", response.Result)
	}
}

func TestResponseWireShape(t *testing.T) {
	success := Response{Status: StatusSuccess, Result: json.RawMessage(`{"ok":1}`)}
	encoded, err := json.Marshal(success)
	if err != nil {
		t.Fatalf("marshal success: %v", err)
	}
	if got := string(encoded); got != `{"status":"success","result":{"ok":1}}` {
		t.Fatalf("success envelope = %s", got)
	}

	failure := ErrorResponse("Object not found: Cube")
	encoded, err = json.Marshal(failure)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if got := string(encoded); got != `{"status":"error","message":"Object not found: Cube"}` {
		t.Fatalf("error envelope = %s", got)
	}
}

func TestDispatchUnmarshalableResult(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(Entry{
		Name: "bad_result",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			return map[string]any{"fn": func() {}}, nil
		},
	})

	response := registry.Dispatch(context.Background(), "bad_result", nil, NewFlagSet())
	if response.Status != StatusError {
		t.Fatalf("Status = %q", response.Status)
	}
	if !strings.Contains(response.Message, "bad_result") {
		t.Fatalf("Message = %q", response.Message)
	}
}

func TestDispatchContextReachesHandler(t *testing.T) {
	type contextKey struct{}
	registry := NewRegistry(nil)
	registry.Register(Entry{
		Name: "check_ctx",
		Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
			value, _ := ctx.Value(contextKey{}).(string)
			if value != "present" {
				return nil, fmt.Errorf("context value missing")
			}
			return value, nil
		},
	})

	ctx := context.WithValue(context.Background(), contextKey{}, "present")
	response := registry.Dispatch(ctx, "check_ctx", nil, NewFlagSet())
	if response.Status != StatusSuccess {
		t.Fatalf("Status = %q, Message = %q", response.Status, response.Message)
	}
}
