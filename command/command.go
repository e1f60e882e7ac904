// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Command is the wire-format request. Type selects the handler; Params
// is passed to the handler undecoded, so each handler defines its own
// parameter struct.
type Command struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the wire-format reply. Exactly one of Result or Message
// is populated: Result on success, Message on error.
type Response struct {
	Status  string          `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ErrorResponse builds an error Response with the given message.
// Connection handling uses this for faults that never reach Dispatch,
// such as unparseable input.
func ErrorResponse(message string) Response {
	return Response{Status: StatusError, Message: message}
}

// DecodeParams unmarshals a command's params into v. Absent params
// decode as the zero value. Unknown fields are an error: a mistyped
// parameter name should surface as a failure, not be silently ignored.
func DecodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(params))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
