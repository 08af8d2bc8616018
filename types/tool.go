package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// ToolSchema describes one dispatcher operation as a callable tool.
// Mutating operations are refused once the session's case is resolved.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
	Mutating    bool            `json:"mutating"`
}

// ToolCall is an already-parsed operation request from the conversational front end.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// DecodeArguments strictly decodes the call arguments into dst.
// Missing or null arguments decode as {}; unknown fields are INVALID_REQUEST.
func (c ToolCall) DecodeArguments(dst any) *Error {
	raw := bytes.TrimSpace(c.Arguments)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return NewError(ErrInvalidRequest, "invalid tool arguments").WithCause(err)
	}
	return nil
}

// ToolResult wraps an encoded dispatcher Result. Error is set only when the
// call never reached the dispatcher; refusals travel inside Result.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *Error          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// IsError reports whether the call failed before reaching the dispatcher.
func (tr ToolResult) IsError() bool {
	return tr.Error != nil
}
