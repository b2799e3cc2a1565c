// Package models provides the shared wire-level types for the Atlas agent core.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is the unified message format exchanged between the
// orchestrator, providers, and the memory store.
type ChatMessage struct {
	Role Role `json:"role"`

	// Content may be empty for assistant messages that carry only tool calls.
	Content string `json:"content"`

	// ToolCalls is populated only on assistant messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message back to the call that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// IsError marks a tool-role message whose content is a fault rather
	// than tool output. Providers with a native error signal forward it.
	IsError bool `json:"is_error,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// FaultKind classifies a tool failure.
type FaultKind string

const (
	FaultValidation  FaultKind = "validation"
	FaultUnknownTool FaultKind = "unknown_tool"
	FaultExecution   FaultKind = "execution"
	FaultTimeout     FaultKind = "timeout"
	FaultRateLimited FaultKind = "rate_limited"
)

// ToolFault carries a structured tool failure. Message is safe to surface to
// the model; Detail holds field-level context such as schema violations.
type ToolFault struct {
	Kind    FaultKind      `json:"kind"`
	Message string         `json:"message"`
	Detail  map[string]any `json:"detail,omitempty"`
}

func (f *ToolFault) Error() string {
	return string(f.Kind) + ": " + f.Message
}

// ToolResult is the outcome of one tool invocation. Exactly one of Data or
// Error is meaningful depending on Success. Failures are always materialized
// here; nothing panics past the registry boundary.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      *ToolFault      `json:"error,omitempty"`
}

// Fault builds a failed ToolResult for the given call.
func Fault(toolCallID string, kind FaultKind, message string) ToolResult {
	return ToolResult{
		ToolCallID: toolCallID,
		Success:    false,
		Error:      &ToolFault{Kind: kind, Message: message},
	}
}

// Content renders the result as text for inclusion in a tool-role message.
func (r ToolResult) Content() string {
	if r.Success {
		return string(r.Data)
	}
	if r.Error != nil {
		return r.Error.Error()
	}
	return "tool failed"
}
