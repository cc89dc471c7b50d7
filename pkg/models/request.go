package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation marks a malformed request. It is always returned before any
// side effect takes place.
var ErrValidation = errors.New("validation failed")

// ValidationError describes which request field is invalid.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Transport-level size limits.
const (
	MaxQueryLength     = 64 << 10
	MaxSessionIDLength = 256
	MaxToolsPerRequest = 64
)

// NormalizedRequest is the transport-agnostic request handled by the core.
type NormalizedRequest struct {
	ID        string     `json:"id,omitempty"`
	Query     string     `json:"query"`
	SessionID string     `json:"session_id"`
	Tools     []ToolCall `json:"required_tools,omitempty"`
	MaxTokens int        `json:"max_tokens"`

	// SkipInference disables the LLM call even when a query is present.
	SkipInference bool `json:"skip_inference,omitempty"`

	// IncludeState asks for the projected session state in the response.
	IncludeState bool `json:"include_state,omitempty"`
}

// Validate checks the request shape. Missing tool-call IDs are filled in
// deterministically ("call-1", "call-2", ...).
func (r *NormalizedRequest) Validate() error {
	if r == nil {
		return &ValidationError{Field: "request", Message: "is nil"}
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return &ValidationError{Field: "session_id", Message: "is required"}
	}
	if len(r.SessionID) > MaxSessionIDLength {
		return &ValidationError{Field: "session_id", Message: fmt.Sprintf("exceeds %d characters", MaxSessionIDLength)}
	}
	if len(r.Query) > MaxQueryLength {
		return &ValidationError{Field: "query", Message: fmt.Sprintf("exceeds %d bytes", MaxQueryLength)}
	}
	if strings.TrimSpace(r.Query) == "" && len(r.Tools) == 0 {
		return &ValidationError{Field: "query", Message: "query or tools are required"}
	}
	if r.MaxTokens < 0 {
		return &ValidationError{Field: "max_tokens", Message: "must not be negative"}
	}
	if len(r.Tools) > MaxToolsPerRequest {
		return &ValidationError{Field: "required_tools", Message: fmt.Sprintf("at most %d tools per request", MaxToolsPerRequest)}
	}
	seen := make(map[string]bool, len(r.Tools))
	for i := range r.Tools {
		call := &r.Tools[i]
		if strings.TrimSpace(call.ToolID) == "" {
			return &ValidationError{Field: fmt.Sprintf("required_tools[%d].tool_id", i), Message: "is required"}
		}
		if call.ID == "" {
			call.ID = fmt.Sprintf("call-%d", i+1)
		}
		if seen[call.ID] {
			return &ValidationError{Field: fmt.Sprintf("required_tools[%d].id", i), Message: fmt.Sprintf("duplicate call id %q", call.ID)}
		}
		seen[call.ID] = true
	}
	return nil
}

// ProcessingPlan lists the steps a request needs. It is built once per
// request and consumed by the coordinator.
type ProcessingPlan struct {
	NeedsContext   bool `json:"needs_context"`
	NeedsTools     bool `json:"needs_tools"`
	NeedsInference bool `json:"needs_inference"`
}

// InferenceOutput is the LLM collaborator's answer.
type InferenceOutput struct {
	Content          string `json:"content"`
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// ChainStatus is the terminal state of a tool chain run.
type ChainStatus string

const (
	ChainPlanning        ChainStatus = "planning"
	ChainExecuting       ChainStatus = "executing"
	ChainCompleted       ChainStatus = "completed"
	ChainPartiallyFailed ChainStatus = "partially_failed"
	ChainAborted         ChainStatus = "aborted"
)

// Response is returned by the coordinator. When an error accompanies it,
// the fields still carry whatever work succeeded.
type Response struct {
	RequestID       string           `json:"request_id"`
	SessionID       string           `json:"session_id"`
	Plan            ProcessingPlan   `json:"plan"`
	ContextSummary  ContextSummary   `json:"context_summary"`
	ToolResults     []ToolResult     `json:"tool_results,omitempty"`
	ChainStatus     ChainStatus      `json:"chain_status,omitempty"`
	InferenceOutput *InferenceOutput `json:"inference_output,omitempty"`
	EventsAppended  []EventRef       `json:"events_appended"`
	State           *SessionState    `json:"state,omitempty"`
}
