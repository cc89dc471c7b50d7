package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// IntegrationHint tells the result integrator how to fold a tool result
// into the shared context.
type IntegrationHint string

const (
	// HintAppend adds the output to an ordered list: History when no
	// section is named, otherwise the workspace list at Section.
	HintAppend IntegrationHint = "append"

	// HintMerge deep-merges a map output into the workspace (or Section).
	HintMerge IntegrationHint = "merge"

	// HintReplaceSection overwrites the workspace subtree at Section.
	HintReplaceSection IntegrationHint = "replace_section"

	// HintNewLayer adds a labeled context layer, preserving earlier layers.
	HintNewLayer IntegrationHint = "new_layer"
)

// Valid reports whether h is a known hint.
func (h IntegrationHint) Valid() bool {
	switch h {
	case HintAppend, HintMerge, HintReplaceSection, HintNewLayer:
		return true
	default:
		return false
	}
}

// ToolExecutor runs a tool against its parameters and a read-only view of
// the shared context. Side effects must stay inside the tool's declared
// boundary.
type ToolExecutor func(ctx context.Context, params json.RawMessage, shared *Context) (*ToolResult, error)

// SecurityConstraints restrict when a tool may run.
type SecurityConstraints struct {
	// MaxInputBytes rejects calls with larger parameter payloads (0 = unlimited).
	MaxInputBytes int `json:"max_input_bytes,omitempty" yaml:"max_input_bytes"`

	// RequiresSections lists workspace sections that must exist before the
	// tool may run.
	RequiresSections []string `json:"requires_sections,omitempty" yaml:"requires_sections"`

	// ForbidsSections lists workspace sections whose presence blocks the tool.
	ForbidsSections []string `json:"forbids_sections,omitempty" yaml:"forbids_sections"`

	// Check is an additional predicate evaluated against the current shared
	// context. A non-nil error rejects the call.
	Check func(shared *Context) error `json:"-" yaml:"-"`
}

// Tool describes an executable tool. Tools are owned by the tool registry
// and referenced, never copied, during a chain run.
type Tool struct {
	ID              string              `json:"id"`
	Description     string              `json:"description,omitempty"`
	ParameterSchema json.RawMessage     `json:"parameter_schema,omitempty"`
	Constraints     SecurityConstraints `json:"constraints"`

	// DefaultHint is used when the executor returns a result without a hint.
	DefaultHint IntegrationHint `json:"default_hint,omitempty"`

	// SideEffects documents the tool's side-effect boundary ("none", "fs", "net").
	SideEffects string `json:"side_effects,omitempty"`

	Executor ToolExecutor `json:"-"`
}

// CanExecute evaluates the tool's safety predicate against the shared
// context as it is right now.
func (t *Tool) CanExecute(shared *Context, params json.RawMessage) error {
	if t == nil {
		return fmt.Errorf("tool is nil")
	}
	c := t.Constraints
	if c.MaxInputBytes > 0 && len(params) > c.MaxInputBytes {
		return fmt.Errorf("input of %d bytes exceeds limit of %d", len(params), c.MaxInputBytes)
	}
	for _, section := range c.RequiresSections {
		if _, ok := shared.Section(section); !ok {
			return fmt.Errorf("required section %q missing", section)
		}
	}
	for _, section := range c.ForbidsSections {
		if _, ok := shared.Section(section); ok {
			return fmt.Errorf("forbidden section %q present", section)
		}
	}
	if c.Check != nil {
		return c.Check(shared)
	}
	return nil
}

// Clone returns a copy of the tool with its own schema and constraint
// slices. The executor and Check predicate are shared.
func (t *Tool) Clone() *Tool {
	if t == nil {
		return nil
	}
	out := *t
	out.ParameterSchema = append(json.RawMessage(nil), t.ParameterSchema...)
	out.Constraints.RequiresSections = append([]string(nil), t.Constraints.RequiresSections...)
	out.Constraints.ForbidsSections = append([]string(nil), t.Constraints.ForbidsSections...)
	return &out
}

// WithExecutor returns a shallow copy of the tool using exec. Tool adapters
// use it to wrap behavior without mutating the registered definition.
func (t *Tool) WithExecutor(exec ToolExecutor) *Tool {
	out := *t
	out.Executor = exec
	return &out
}

// ToolCall is one step of a tool chain.
type ToolCall struct {
	ID     string          `json:"id"`
	ToolID string          `json:"tool_id"`
	Input  json.RawMessage `json:"input,omitempty"`

	// DependsOn lists IDs of earlier calls whose results this call needs.
	DependsOn []string `json:"depends_on,omitempty"`

	// StopWhen, when it returns true for this call's result, completes the
	// chain early.
	StopWhen func(*ToolResult) bool `json:"-"`
}

// ToolResult is the output of one tool execution.
type ToolResult struct {
	CallID  string          `json:"call_id"`
	ToolID  string          `json:"tool_id"`
	Success bool            `json:"success"`
	Output  any             `json:"output,omitempty"`
	Hint    IntegrationHint `json:"integration_hint"`

	// Section names the workspace path (APPEND/MERGE/REPLACE_SECTION) or
	// the layer name (NEW_LAYER).
	Section string `json:"section,omitempty"`

	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}
