package toolchain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/nexuscore/pkg/models"
)

// Registry owns tool definitions. Tools are referenced, never copied, by
// chain runs.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*models.Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*models.Tool)}
}

// Register adds a tool. The parameter schema, if any, must compile.
func (r *Registry) Register(tool *models.Tool) error {
	if tool == nil || strings.TrimSpace(tool.ID) == "" {
		return fmt.Errorf("tool id is required")
	}
	if tool.Executor == nil {
		return fmt.Errorf("tool %s has no executor", tool.ID)
	}
	if tool.DefaultHint != "" && !tool.DefaultHint.Valid() {
		return fmt.Errorf("tool %s: unknown integration hint %q", tool.ID, tool.DefaultHint)
	}
	if len(tool.ParameterSchema) > 0 {
		if !json.Valid(tool.ParameterSchema) {
			return fmt.Errorf("tool %s: parameter schema is not valid JSON", tool.ID)
		}
		if _, err := compileSchema(tool.ParameterSchema); err != nil {
			return fmt.Errorf("tool %s: compile parameter schema: %w", tool.ID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.ID]; exists {
		return fmt.Errorf("tool %s already registered", tool.ID)
	}
	r.tools[tool.ID] = tool
	return nil
}

// Lookup returns the tool registered under id.
func (r *Registry) Lookup(id string) (*models.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, id)
	}
	return tool, nil
}

// List returns all tools sorted by id.
func (r *Registry) List() []*models.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve pairs each call with its tool. Unknown tools leave Tool nil so
// planning can reject the chain before anything runs.
func (r *Registry) Resolve(calls []models.ToolCall) []Invocation {
	out := make([]Invocation, len(calls))
	for i, call := range calls {
		tool, _ := r.Lookup(call.ToolID)
		out[i] = Invocation{Tool: tool, Call: call}
	}
	return out
}
