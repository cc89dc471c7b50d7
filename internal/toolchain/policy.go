package toolchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexuscore/internal/enhancers"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

// Policy defines tool access rules. Deny rules always take precedence over
// allow rules; an empty allow list allows every tool that is not denied.
// Entries may be tool ids, "*", prefix wildcards ("fs.*") or group names.
type Policy struct {
	Allow  []string            `json:"allow,omitempty" yaml:"allow"`
	Deny   []string            `json:"deny,omitempty" yaml:"deny"`
	Groups map[string][]string `json:"groups,omitempty" yaml:"groups"`
}

// DefaultGroups are the built-in tool groups.
var DefaultGroups = map[string][]string{
	"group:readonly": {"echo", "search", "read"},
	"group:notes":    {"note"},
}

// Allows reports whether toolID passes the policy.
func (p *Policy) Allows(toolID string) bool {
	if p == nil {
		return true
	}
	id := normalizeTool(toolID)
	if p.matchesAny(p.Deny, id) {
		return false
	}
	if len(p.Allow) == 0 {
		return true
	}
	return p.matchesAny(p.Allow, id)
}

func (p *Policy) matchesAny(patterns []string, id string) bool {
	for _, pattern := range p.expand(patterns) {
		pattern = normalizeTool(pattern)
		switch {
		case pattern == "*":
			return true
		case strings.HasSuffix(pattern, "*"):
			if strings.HasPrefix(id, strings.TrimSuffix(pattern, "*")) {
				return true
			}
		case pattern == id:
			return true
		}
	}
	return false
}

func (p *Policy) expand(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if !strings.HasPrefix(pattern, "group:") {
			out = append(out, pattern)
			continue
		}
		if members, ok := p.Groups[pattern]; ok {
			out = append(out, members...)
		} else if members, ok := DefaultGroups[pattern]; ok {
			out = append(out, members...)
		}
	}
	return out
}

func normalizeTool(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Adapter returns a tool adapter that adds the policy to every tool's
// safety predicate, so denied tools are rejected as unsafe at execution
// time.
func (p *Policy) Adapter(id string, priority int) *enhancers.ToolAdapter {
	return enhancers.NewToolAdapter(id, priority, func(_ context.Context, tool *models.Tool) (*models.Tool, error) {
		toolID := tool.ID
		prev := tool.Constraints.Check
		tool.Constraints.Check = func(shared *models.Context) error {
			if !p.Allows(toolID) {
				return fmt.Errorf("tool %s denied by policy", toolID)
			}
			if prev != nil {
				return prev(shared)
			}
			return nil
		}
		return tool, nil
	})
}
