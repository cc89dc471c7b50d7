// Package llm is the model collaborator: a Client that turns an assembled
// context into a completion, OpenAI and Anthropic implementations, and an
// embedder for the semantic context source.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/nexuscore/pkg/models"
)

// Message is one chat message sent to the model.
type Message struct {
	Role    models.Role
	Content string
}

// Prompt is the provider-neutral request built from a context.
type Prompt struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// Client performs a single inference call.
type Client interface {
	Infer(ctx context.Context, prompt *Prompt) (*models.InferenceOutput, error)
	Model() string
}

// BuildPrompt renders the context for the model. Workspace snapshot and
// layers go into the system message; history becomes the conversation,
// followed by the query as the final user turn.
func BuildPrompt(system string, c *models.Context, maxTokens int) *Prompt {
	p := &Prompt{MaxTokens: maxTokens}
	var sys strings.Builder
	sys.WriteString(strings.TrimSpace(system))

	if c == nil {
		p.System = sys.String()
		return p
	}
	if len(c.Workspace) > 0 {
		writeSection(&sys, "Workspace", c.Workspace)
	}
	for _, layer := range c.Layers {
		writeSection(&sys, fmt.Sprintf("Layer %s (from %s)", layer.Name, layer.Source), layer.Data)
	}
	p.System = strings.TrimSpace(sys.String())

	for _, item := range c.History {
		role := item.Role
		switch role {
		case models.RoleUser, models.RoleAssistant:
		case models.RoleTool:
			role = models.RoleUser
			item.Content = fmt.Sprintf("[tool %s] %s", item.Source, item.Content)
		default:
			role = models.RoleSystem
		}
		p.Messages = append(p.Messages, Message{Role: role, Content: item.Content})
	}
	if q := strings.TrimSpace(c.Query); q != "" {
		p.Messages = append(p.Messages, Message{Role: models.RoleUser, Content: q})
	}
	return p
}

func writeSection(b *strings.Builder, title string, data any) {
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteByte('\n')
	if m, ok := data.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "### %s\n%s\n", k, render(m[k]))
		}
		return
	}
	b.WriteString(render(data))
	b.WriteByte('\n')
}

func render(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
