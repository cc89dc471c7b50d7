package toolchain

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexuscore/pkg/models"
)

func TestIntegrate(t *testing.T) {
	base, err := models.NewContext("s", "q").MergeSection("seed", "", map[string]any{
		"notes":   []any{"n1"},
		"profile": map[string]any{"name": "ada"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	tests := []struct {
		name  string
		res   models.ToolResult
		check func(t *testing.T, c *models.Context)
	}{
		{
			name: "append to history",
			res:  models.ToolResult{CallID: "c1", ToolID: "echo", Hint: models.HintAppend, Output: "hello"},
			check: func(t *testing.T, c *models.Context) {
				if len(c.History) != 1 || c.History[0].Content != "hello" {
					t.Errorf("history = %+v", c.History)
				}
			},
		},
		{
			name: "append to section",
			res:  models.ToolResult{CallID: "c1", Hint: models.HintAppend, Section: "notes", Output: "n2"},
			check: func(t *testing.T, c *models.Context) {
				v, _ := c.Section("notes")
				if list, ok := v.([]any); !ok || len(list) != 2 {
					t.Errorf("notes = %v", v)
				}
			},
		},
		{
			name: "merge raw json",
			res:  models.ToolResult{CallID: "c1", Hint: models.HintMerge, Section: "profile", Output: json.RawMessage(`{"age":36}`)},
			check: func(t *testing.T, c *models.Context) {
				if v, ok := c.Section("profile.name"); !ok || v != "ada" {
					t.Errorf("profile.name = %v", v)
				}
				if _, ok := c.Section("profile.age"); !ok {
					t.Error("profile.age missing after merge")
				}
			},
		},
		{
			name: "replace section",
			res:  models.ToolResult{CallID: "c1", Hint: models.HintReplaceSection, Section: "profile", Output: map[string]any{"name": "grace"}},
			check: func(t *testing.T, c *models.Context) {
				if v, _ := c.Section("profile.name"); v != "grace" {
					t.Errorf("profile.name = %v", v)
				}
			},
		},
		{
			name: "new layer named after tool",
			res:  models.ToolResult{CallID: "c1", ToolID: "search", Hint: models.HintNewLayer, Output: []any{"r1"}},
			check: func(t *testing.T, c *models.Context) {
				if len(c.Layers) != 1 || c.Layers[0].Name != "search" || c.Layers[0].Source != "tool:c1" {
					t.Errorf("layers = %+v", c.Layers)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.res
			out, err := Integrate(base, &res)
			if err != nil {
				t.Fatalf("Integrate: %v", err)
			}
			tt.check(t, out)
			if out.Metadata.SourceTokens["tool:c1"] == 0 {
				t.Error("no tokens attributed to tool:c1")
			}
			if out.TokenCount <= base.TokenCount {
				t.Error("token count did not grow")
			}
		})
	}
}

func TestIntegrate_Errors(t *testing.T) {
	base := models.NewContext("s", "q")
	tests := []struct {
		name string
		res  models.ToolResult
	}{
		{"replace without section", models.ToolResult{CallID: "c", Hint: models.HintReplaceSection, Output: "x"}},
		{"merge scalar", models.ToolResult{CallID: "c", Hint: models.HintMerge, Output: 3.5}},
		{"unknown hint", models.ToolResult{CallID: "c", Hint: "shuffle", Output: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.res
			if _, err := Integrate(base, &res); err == nil {
				t.Error("expected error")
			}
		})
	}
}
