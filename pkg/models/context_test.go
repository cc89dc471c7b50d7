package models

import (
	"errors"
	"testing"
)

func sumTokens(c *Context) int {
	total := 0
	for _, n := range c.Metadata.SourceTokens {
		total += n
	}
	return total
}

func TestContext_AppendInteractionsIsCopyOnWrite(t *testing.T) {
	base := NewContext("s1", "q")
	next := base.AppendInteractions("history", Interaction{ID: "1", Role: RoleUser, Content: "hello world"})

	if len(base.History) != 0 {
		t.Fatalf("base context mutated: %d interactions", len(base.History))
	}
	if len(next.History) != 1 {
		t.Fatalf("expected 1 interaction, got %d", len(next.History))
	}
	if next.History[0].Source != "history" {
		t.Errorf("source = %q, want history", next.History[0].Source)
	}
	if next.TokenCount != sumTokens(next) {
		t.Errorf("token count %d != source sum %d", next.TokenCount, sumTokens(next))
	}
	if next.TokenCount != EstimateTokens("hello world") {
		t.Errorf("token count = %d, want %d", next.TokenCount, EstimateTokens("hello world"))
	}
}

func TestContext_MergeSection(t *testing.T) {
	base := NewContext("s1", "q")
	base.Workspace["repo"] = map[string]any{"name": "nexus", "meta": map[string]any{"stars": 1}}

	merged, err := base.MergeSection("tool:a", "repo", map[string]any{"meta": map[string]any{"forks": 2}})
	if err != nil {
		t.Fatalf("MergeSection: %v", err)
	}
	meta := merged.Workspace["repo"].(map[string]any)["meta"].(map[string]any)
	if meta["stars"] != 1 || meta["forks"] != 2 {
		t.Errorf("deep merge lost keys: %v", meta)
	}
	if _, ok := base.Workspace["repo"].(map[string]any)["meta"].(map[string]any)["forks"]; ok {
		t.Error("merge mutated the original context")
	}

	base.Workspace["scalar"] = "x"
	if _, err := base.MergeSection("tool:a", "scalar", map[string]any{"a": 1}); !errors.Is(err, ErrInvalidSection) {
		t.Errorf("expected ErrInvalidSection, got %v", err)
	}
}

func TestContext_ReplaceSection(t *testing.T) {
	base := NewContext("s1", "q")
	out, err := base.ReplaceSection("tool:b", "analysis.summary", "done")
	if err != nil {
		t.Fatalf("ReplaceSection: %v", err)
	}
	if v, ok := out.Section("analysis.summary"); !ok || v != "done" {
		t.Errorf("section = %v, %v", v, ok)
	}
	if _, err := base.ReplaceSection("tool:b", "", "x"); !errors.Is(err, ErrInvalidSection) {
		t.Errorf("expected ErrInvalidSection for empty path, got %v", err)
	}
}

func TestContext_AppendToSection(t *testing.T) {
	base := NewContext("s1", "q")
	one, err := base.AppendToSection("tool:a", "findings", "first")
	if err != nil {
		t.Fatalf("AppendToSection: %v", err)
	}
	two, err := one.AppendToSection("tool:b", "findings", "second")
	if err != nil {
		t.Fatalf("AppendToSection: %v", err)
	}
	list := two.Workspace["findings"].([]any)
	if len(list) != 2 || list[0] != "first" || list[1] != "second" {
		t.Errorf("findings = %v", list)
	}
	if len(one.Workspace["findings"].([]any)) != 1 {
		t.Error("append mutated the previous context")
	}
}

func TestContext_AddLayerPreservesPriorLayers(t *testing.T) {
	base := NewContext("s1", "q")
	one := base.AddLayer("tool:a", Layer{Name: "first", Data: "a"})
	two := one.AddLayer("tool:b", Layer{Name: "second", Data: "b"})

	if len(two.Layers) != 2 || two.Layers[0].Name != "first" || two.Layers[1].Name != "second" {
		t.Errorf("layers = %+v", two.Layers)
	}
	if len(one.Layers) != 1 {
		t.Errorf("previous context has %d layers", len(one.Layers))
	}
	if two.TokenCount != sumTokens(two) {
		t.Errorf("token count invariant broken: %d vs %d", two.TokenCount, sumTokens(two))
	}
	summary := two.Summary()
	if len(summary.Layers) != 2 {
		t.Errorf("summary layers = %v", summary.Layers)
	}
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"x": 1}, "b": 1}
	src := map[string]any{"a": map[string]any{"y": 2}, "b": 2, "c": 3}
	out := DeepMerge(dst, src)

	a := out["a"].(map[string]any)
	if a["x"] != 1 || a["y"] != 2 {
		t.Errorf("nested merge = %v", a)
	}
	if out["b"] != 2 || out["c"] != 3 {
		t.Errorf("scalar merge = %v", out)
	}
	if _, ok := dst["c"]; ok {
		t.Error("DeepMerge mutated dst")
	}
}

func TestContext_WithContributionAttributesExactTokens(t *testing.T) {
	contrib := &Contribution{
		Source:       "workspace",
		Interactions: []Interaction{{ID: "1", Content: "some earlier turn"}},
		Snapshot:     map[string]any{"README.md": "hello", "stats": map[string]any{"files": 3}},
	}
	out := NewContext("s1", "q").WithContribution(contrib)

	if out.TokenCount != contrib.Tokens() {
		t.Errorf("token count = %d, want %d", out.TokenCount, contrib.Tokens())
	}
	if out.Metadata.SourceTokens["workspace"] != contrib.Tokens() {
		t.Errorf("source tokens = %v", out.Metadata.SourceTokens)
	}
	if out.History[0].Source != "workspace" {
		t.Errorf("interaction source = %q", out.History[0].Source)
	}
	if _, ok := out.Section("stats.files"); !ok {
		t.Error("snapshot not merged into workspace")
	}
	contrib.Snapshot["README.md"] = "changed"
	if out.Workspace["README.md"] != "hello" {
		t.Error("context shares snapshot with contribution")
	}
}
