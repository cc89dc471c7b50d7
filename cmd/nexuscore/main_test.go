package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/nexuscore/pkg/models"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"ask", "state", "events", "compensate", "config", "serve-metrics"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestParseToolFlag(t *testing.T) {
	tests := []struct {
		in      string
		wantID  string
		input   string
		wantErr bool
	}{
		{in: `echo:{"text":"a:b"}`, wantID: "echo", input: `{"text":"a:b"}`},
		{in: "note", wantID: "note"},
		{in: `read: {"path":"x"} `, wantID: "read", input: `{"path":"x"}`},
		{in: `:{}`, wantErr: true},
		{in: `echo:{broken`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			call, err := parseToolFlag(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if call.ToolID != tt.wantID || string(call.Input) != tt.input {
				t.Errorf("call = %s %s", call.ToolID, call.Input)
			}
		})
	}
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	workspace := filepath.Join(dir, "ws")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(workspace, "deploy.md"), []byte("deploy steps: build, push, rollout\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := `version: 1
logging:
  level: error
eventlog:
  backend: sqlite
  path: ` + filepath.Join(dir, "events.db") + `
llm:
  provider: none
workspace:
  root: ` + workspace + `
`
	path := filepath.Join(dir, "nexuscore.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestAskThenState(t *testing.T) {
	path := writeConfig(t)

	out, err := execute(t, "ask", "-c", path, "--session", "demo", "--query", "deploy steps",
		"--tool", `echo:{"text":"hello"}`, "--format", "json")
	if err != nil {
		t.Fatalf("ask error = %v\n%s", err, out)
	}
	var resp models.Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode response: %v\n%s", err, out)
	}
	if resp.Plan.NeedsInference {
		t.Error("inference planned with the none provider")
	}
	if resp.ChainStatus != models.ChainCompleted || len(resp.EventsAppended) != 3 {
		t.Errorf("resp = %+v", resp)
	}
	if !strings.Contains(strings.Join(resp.ContextSummary.Workspace, ","), "deploy.md") {
		t.Errorf("workspace keys = %v", resp.ContextSummary.Workspace)
	}

	out, err = execute(t, "state", "-c", path, "--session", "demo")
	if err != nil {
		t.Fatalf("state error = %v", err)
	}
	var state models.SessionState
	if err := json.Unmarshal([]byte(out), &state); err != nil {
		t.Fatalf("decode state: %v\n%s", err, out)
	}
	if state.Requests != 1 || len(state.Tools) != 1 || state.LastSequence != 3 {
		t.Errorf("state = %+v", state)
	}

	out, err = execute(t, "compensate", "-c", path, "--session", "demo", "--seq", "3", "--reason", "test")
	if err != nil || !strings.Contains(out, "with event 4") {
		t.Fatalf("compensate = %q, %v", out, err)
	}

	out, err = execute(t, "events", "-c", path, "--session", "demo")
	if err != nil {
		t.Fatalf("events error = %v", err)
	}
	if got := strings.Count(out, "\n"); got != 4 {
		t.Errorf("events output has %d lines, want 4:\n%s", got, out)
	}
}

func TestConfigCommands(t *testing.T) {
	path := writeConfig(t)
	out, err := execute(t, "config", "validate", "-c", path)
	if err != nil || !strings.Contains(out, "Config OK") || !strings.Contains(out, "sqlite") {
		t.Errorf("validate = %q, %v", out, err)
	}

	out, err = execute(t, "config", "schema")
	if err != nil {
		t.Fatalf("schema error = %v", err)
	}
	var schema map[string]any
	if err := json.Unmarshal([]byte(out), &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if _, ok := schema["properties"]; !ok {
		t.Errorf("schema = %s", out)
	}
}
