// Package builtin provides the tools registered by the nexuscore CLI:
// echo, note and a workspace file reader.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/haasonsaas/nexuscore/internal/toolchain"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

// FilesSection is the workspace section the read tool merges into.
const FilesSection = "files"

// Config controls the builtin tools.
type Config struct {
	// Workspace is the root the read tool may access.
	Workspace    string
	MaxReadBytes int
}

// Register adds every builtin tool to reg.
func Register(reg *toolchain.Registry, cfg Config) error {
	for _, tool := range []*models.Tool{Echo(), Note(), Read(cfg)} {
		if err := reg.Register(tool); err != nil {
			return fmt.Errorf("register %s: %w", tool.ID, err)
		}
	}
	return nil
}

// Echo returns its text parameter. The output is appended to history.
func Echo() *models.Tool {
	return &models.Tool{
		ID:              "echo",
		Description:     "Return the given text unchanged.",
		ParameterSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		DefaultHint:     models.HintAppend,
		SideEffects:     "none",
		Executor: func(_ context.Context, params json.RawMessage, _ *models.Context) (*models.ToolResult, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(params, &in); err != nil {
				return nil, fmt.Errorf("%w: %v", toolchain.ErrInvalidInput, err)
			}
			return &models.ToolResult{Success: true, Output: in.Text}, nil
		},
	}
}

// Note adds a labeled layer to the context so later tools and the model
// can see it.
func Note() *models.Tool {
	return &models.Tool{
		ID:              "note",
		Description:     "Attach a titled note to the context as its own layer.",
		ParameterSchema: json.RawMessage(`{"type":"object","properties":{"title":{"type":"string","minLength":1},"text":{"type":"string"}},"required":["title","text"]}`),
		SideEffects:     "none",
		Executor: func(_ context.Context, params json.RawMessage, _ *models.Context) (*models.ToolResult, error) {
			var in struct {
				Title string `json:"title"`
				Text  string `json:"text"`
			}
			if err := json.Unmarshal(params, &in); err != nil {
				return nil, fmt.Errorf("%w: %v", toolchain.ErrInvalidInput, err)
			}
			return &models.ToolResult{
				Success: true,
				Output:  in.Text,
				Hint:    models.HintNewLayer,
				Section: in.Title,
			}, nil
		},
	}
}

// Read loads a workspace file and merges it into the files section keyed
// by its path.
func Read(cfg Config) *models.Tool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = 200000
	}
	resolver := Resolver{Root: cfg.Workspace}
	return &models.Tool{
		ID:              "read",
		Description:     "Read a file from the workspace with an optional byte limit.",
		ParameterSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","minLength":1},"max_bytes":{"type":"integer","minimum":0}},"required":["path"]}`),
		SideEffects:     "fs",
		Executor: func(ctx context.Context, params json.RawMessage, _ *models.Context) (*models.ToolResult, error) {
			var in struct {
				Path     string `json:"path"`
				MaxBytes int    `json:"max_bytes"`
			}
			if err := json.Unmarshal(params, &in); err != nil {
				return nil, fmt.Errorf("%w: %v", toolchain.ErrInvalidInput, err)
			}
			resolved, err := resolver.Resolve(in.Path)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", toolchain.ErrInvalidInput, err)
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			file, err := os.Open(resolved)
			if err != nil {
				return nil, fmt.Errorf("open file: %w", err)
			}
			defer file.Close()

			max := limit
			if in.MaxBytes > 0 && in.MaxBytes < max {
				max = in.MaxBytes
			}
			buf, err := io.ReadAll(io.LimitReader(file, int64(max)+1))
			if err != nil {
				return nil, fmt.Errorf("read file: %w", err)
			}
			content := string(buf)
			if len(buf) > max {
				content = strings.ToValidUTF8(string(buf[:max]), "")
			}
			return &models.ToolResult{
				Success: true,
				Output:  map[string]any{strings.TrimSpace(in.Path): content},
				Hint:    models.HintMerge,
				Section: FilesSection,
			}, nil
		},
	}
}
