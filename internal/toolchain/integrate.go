package toolchain

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/nexuscore/pkg/models"
)

// SourceName is the token-accounting source for a call's integrated result.
func SourceName(callID string) string {
	return "tool:" + callID
}

// Integrate folds a successful result into shared according to its hint and
// returns the new context. shared is never modified.
func Integrate(shared *models.Context, res *models.ToolResult) (*models.Context, error) {
	if res == nil {
		return nil, fmt.Errorf("nil tool result")
	}
	source := SourceName(res.CallID)

	switch res.Hint {
	case models.HintAppend:
		if res.Section == "" {
			return shared.AppendInteractions(source, models.Interaction{
				ID:       res.CallID,
				Role:     models.RoleTool,
				Content:  renderOutput(res.Output),
				Metadata: map[string]any{"tool_id": res.ToolID},
			}), nil
		}
		return shared.AppendToSection(source, res.Section, normalize(res.Output))

	case models.HintMerge:
		m, err := asMap(res.Output)
		if err != nil {
			return nil, fmt.Errorf("merge result of %s: %w", res.CallID, err)
		}
		return shared.MergeSection(source, res.Section, m)

	case models.HintReplaceSection:
		if res.Section == "" {
			return nil, fmt.Errorf("replace_section result of %s names no section", res.CallID)
		}
		return shared.ReplaceSection(source, res.Section, normalize(res.Output))

	case models.HintNewLayer:
		name := res.Section
		if name == "" {
			name = res.ToolID
		}
		return shared.AddLayer(source, models.Layer{Name: name, Data: normalize(res.Output)}), nil

	default:
		return nil, fmt.Errorf("unknown integration hint %q", res.Hint)
	}
}

// normalize converts structured outputs into plain maps and slices so they
// can be cloned and merged like any other workspace data.
func normalize(v any) any {
	switch val := v.(type) {
	case nil, string, bool, float64, int, int64, map[string]any, []any:
		return v
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(val, &decoded); err != nil {
			return string(val)
		}
		return decoded
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return string(data)
		}
		return decoded
	}
}

func asMap(v any) (map[string]any, error) {
	m, ok := normalize(v).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("output is %T, not an object", v)
	}
	return m, nil
}
