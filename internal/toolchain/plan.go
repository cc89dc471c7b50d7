package toolchain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/nexuscore/pkg/models"
)

// Invocation pairs a call with the (possibly adapted) tool that serves it.
type Invocation struct {
	Tool *models.Tool
	Call models.ToolCall
}

var refPattern = regexp.MustCompile(`\{\{\s*ref:([A-Za-z0-9_.:\-]+)\s*\}\}`)

// refs returns the call IDs referenced by {{ref:<id>}} placeholders in input.
func refs(input json.RawMessage) []string {
	matches := refPattern.FindAllSubmatch(input, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, string(m[1]))
	}
	return out
}

// plan checks that every dependency points at an earlier call and that
// inputs without placeholders match their tool's schema. It fills missing
// call IDs in place.
func plan(seq []Invocation) error {
	seen := make(map[string]bool, len(seq))
	all := make(map[string]bool, len(seq))
	for i := range seq {
		if seq[i].Call.ID == "" {
			seq[i].Call.ID = fmt.Sprintf("call-%d", i+1)
		}
		all[seq[i].Call.ID] = true
	}

	for _, inv := range seq {
		call := inv.Call
		if seen[call.ID] {
			return &PlanError{CallID: call.ID, Reason: "duplicate call id"}
		}
		if inv.Tool == nil {
			return &PlanError{CallID: call.ID, Reason: "cannot resolve tool", Cause: fmt.Errorf("%w: %s", ErrToolNotFound, call.ToolID)}
		}
		if inv.Tool.Executor == nil {
			return &PlanError{CallID: call.ID, Reason: fmt.Sprintf("tool %s has no executor", inv.Tool.ID)}
		}

		deps := append(append([]string(nil), call.DependsOn...), refs(call.Input)...)
		for _, dep := range deps {
			switch {
			case dep == call.ID:
				return &PlanError{CallID: call.ID, Reason: "depends on itself"}
			case seen[dep]:
			case all[dep]:
				return &PlanError{CallID: call.ID, Reason: fmt.Sprintf("depends on %q which runs later", dep)}
			default:
				return &PlanError{CallID: call.ID, Reason: fmt.Sprintf("depends on unknown call %q", dep)}
			}
		}

		if len(call.Input) > 0 && !json.Valid(call.Input) {
			return &PlanError{CallID: call.ID, Reason: "input is not valid JSON", Cause: ErrInvalidInput}
		}
		if len(refs(call.Input)) == 0 {
			if err := validateInput(inv.Tool.ParameterSchema, call.Input); err != nil {
				return &PlanError{CallID: call.ID, Reason: "input does not match schema", Cause: err}
			}
		}
		seen[call.ID] = true
	}
	return nil
}

// substituteRefs replaces placeholders with outputs of completed calls. A
// string that is exactly one placeholder becomes the referenced output
// value; placeholders inside longer strings are replaced with its text.
func substituteRefs(input json.RawMessage, outputs map[string]any) (json.RawMessage, error) {
	if !refPattern.Match(input) {
		return input, nil
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidInput, err)
	}
	replaced, err := replaceRefs(decoded, outputs)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(replaced)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrInvalidInput, err)
	}
	return out, nil
}

func replaceRefs(v any, outputs map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		if m := refPattern.FindStringSubmatch(val); m != nil && m[0] == strings.TrimSpace(val) {
			out, ok := outputs[m[1]]
			if !ok {
				return nil, fmt.Errorf("%w: no output for %q", ErrInvalidInput, m[1])
			}
			return out, nil
		}
		var missing string
		s := refPattern.ReplaceAllStringFunc(val, func(match string) string {
			id := refPattern.FindStringSubmatch(match)[1]
			out, ok := outputs[id]
			if !ok {
				missing = id
				return match
			}
			return renderOutput(out)
		})
		if missing != "" {
			return nil, fmt.Errorf("%w: no output for %q", ErrInvalidInput, missing)
		}
		return s, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := replaceRefs(item, outputs)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := replaceRefs(item, outputs)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// renderOutput turns a tool output into text.
func renderOutput(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.RawMessage:
		return string(bytes.TrimSpace(val))
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
