package models

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// CharsPerToken is the cheap proxy used to turn character counts into
// token estimates (~4 chars/token for English text).
const CharsPerToken = 4

// EstimateTokens returns ceil(runes / CharsPerToken).
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + CharsPerToken - 1) / CharsPerToken
}

// EstimateValueTokens estimates the token cost of an arbitrary value by
// measuring its JSON encoding. Strings are measured directly.
func EstimateValueTokens(v any) int {
	switch val := v.(type) {
	case nil:
		return 0
	case string:
		return EstimateTokens(val)
	case []byte:
		return EstimateTokens(string(val))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return EstimateTokens(fmt.Sprint(v))
	}
	return EstimateTokens(string(data))
}

// EntryTokens estimates the cost of a single snapshot entry.
func EntryTokens(key string, value any) int {
	return EstimateTokens(key) + EstimateValueTokens(value)
}

// TruncateToTokens cuts text so that EstimateTokens(result) <= maxTokens.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens * CharsPerToken
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}
