package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidSection is returned when a workspace section path cannot be
// resolved or has the wrong shape for the requested operation.
var ErrInvalidSection = errors.New("invalid workspace section")

// Layer is an additional, labeled block of context added on top of the
// assembled context without altering earlier layers.
type Layer struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Data   any    `json:"data"`
}

// ContextMetadata records assembly provenance.
type ContextMetadata struct {
	// Sources lists contributing sources in composition order.
	Sources []string `json:"sources"`

	// SourceTokens holds the token count contributed by each source.
	SourceTokens map[string]int `json:"source_tokens"`

	// Relevance holds the relevance score of each surviving source.
	Relevance map[string]float64 `json:"relevance,omitempty"`

	// Failed maps source names to the error that made them unavailable.
	Failed map[string]string `json:"failed,omitempty"`

	// Dropped lists sources removed by the relevance filter or trimming.
	Dropped []string `json:"dropped,omitempty"`

	// Truncated lists sources whose contribution was cut to fit the budget.
	Truncated []string `json:"truncated,omitempty"`

	// Score is the composed relevance score used by the quality gate.
	Score float64 `json:"score"`

	// Enhancers lists the adapters applied to this context, in order.
	Enhancers []string `json:"enhancers,omitempty"`
}

func (m ContextMetadata) clone() ContextMetadata {
	out := ContextMetadata{
		Sources:   append([]string(nil), m.Sources...),
		Dropped:   append([]string(nil), m.Dropped...),
		Truncated: append([]string(nil), m.Truncated...),
		Enhancers: append([]string(nil), m.Enhancers...),
		Score:     m.Score,
	}
	if m.SourceTokens != nil {
		out.SourceTokens = make(map[string]int, len(m.SourceTokens))
		for k, v := range m.SourceTokens {
			out.SourceTokens[k] = v
		}
	}
	if m.Relevance != nil {
		out.Relevance = make(map[string]float64, len(m.Relevance))
		for k, v := range m.Relevance {
			out.Relevance[k] = v
		}
	}
	if m.Failed != nil {
		out.Failed = make(map[string]string, len(m.Failed))
		for k, v := range m.Failed {
			out.Failed[k] = v
		}
	}
	return out
}

// Context is the assembled bundle handed to the LLM. A *Context is never
// mutated after construction: every transformation returns a new value.
type Context struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`

	// History is the ordered, append-only conversation history.
	History []Interaction `json:"history"`

	// Workspace is an opaque source-keyed snapshot.
	Workspace map[string]any `json:"workspace"`

	// Layers are additional labeled blocks, in insertion order.
	Layers []Layer `json:"layers,omitempty"`

	Metadata ContextMetadata `json:"metadata"`

	// TokenCount equals the sum of Metadata.SourceTokens.
	TokenCount int `json:"token_count"`
}

// NewContext returns an empty context for a session and query.
func NewContext(sessionID, query string) *Context {
	return &Context{
		SessionID: sessionID,
		Query:     query,
		Workspace: map[string]any{},
		Metadata: ContextMetadata{
			SourceTokens: map[string]int{},
			Relevance:    map[string]float64{},
		},
	}
}

// Clone returns a deep copy of the context.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := &Context{
		SessionID:  c.SessionID,
		Query:      c.Query,
		Workspace:  cloneMap(c.Workspace),
		Metadata:   c.Metadata.clone(),
		TokenCount: c.TokenCount,
	}
	if out.Workspace == nil {
		out.Workspace = map[string]any{}
	}
	if out.Metadata.SourceTokens == nil {
		out.Metadata.SourceTokens = map[string]int{}
	}
	if len(c.History) > 0 {
		out.History = make([]Interaction, len(c.History))
		for i, item := range c.History {
			out.History[i] = item.Clone()
		}
	}
	if len(c.Layers) > 0 {
		out.Layers = make([]Layer, len(c.Layers))
		for i, l := range c.Layers {
			out.Layers[i] = Layer{Name: l.Name, Source: l.Source, Data: cloneValue(l.Data)}
		}
	}
	return out
}

// recount restores the TokenCount invariant.
func (c *Context) recount() {
	total := 0
	for _, n := range c.Metadata.SourceTokens {
		total += n
	}
	c.TokenCount = total
}

func (c *Context) addTokens(source string, n int) {
	if _, ok := c.Metadata.SourceTokens[source]; !ok {
		c.Metadata.Sources = append(c.Metadata.Sources, source)
	}
	c.Metadata.SourceTokens[source] += n
	c.recount()
}

// AppendInteractions returns a copy with items appended to History and
// their tokens attributed to source.
func (c *Context) AppendInteractions(source string, items ...Interaction) *Context {
	out := c.Clone()
	tokens := 0
	for _, item := range items {
		if item.Source == "" {
			item.Source = source
		}
		out.History = append(out.History, item.Clone())
		tokens += item.Tokens()
	}
	out.addTokens(source, tokens)
	return out
}

// AppendToSection returns a copy where value is appended to the list stored
// at the dotted workspace path. A missing list is created.
func (c *Context) AppendToSection(source, path string, value any) (*Context, error) {
	out := c.Clone()
	parent, key, err := out.resolve(path, true)
	if err != nil {
		return nil, err
	}
	switch existing := parent[key].(type) {
	case nil:
		parent[key] = []any{cloneValue(value)}
	case []any:
		parent[key] = append(existing, cloneValue(value))
	default:
		return nil, fmt.Errorf("%w: %q holds %T, not a list", ErrInvalidSection, path, existing)
	}
	out.addTokens(source, EstimateValueTokens(value))
	return out, nil
}

// MergeSection returns a copy with data deep-merged into the map at the
// dotted workspace path. An empty path merges into the workspace root.
func (c *Context) MergeSection(source, path string, data map[string]any) (*Context, error) {
	out := c.Clone()
	if strings.TrimSpace(path) == "" {
		out.Workspace = DeepMerge(out.Workspace, data)
		out.addTokens(source, EstimateValueTokens(data))
		return out, nil
	}
	parent, key, err := out.resolve(path, true)
	if err != nil {
		return nil, err
	}
	switch existing := parent[key].(type) {
	case nil:
		parent[key] = cloneMap(data)
	case map[string]any:
		parent[key] = DeepMerge(existing, data)
	default:
		return nil, fmt.Errorf("%w: %q holds %T, not a map", ErrInvalidSection, path, existing)
	}
	out.addTokens(source, EstimateValueTokens(data))
	return out, nil
}

// ReplaceSection returns a copy where the subtree at the dotted workspace
// path is overwritten with value.
func (c *Context) ReplaceSection(source, path string, value any) (*Context, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: replace requires a section path", ErrInvalidSection)
	}
	out := c.Clone()
	parent, key, err := out.resolve(path, true)
	if err != nil {
		return nil, err
	}
	parent[key] = cloneValue(value)
	out.addTokens(source, EstimateValueTokens(value))
	return out, nil
}

// AddLayer returns a copy with layer appended after all existing layers.
func (c *Context) AddLayer(source string, layer Layer) *Context {
	out := c.Clone()
	if layer.Source == "" {
		layer.Source = source
	}
	layer.Data = cloneValue(layer.Data)
	out.Layers = append(out.Layers, layer)
	out.addTokens(source, EstimateTokens(layer.Name)+EstimateValueTokens(layer.Data))
	return out
}

// WithEnhancer returns a copy that records id as an applied enhancer.
func (c *Context) WithEnhancer(id string) *Context {
	out := c.Clone()
	out.Metadata.Enhancers = append(out.Metadata.Enhancers, id)
	return out
}

// Section returns the value at a dotted workspace path.
func (c *Context) Section(path string) (any, bool) {
	if c == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = c.Workspace
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// resolve walks (and optionally creates) the maps leading to the last path
// element and returns the parent map and final key.
func (c *Context) resolve(path string, create bool) (map[string]any, string, error) {
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, "", fmt.Errorf("%w: empty element in %q", ErrInvalidSection, path)
		}
	}
	if c.Workspace == nil {
		c.Workspace = map[string]any{}
	}
	cur := c.Workspace
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p]
		if !ok {
			if !create {
				return nil, "", fmt.Errorf("%w: %q not found", ErrInvalidSection, path)
			}
			m := map[string]any{}
			cur[p] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("%w: %q crosses a %T", ErrInvalidSection, path, next)
		}
		cur = m
	}
	return cur, parts[len(parts)-1], nil
}

// Summary returns the caller-facing digest of the context.
func (c *Context) Summary() ContextSummary {
	if c == nil {
		return ContextSummary{}
	}
	layers := make([]string, 0, len(c.Layers))
	for _, l := range c.Layers {
		layers = append(layers, l.Name)
	}
	keys := make([]string, 0, len(c.Workspace))
	for k := range c.Workspace {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return ContextSummary{
		Sources:      append([]string(nil), c.Metadata.Sources...),
		TokenCount:   c.TokenCount,
		Score:        c.Metadata.Score,
		Interactions: len(c.History),
		Workspace:    keys,
		Layers:       layers,
		Enhancers:    append([]string(nil), c.Metadata.Enhancers...),
		Failed:       c.Metadata.clone().Failed,
	}
}

// ContextSummary is the compact description of a context returned to callers.
type ContextSummary struct {
	Sources      []string          `json:"sources"`
	TokenCount   int               `json:"token_count"`
	Score        float64           `json:"score"`
	Interactions int               `json:"interactions"`
	Workspace    []string          `json:"workspace,omitempty"`
	Layers       []string          `json:"layers,omitempty"`
	Enhancers    []string          `json:"enhancers,omitempty"`
	Failed       map[string]string `json:"failed,omitempty"`
}

// DeepMerge merges src into a copy of dst. Nested maps are merged
// recursively; any other value in src overwrites dst.
func DeepMerge(dst, src map[string]any) map[string]any {
	out := cloneMap(dst)
	if out == nil {
		out = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := out[key].(map[string]any); ok {
				out[key] = DeepMerge(existing, valueMap)
				continue
			}
		}
		out[key] = cloneValue(value)
	}
	return out
}
