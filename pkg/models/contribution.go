package models

import (
	"encoding/json"
	"sort"
	"strings"
)

// Contribution is the data a single context source returns for a request.
// Interactions are composed into Context.History; Snapshot entries are
// merged into Context.Workspace.
type Contribution struct {
	Source       string         `json:"source"`
	Interactions []Interaction  `json:"interactions,omitempty"`
	Snapshot     map[string]any `json:"snapshot,omitempty"`

	// Score is an optional relevance hint reported by the source, in [0,1].
	Score float64 `json:"score,omitempty"`
}

// Empty reports whether the contribution carries no data.
func (c *Contribution) Empty() bool {
	return c == nil || (len(c.Interactions) == 0 && len(c.Snapshot) == 0)
}

// Tokens is the estimated token cost of the whole contribution.
func (c *Contribution) Tokens() int {
	if c == nil {
		return 0
	}
	total := 0
	for _, item := range c.Interactions {
		total += item.Tokens()
	}
	for k, v := range c.Snapshot {
		total += EntryTokens(k, v)
	}
	return total
}

// SnapshotKeys returns the snapshot keys in sorted order.
func (c *Contribution) SnapshotKeys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Snapshot))
	for k := range c.Snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Text flattens the contribution for relevance scoring.
func (c *Contribution) Text() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	for _, item := range c.Interactions {
		b.WriteString(item.Content)
		b.WriteByte('\n')
	}
	for _, k := range c.SnapshotKeys() {
		b.WriteString(k)
		b.WriteByte(' ')
		switch v := c.Snapshot[k].(type) {
		case string:
			b.WriteString(v)
		default:
			if data, err := json.Marshal(v); err == nil {
				b.Write(data)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Clone returns a deep copy of the contribution.
func (c *Contribution) Clone() *Contribution {
	if c == nil {
		return nil
	}
	out := &Contribution{Source: c.Source, Score: c.Score, Snapshot: cloneMap(c.Snapshot)}
	if len(c.Interactions) > 0 {
		out.Interactions = make([]Interaction, len(c.Interactions))
		for i, item := range c.Interactions {
			out.Interactions[i] = item.Clone()
		}
	}
	return out
}

// WithContribution returns a copy of c with the contribution's interactions
// appended to History and its snapshot deep-merged into Workspace. Exactly
// contrib.Tokens() are attributed to contrib.Source.
func (c *Context) WithContribution(contrib *Contribution) *Context {
	out := c.Clone()
	if contrib.Empty() {
		return out
	}
	for _, item := range contrib.Interactions {
		if item.Source == "" {
			item.Source = contrib.Source
		}
		out.History = append(out.History, item.Clone())
	}
	if len(contrib.Snapshot) > 0 {
		out.Workspace = DeepMerge(out.Workspace, contrib.Snapshot)
	}
	out.addTokens(contrib.Source, contrib.Tokens())
	return out
}
