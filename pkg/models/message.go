package models

import (
	"time"
)

// Role indicates the author of an interaction.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Interaction is a single turn in a session's conversation history.
type Interaction struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Source names the context source or tool that produced the interaction.
	Source string `json:"source,omitempty"`

	// Sequence is the event-log sequence number that recorded this
	// interaction. Zero for interactions not yet persisted.
	Sequence uint64 `json:"sequence,omitempty"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Clone returns a deep copy of the interaction.
func (i Interaction) Clone() Interaction {
	i.Metadata = cloneMap(i.Metadata)
	return i
}

// Tokens estimates the token cost of the interaction.
func (i Interaction) Tokens() int {
	return EstimateTokens(i.Content)
}
