package models

import "time"

// ToolOutcome summarizes one recorded tool execution.
type ToolOutcome struct {
	Sequence uint64 `json:"sequence"`
	CallID   string `json:"call_id"`
	ToolID   string `json:"tool_id"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Compensation records a compensating event applied to the projection.
type Compensation struct {
	Sequence       uint64 `json:"sequence"`
	TargetSequence uint64 `json:"target_sequence"`
	Reason         string `json:"reason,omitempty"`
}

// SessionState is the projection of a session's event log. It is never
// persisted; it is recomputed by folding events in sequence order.
type SessionState struct {
	SessionID    string `json:"session_id"`
	LastSequence uint64 `json:"last_sequence"`

	// EventCount is the number of events folded, including suppressed ones.
	EventCount int `json:"event_count"`

	// Suppressed counts events an event handler removed from projection.
	Suppressed int `json:"suppressed"`

	// Skipped lists sequences the reducer could not apply (malformed payload).
	Skipped []uint64 `json:"skipped,omitempty"`

	Interactions      []Interaction  `json:"interactions"`
	Tools             []ToolOutcome  `json:"tools,omitempty"`
	Compensations     []Compensation `json:"compensations,omitempty"`
	Requests          int            `json:"requests"`
	Inferences        int            `json:"inferences"`
	InferenceFailures int            `json:"inference_failures"`
	ContextFailures   int            `json:"context_failures"`
	TokensUsed        int            `json:"tokens_used"`
	LastContextTokens int            `json:"last_context_tokens"`

	// UpdatedAt is the timestamp of the last folded event.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSessionState returns the initial state for a session.
func NewSessionState(sessionID string) *SessionState {
	return &SessionState{SessionID: sessionID}
}

// Clone returns a deep copy of the state.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.Skipped = append([]uint64(nil), s.Skipped...)
	out.Tools = append([]ToolOutcome(nil), s.Tools...)
	out.Compensations = append([]Compensation(nil), s.Compensations...)
	if s.Interactions != nil {
		out.Interactions = make([]Interaction, len(s.Interactions))
		for i, item := range s.Interactions {
			out.Interactions[i] = item.Clone()
		}
	}
	return &out
}
