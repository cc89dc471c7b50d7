package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the kind of session event.
type EventType string

const (
	EventRequestReceived        EventType = "request.received"
	EventContextAssembled       EventType = "context.assembled"
	EventContextFailed          EventType = "context.failed"
	EventToolCompleted          EventType = "tool.completed"
	EventToolFailed             EventType = "tool.failed"
	EventInferenceCompleted     EventType = "inference.completed"
	EventInferenceFailed        EventType = "inference.failed"
	EventInteractionRecorded    EventType = "interaction.recorded"
	EventInteractionCompensated EventType = "interaction.compensated"
)

// SessionEvent is an immutable fact in a session's log. Events are totally
// ordered within a session by Sequence, which the event log assigns.
type SessionEvent struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewSessionEvent builds an unsequenced event with payload encoded as JSON.
func NewSessionEvent(eventType EventType, payload any) (*SessionEvent, error) {
	ev := &SessionEvent{Type: eventType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		ev.Payload = data
	}
	return ev, nil
}

// Clone returns a deep copy of the event.
func (e *SessionEvent) Clone() *SessionEvent {
	if e == nil {
		return nil
	}
	out := *e
	if e.Payload != nil {
		out.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return &out
}

// DecodePayload unmarshals the payload into v.
func (e *SessionEvent) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s (seq %d) has no payload", e.Type, e.Sequence)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload (seq %d): %w", e.Type, e.Sequence, err)
	}
	return nil
}

// EventRef identifies an appended event in a response.
type EventRef struct {
	ID       string    `json:"id"`
	Sequence uint64    `json:"sequence"`
	Type     EventType `json:"type"`
}

// Ref returns the reference for e.
func (e *SessionEvent) Ref() EventRef {
	return EventRef{ID: e.ID, Sequence: e.Sequence, Type: e.Type}
}

// RequestReceivedPayload is the payload of EventRequestReceived.
type RequestReceivedPayload struct {
	Query     string   `json:"query"`
	MaxTokens int      `json:"max_tokens"`
	Tools     []string `json:"tools,omitempty"`
}

// ContextAssembledPayload is the payload of EventContextAssembled.
type ContextAssembledPayload struct {
	Summary ContextSummary `json:"summary"`
}

// ContextFailedPayload is the payload of EventContextFailed.
type ContextFailedPayload struct {
	Error string `json:"error"`
}

// ToolEventPayload is the payload of EventToolCompleted and EventToolFailed.
type ToolEventPayload struct {
	Result ToolResult `json:"result"`
}

// InferencePayload is the payload of EventInferenceCompleted and
// EventInferenceFailed.
type InferencePayload struct {
	Content          string `json:"content,omitempty"`
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	Error            string `json:"error,omitempty"`
}

// InteractionPayload is the payload of EventInteractionRecorded.
type InteractionPayload struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// CompensationPayload is the payload of EventInteractionCompensated. It
// neutralizes the effects of the event at TargetSequence.
type CompensationPayload struct {
	TargetSequence uint64 `json:"target_sequence"`
	Reason         string `json:"reason,omitempty"`
}
