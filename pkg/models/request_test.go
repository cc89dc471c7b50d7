package models

import (
	"errors"
	"testing"
)

func TestNormalizedRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     *NormalizedRequest
		field   string
		wantErr bool
	}{
		{name: "nil request", req: nil, field: "request", wantErr: true},
		{name: "missing session", req: &NormalizedRequest{Query: "hi"}, field: "session_id", wantErr: true},
		{name: "no query and no tools", req: &NormalizedRequest{SessionID: "s"}, field: "query", wantErr: true},
		{name: "negative budget", req: &NormalizedRequest{SessionID: "s", Query: "q", MaxTokens: -1}, field: "max_tokens", wantErr: true},
		{name: "tool without id", req: &NormalizedRequest{SessionID: "s", Tools: []ToolCall{{}}}, field: "required_tools[0].tool_id", wantErr: true},
		{
			name: "duplicate call ids",
			req: &NormalizedRequest{SessionID: "s", Tools: []ToolCall{
				{ID: "a", ToolID: "echo"}, {ID: "a", ToolID: "echo"},
			}},
			field:   "required_tools[1].id",
			wantErr: true,
		},
		{name: "query only", req: &NormalizedRequest{SessionID: "s", Query: "q"}},
		{name: "tools only", req: &NormalizedRequest{SessionID: "s", Tools: []ToolCall{{ToolID: "echo"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("error %v does not match ErrValidation", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error %T is not *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestNormalizedRequest_ValidateAssignsCallIDs(t *testing.T) {
	req := &NormalizedRequest{SessionID: "s", Tools: []ToolCall{{ToolID: "a"}, {ID: "x", ToolID: "b"}, {ToolID: "c"}}}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	want := []string{"call-1", "x", "call-3"}
	for i, call := range req.Tools {
		if call.ID != want[i] {
			t.Errorf("tools[%d].ID = %q, want %q", i, call.ID, want[i])
		}
	}
}

func TestSessionEvent_PayloadRoundTrip(t *testing.T) {
	ev, err := NewSessionEvent(EventRequestReceived, RequestReceivedPayload{Query: "hello", MaxTokens: 10})
	if err != nil {
		t.Fatalf("NewSessionEvent: %v", err)
	}
	var payload RequestReceivedPayload
	if err := ev.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.Query != "hello" || payload.MaxTokens != 10 {
		t.Errorf("payload = %+v", payload)
	}

	clone := ev.Clone()
	clone.Payload[0] = 'X'
	if ev.Payload[0] == 'X' {
		t.Error("Clone shares payload bytes")
	}

	empty := &SessionEvent{Type: EventRequestReceived}
	if err := empty.DecodePayload(&payload); err == nil {
		t.Error("expected error decoding empty payload")
	}
}
