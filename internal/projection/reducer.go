package projection

import (
	"fmt"

	"github.com/haasonsaas/nexuscore/pkg/models"
)

// Reduce applies one event to state in place. seq is the event's log
// position, which handlers cannot change. Unknown event types are ignored
// so older binaries can replay newer logs.
func Reduce(state *models.SessionState, seq uint64, ev *models.SessionEvent) error {
	switch ev.Type {
	case models.EventRequestReceived:
		var p models.RequestReceivedPayload
		if err := ev.DecodePayload(&p); err != nil {
			return err
		}
		state.Requests++
		if p.Query != "" {
			state.Interactions = append(state.Interactions, interaction(ev, seq, models.RoleUser, p.Query, "request"))
		}

	case models.EventInferenceCompleted:
		var p models.InferencePayload
		if err := ev.DecodePayload(&p); err != nil {
			return err
		}
		state.Inferences++
		state.TokensUsed += p.PromptTokens + p.CompletionTokens
		state.Interactions = append(state.Interactions, interaction(ev, seq, models.RoleAssistant, p.Content, p.Model))

	case models.EventInferenceFailed:
		state.InferenceFailures++

	case models.EventToolCompleted, models.EventToolFailed:
		var p models.ToolEventPayload
		if err := ev.DecodePayload(&p); err != nil {
			return err
		}
		state.Tools = append(state.Tools, models.ToolOutcome{
			Sequence: seq,
			CallID:   p.Result.CallID,
			ToolID:   p.Result.ToolID,
			Success:  p.Result.Success && ev.Type == models.EventToolCompleted,
			Error:    p.Result.Error,
		})

	case models.EventContextAssembled:
		var p models.ContextAssembledPayload
		if err := ev.DecodePayload(&p); err != nil {
			return err
		}
		state.LastContextTokens = p.Summary.TokenCount

	case models.EventContextFailed:
		state.ContextFailures++

	case models.EventInteractionRecorded:
		var p models.InteractionPayload
		if err := ev.DecodePayload(&p); err != nil {
			return err
		}
		if p.Role == "" {
			return fmt.Errorf("interaction at seq %d has no role", seq)
		}
		state.Interactions = append(state.Interactions, interaction(ev, seq, p.Role, p.Content, p.Source))

	case models.EventInteractionCompensated:
		var p models.CompensationPayload
		if err := ev.DecodePayload(&p); err != nil {
			return err
		}
		if p.TargetSequence == 0 || p.TargetSequence >= seq {
			return fmt.Errorf("compensation at seq %d targets %d, which is not an earlier event", seq, p.TargetSequence)
		}
		state.Interactions = removeInteractions(state.Interactions, p.TargetSequence)
		state.Tools = removeTools(state.Tools, p.TargetSequence)
		state.Compensations = append(state.Compensations, models.Compensation{
			Sequence:       seq,
			TargetSequence: p.TargetSequence,
			Reason:         p.Reason,
		})
	}
	return nil
}

func interaction(ev *models.SessionEvent, seq uint64, role models.Role, content, source string) models.Interaction {
	return models.Interaction{
		ID:        ev.ID,
		Role:      role,
		Content:   content,
		Source:    source,
		Sequence:  seq,
		CreatedAt: ev.Timestamp,
	}
}

func removeInteractions(items []models.Interaction, seq uint64) []models.Interaction {
	out := items[:0]
	for _, item := range items {
		if item.Sequence != seq {
			out = append(out, item)
		}
	}
	return out
}

func removeTools(items []models.ToolOutcome, seq uint64) []models.ToolOutcome {
	out := items[:0]
	for _, item := range items {
		if item.Sequence != seq {
			out = append(out, item)
		}
	}
	return out
}
