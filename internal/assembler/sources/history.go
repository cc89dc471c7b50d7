package sources

import (
	"context"

	"github.com/haasonsaas/nexuscore/internal/config"
	"github.com/haasonsaas/nexuscore/internal/projection"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

// DefaultHistoryWindow is how many trailing events the history source reads.
const DefaultHistoryWindow = 256

// EventTail reads the end of a session log. eventlog.Log satisfies it.
type EventTail interface {
	Read(ctx context.Context, sessionID string, fromSeq uint64) ([]*models.SessionEvent, error)
	LastSequence(ctx context.Context, sessionID string) (uint64, error)
}

// HistorySource contributes the most recent conversation turns that fit
// the budget, oldest first. It reduces a bounded tail of the event log
// directly and never waits on the session projection.
type HistorySource struct {
	log    EventTail
	window uint64
}

// NewHistorySource reads at most window trailing events per fetch; zero
// means DefaultHistoryWindow.
func NewHistorySource(log EventTail, window int) *HistorySource {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &HistorySource{log: log, window: uint64(window)}
}

func (h *HistorySource) Name() string { return config.SourceHistory }

func (h *HistorySource) Fetch(ctx context.Context, _ string, sessionID string, budget int) (*models.Contribution, error) {
	if budget <= 0 {
		return nil, nil
	}
	last, err := h.log.LastSequence(ctx, sessionID)
	if err != nil || last == 0 {
		return nil, err
	}
	from := uint64(1)
	if last > h.window {
		from = last - h.window + 1
	}
	events, err := h.log.Read(ctx, sessionID, from)
	if err != nil {
		return nil, err
	}

	state := models.NewSessionState(sessionID)
	for _, ev := range events {
		if ev == nil || ev.Sequence > last {
			continue
		}
		// Compensations aimed before the window are no-ops here.
		_ = projection.Reduce(state, ev.Sequence, ev)
	}
	return recentTurns(state.Interactions, budget), nil
}

func recentTurns(items []models.Interaction, budget int) *models.Contribution {
	start := len(items)
	used := 0
	for i := len(items) - 1; i >= 0; i-- {
		cost := items[i].Tokens()
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	if start == len(items) {
		return nil
	}
	out := &models.Contribution{Interactions: make([]models.Interaction, len(items)-start)}
	for i, item := range items[start:] {
		out.Interactions[i] = item.Clone()
	}
	return out
}
