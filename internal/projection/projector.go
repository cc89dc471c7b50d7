// Package projection derives session state by folding the event log
// through registered event handlers and a base reducer.
package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/nexuscore/internal/enhancers"
	"github.com/haasonsaas/nexuscore/internal/observability"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

// ErrOutOfOrder is returned when events are not in strictly increasing
// sequence order.
var ErrOutOfOrder = errors.New("projection: events out of order")

// Projector folds events into a SessionState.
type Projector struct {
	chain  *enhancers.Chain
	logger *slog.Logger
}

// NewProjector creates a projector. Both arguments may be nil.
func NewProjector(logger *slog.Logger, metrics *observability.Metrics) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		chain:  enhancers.NewChain(logger, metrics),
		logger: logger.With("component", "projection"),
	}
}

// Project folds events from the initial state of sessionID. For a fixed
// event sequence and handler set the result is always the same.
func (p *Projector) Project(ctx context.Context, sessionID string, events []*models.SessionEvent, handlers []*enhancers.EventHandler) (*models.SessionState, error) {
	return p.Fold(ctx, models.NewSessionState(sessionID), events, handlers)
}

// Fold continues a projection from state with later events. state is not
// modified.
func (p *Projector) Fold(ctx context.Context, state *models.SessionState, events []*models.SessionEvent, handlers []*enhancers.EventHandler) (*models.SessionState, error) {
	out := state.Clone()
	for _, ev := range events {
		if ev == nil {
			continue
		}
		if ev.Sequence <= out.LastSequence {
			return nil, fmt.Errorf("%w: seq %d after %d", ErrOutOfOrder, ev.Sequence, out.LastSequence)
		}

		outcome := enhancers.Apply(ctx, p.chain, handlers, ev.Clone())
		if outcome.Err != nil {
			return nil, outcome.Err
		}

		out.EventCount++
		out.LastSequence = ev.Sequence
		out.UpdatedAt = ev.Timestamp

		if outcome.Suppressed() {
			out.Suppressed++
			continue
		}
		if err := Reduce(out, ev.Sequence, outcome.Value); err != nil {
			p.logger.WarnContext(ctx, "event not applied to projection",
				"session_id", out.SessionID, "sequence", ev.Sequence, "type", ev.Type, "error", err)
			out.Skipped = append(out.Skipped, ev.Sequence)
		}
	}
	return out, nil
}
