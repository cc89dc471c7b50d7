package assembler

import (
	"context"
	"time"

	"github.com/haasonsaas/nexuscore/pkg/models"
)

// Source produces one contribution to an assembled context. Implementations
// should stay within budget tokens; the assembler trims anything over the
// overall limit but does not reject a source for overspending its share.
type Source interface {
	Name() string
	Fetch(ctx context.Context, query, sessionID string, budget int) (*models.Contribution, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context, query, sessionID string, budget int) (*models.Contribution, error)
}

func (f SourceFunc) Name() string { return f.SourceName }

func (f SourceFunc) Fetch(ctx context.Context, query, sessionID string, budget int) (*models.Contribution, error) {
	return f.Fn(ctx, query, sessionID, budget)
}

// SourceSpec places a source in the assembly. Lower Priority values form a
// higher tier: they are composed first and trimmed last.
type SourceSpec struct {
	Source   Source
	Priority int
	Weight   float64

	// Timeout bounds a single fetch. Zero uses the assembler default.
	Timeout time.Duration

	// AlwaysRelevant exempts the source from the relevance threshold. It
	// still takes part in trimming.
	AlwaysRelevant bool
}

func (s SourceSpec) name() string { return s.Source.Name() }
