package enhancers

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/nexuscore/internal/observability"
)

// StepError records an enhancer that failed and was skipped.
type StepError struct {
	ID  string
	Err error
}

// Outcome is the result of folding a chain over a value.
type Outcome[T any] struct {
	// Value is the final value. For event handlers it is the zero value
	// when the event was suppressed.
	Value T

	// Applied lists the enhancers that ran successfully, in order.
	Applied []string

	// Failed lists enhancers whose error or panic was contained.
	Failed []StepError

	// SuppressedBy is the event handler that dropped the event, if any.
	SuppressedBy string

	// Err is set when the context was cancelled before the chain finished.
	// Value then holds the result of the steps applied so far.
	Err error
}

// Suppressed reports whether an event handler dropped the value.
func (o Outcome[T]) Suppressed() bool { return o.SuppressedBy != "" }

// Chain applies ordered enhancers as a strict left fold with per-step error
// isolation.
type Chain struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewChain creates a chain. Both arguments may be nil.
func NewChain(logger *slog.Logger, metrics *observability.Metrics) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{logger: logger.With("component", "enhancers"), metrics: metrics}
}

// Apply folds steps over v. A step whose predicate rejects the current value
// is passed over. A step that errors or panics is logged and skipped, so the
// result equals that of the chain without the failing step. If the value
// implements Clone() T, each step receives its own copy.
func Apply[T any](ctx context.Context, c *Chain, steps []*Adapter[T], v T) Outcome[T] {
	if c == nil {
		c = NewChain(nil, nil)
	}
	out := Outcome[T]{Value: v}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}
		if !step.Applicable(out.Value) {
			continue
		}

		input := out.Value
		if cl, ok := any(input).(interface{ Clone() T }); ok {
			input = cl.Clone()
		}

		next, err := step.call(ctx, input)
		if err != nil {
			c.logger.WarnContext(ctx, "enhancer failed; skipping",
				"enhancer_id", step.ID(),
				"kind", step.Kind(),
				"error", err)
			c.metrics.RecordEnhancerFailure(string(step.Kind()), step.ID())
			out.Failed = append(out.Failed, StepError{ID: step.ID(), Err: err})
			continue
		}

		out.Applied = append(out.Applied, step.ID())
		if step.isNil != nil && step.isNil(next) {
			var zero T
			out.Value = zero
			out.SuppressedBy = step.ID()
			return out
		}
		out.Value = next
	}
	return out
}
