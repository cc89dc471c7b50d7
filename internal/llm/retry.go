package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/nexuscore/internal/backoff"
	"github.com/haasonsaas/nexuscore/internal/observability"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

// RetryConfig bounds inference attempts.
type RetryConfig struct {
	// Timeout applies to each attempt.
	Timeout     time.Duration
	MaxAttempts int
	Policy      backoff.BackoffPolicy
}

// Retrying wraps a Client with per-attempt timeouts, retries of transient
// failures, metrics and a trace span.
type Retrying struct {
	next    Client
	cfg     RetryConfig
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

var _ Client = (*Retrying)(nil)

func NewRetrying(next Client, cfg RetryConfig, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Retrying {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Policy.InitialMs <= 0 {
		cfg.Policy = backoff.DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{next: next, cfg: cfg, logger: logger.With("component", "llm"), metrics: metrics, tracer: tracer}
}

func (r *Retrying) Model() string { return r.next.Model() }

func (r *Retrying) Infer(ctx context.Context, prompt *Prompt) (*models.InferenceOutput, error) {
	model := r.next.Model()
	ctx, span := r.tracer.TraceInference(ctx, model)
	defer span.End()

	start := time.Now()
	result, err := backoff.RetryWithBackoff(ctx, r.cfg.Policy, r.cfg.MaxAttempts, func(attempt int) (*models.InferenceOutput, error) {
		attemptCtx := ctx
		if r.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()
		}
		out, err := r.next.Infer(attemptCtx, prompt)
		if err == nil {
			return out, nil
		}
		ierr := NewInferenceError("", model, err)
		if ctx.Err() != nil || !ierr.Reason.IsRetryable() {
			return nil, backoff.Permanent(ierr)
		}
		r.logger.WarnContext(ctx, "inference attempt failed", "attempt", attempt, "reason", ierr.Reason, "error", err)
		return nil, ierr
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = &InferenceError{Reason: classifyMessage(ctxErr), Model: model, Cause: ctxErr}
		}
		ierr := NewInferenceError("", model, err)
		ierr.Attempts = result.Attempts
		r.metrics.RecordLLMRequest(model, "error", elapsed, 0, 0)
		r.tracer.RecordError(span, ierr)
		return nil, ierr
	}

	out := result.Value
	r.metrics.RecordLLMRequest(model, "success", elapsed, out.PromptTokens, out.CompletionTokens)
	r.tracer.SetAttributes(span,
		"llm.prompt_tokens", out.PromptTokens,
		"llm.completion_tokens", out.CompletionTokens,
		"llm.attempts", result.Attempts,
	)
	return out, nil
}
