package toolchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexuscore/internal/backoff"
	"github.com/haasonsaas/nexuscore/internal/observability"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

// Config configures chain execution.
type Config struct {
	// ToolTimeout bounds a single tool attempt. Default: 30 seconds.
	ToolTimeout time.Duration

	// ChainTimeout bounds the whole chain. Default: 2 minutes.
	ChainTimeout time.Duration

	// MaxAttempts is the number of attempts per call for retryable
	// failures (default 1).
	MaxAttempts int

	// RetryPolicy spaces retries.
	RetryPolicy backoff.BackoffPolicy
}

// DefaultConfig returns the default execution settings.
func DefaultConfig() Config {
	return Config{
		ToolTimeout:  30 * time.Second,
		ChainTimeout: 2 * time.Minute,
		MaxAttempts:  1,
		RetryPolicy:  backoff.NewPolicy(100*time.Millisecond, 5*time.Second, 2, 0.1),
	}
}

// Executor runs tool chains sequentially, integrating each result into the
// shared context before the next call starts.
type Executor struct {
	config  Config
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewExecutor creates an executor. Zero config fields take defaults.
func NewExecutor(config Config, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Executor {
	def := DefaultConfig()
	if config.ToolTimeout <= 0 {
		config.ToolTimeout = def.ToolTimeout
	}
	if config.ChainTimeout <= 0 {
		config.ChainTimeout = def.ChainTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.RetryPolicy.InitialMs <= 0 {
		config.RetryPolicy = def.RetryPolicy
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		config:  config,
		logger:  logger.With("component", "toolchain"),
		metrics: metrics,
		tracer:  tracer,
	}
}

// ChainResult is the outcome of a chain run. It is returned even when the
// chain fails so callers can report the work that succeeded.
type ChainResult struct {
	RunID  string             `json:"run_id"`
	Status models.ChainStatus `json:"status"`

	// Completed holds the integrated results in execution order.
	Completed []models.ToolResult `json:"completed,omitempty"`

	// Failure is the call that stopped the chain, if any. Its result was
	// not integrated.
	Failure *models.ToolResult `json:"failure,omitempty"`

	// Context is the shared context after the last integrated result.
	Context *models.Context `json:"-"`

	// Terminated is set when a StopWhen predicate completed the chain early.
	Terminated bool `json:"terminated,omitempty"`

	// Skipped lists call IDs that never ran.
	Skipped []string `json:"skipped,omitempty"`
}

// Results returns the completed results followed by the failure, if any.
func (r *ChainResult) Results() []models.ToolResult {
	out := append([]models.ToolResult(nil), r.Completed...)
	if r.Failure != nil {
		out = append(out, *r.Failure)
	}
	return out
}

// ExecuteChain runs seq in order against shared. The chain moves from
// planning to executing and ends completed, partially failed (a call
// failed after earlier ones were integrated) or aborted (planning failed,
// a safety predicate rejected a call, or ctx was canceled). The returned
// result is never nil.
func (e *Executor) ExecuteChain(ctx context.Context, seq []Invocation, shared *models.Context) (*ChainResult, error) {
	runID := uuid.NewString()
	ctx = observability.AddRunID(ctx, runID)
	ctx, span := e.tracer.Start(ctx, "toolchain.execute")
	defer span.End()

	if shared == nil {
		shared = models.NewContext(observability.GetSessionID(ctx), "")
	}
	result := &ChainResult{RunID: runID, Status: models.ChainPlanning, Context: shared}
	seq = append([]Invocation(nil), seq...)
	ids := func(from int) []string {
		out := make([]string, 0, len(seq))
		for _, inv := range seq[min(from, len(seq)):] {
			out = append(out, inv.Call.ID)
		}
		return out
	}

	var chainErr error
	defer func() {
		e.metrics.RecordToolChain(string(result.Status))
		e.tracer.SetAttributes(span, "chain.status", string(result.Status), "chain.completed", len(result.Completed))
		e.tracer.RecordError(span, chainErr)
		attrs := []any{"status", result.Status, "completed", len(result.Completed), "skipped", len(result.Skipped)}
		if chainErr != nil {
			e.logger.WarnContext(ctx, "tool chain finished", append(attrs, "error", chainErr)...)
			return
		}
		e.logger.InfoContext(ctx, "tool chain finished", attrs...)
	}()

	if err := plan(seq); err != nil {
		result.Status = models.ChainAborted
		result.Skipped = ids(0)
		chainErr = err
		return result, chainErr
	}
	result.Status = models.ChainExecuting

	chainCtx, cancel := context.WithTimeout(ctx, e.config.ChainTimeout)
	defer cancel()

	outputs := make(map[string]any, len(seq))
	for i, inv := range seq {
		call := inv.Call

		if err := ctx.Err(); err != nil {
			result.Status = models.ChainAborted
			result.Skipped = ids(i)
			chainErr = fmt.Errorf("tool chain canceled before %s: %w", call.ID, err)
			return result, chainErr
		}

		fail := func(res *models.ToolResult, err *ToolError) (*ChainResult, error) {
			failed := failureResult(inv, res, err)
			result.Status = models.ChainPartiallyFailed
			result.Failure = &failed
			result.Skipped = ids(i + 1)
			chainErr = err
			return result, chainErr
		}

		if chainCtx.Err() != nil {
			te := newToolError(inv.Tool.ID, call.ID, fmt.Errorf("%w: chain deadline of %v exceeded", ErrToolTimeout, e.config.ChainTimeout))
			return fail(nil, te)
		}

		input, err := substituteRefs(call.Input, outputs)
		if err == nil && len(refs(call.Input)) > 0 {
			err = validateInput(inv.Tool.ParameterSchema, input)
		}
		if err != nil {
			return fail(nil, newToolError(inv.Tool.ID, call.ID, err).withType(ToolErrorInvalidInput))
		}

		if err := inv.Tool.CanExecute(shared, input); err != nil {
			result.Status = models.ChainAborted
			result.Skipped = ids(i)
			chainErr = &UnsafeToolError{ToolID: inv.Tool.ID, CallID: call.ID, Cause: err}
			return result, chainErr
		}

		res, err := e.run(chainCtx, inv, input, shared)
		if err != nil {
			if ctx.Err() != nil {
				result.Status = models.ChainAborted
				result.Skipped = ids(i)
				chainErr = fmt.Errorf("tool chain canceled during %s: %w", call.ID, ctx.Err())
				return result, chainErr
			}
			var te *ToolError
			if !errors.As(err, &te) {
				te = newToolError(inv.Tool.ID, call.ID, err)
			}
			return fail(res, te)
		}

		next, err := Integrate(shared, res)
		if err != nil {
			return fail(res, newToolError(inv.Tool.ID, call.ID, err).withType(ToolErrorIntegration))
		}
		shared = next
		result.Context = shared
		result.Completed = append(result.Completed, *res)
		outputs[call.ID] = res.Output

		if call.StopWhen != nil && call.StopWhen(res) {
			result.Terminated = true
			result.Skipped = ids(i + 1)
			break
		}
	}

	result.Status = models.ChainCompleted
	return result, nil
}

// run executes one call with retries. On failure the returned result, if
// any, carries the attempt count and duration.
func (e *Executor) run(ctx context.Context, inv Invocation, input []byte, shared *models.Context) (*models.ToolResult, error) {
	tool, call := inv.Tool, inv.Call
	ctx = observability.AddToolCallID(ctx, call.ID)
	ctx, span := e.tracer.TraceToolExecution(ctx, tool.ID, call.ID)
	defer span.End()

	start := time.Now()
	view := shared.Clone()
	retry, err := backoff.RetryWithBackoff(ctx, e.config.RetryPolicy, e.config.MaxAttempts, func(attempt int) (*models.ToolResult, error) {
		res, err := e.executeWithTimeout(ctx, tool, call, input, view)
		if err == nil {
			return res, nil
		}
		te := newToolError(tool.ID, call.ID, err)
		te.Attempts = attempt
		if errors.Is(err, context.Canceled) {
			te.withType(ToolErrorCanceled)
		}
		if !te.Retryable {
			return nil, backoff.Permanent(te)
		}
		if attempt < e.config.MaxAttempts {
			e.logger.WarnContext(ctx, "tool attempt failed; retrying", "tool", tool.ID, "attempt", attempt, "error", err)
		}
		return nil, te
	})
	elapsed := time.Since(start)

	if err != nil {
		e.metrics.RecordToolExecution(tool.ID, "error", elapsed.Seconds())
		e.tracer.RecordError(span, err)
		var te *ToolError
		if !errors.As(err, &te) {
			te = newToolError(tool.ID, call.ID, err)
		}
		te.Attempts = retry.Attempts
		return &models.ToolResult{CallID: call.ID, ToolID: tool.ID, Attempts: retry.Attempts, Duration: elapsed}, te
	}

	e.metrics.RecordToolExecution(tool.ID, "success", elapsed.Seconds())
	res := *retry.Value
	res.CallID = call.ID
	res.ToolID = tool.ID
	res.Success = true
	res.Attempts = retry.Attempts
	res.Duration = elapsed
	if res.Hint == "" {
		res.Hint = tool.DefaultHint
	}
	if res.Hint == "" {
		res.Hint = models.HintAppend
	}
	return &res, nil
}

// executeWithTimeout runs the tool in its own goroutine so a tool that
// ignores cancellation cannot hold the chain past the per-tool timeout.
func (e *Executor) executeWithTimeout(ctx context.Context, tool *models.Tool, call models.ToolCall, input []byte, view *models.Context) (*models.ToolResult, error) {
	type execResult struct {
		result *models.ToolResult
		err    error
	}

	toolCtx, cancel := context.WithTimeout(ctx, e.config.ToolTimeout)
	defer cancel()

	resultChan := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- execResult{err: fmt.Errorf("%w: %v", ErrToolPanic, r)}
			}
		}()
		result, err := tool.Executor(toolCtx, input, view)
		resultChan <- execResult{result: result, err: err}
	}()

	select {
	case <-toolCtx.Done():
		if errors.Is(toolCtx.Err(), context.DeadlineExceeded) {
			e.logger.WarnContext(ctx, "tool execution timed out, result will be discarded",
				"tool", tool.ID, "tool_call_id", call.ID, "timeout", e.config.ToolTimeout)
			return nil, fmt.Errorf("%w after %v", ErrToolTimeout, e.config.ToolTimeout)
		}
		return nil, toolCtx.Err()
	case res := <-resultChan:
		if res.err != nil {
			return nil, res.err
		}
		if res.result == nil {
			return nil, fmt.Errorf("tool %s returned no result", tool.ID)
		}
		if !res.result.Success {
			msg := res.result.Error
			if msg == "" {
				msg = "tool reported failure"
			}
			return nil, errors.New(msg)
		}
		if res.result.Hint != "" && !res.result.Hint.Valid() {
			return nil, fmt.Errorf("tool %s returned unknown integration hint %q", tool.ID, res.result.Hint)
		}
		return res.result, nil
	}
}

func failureResult(inv Invocation, partial *models.ToolResult, err *ToolError) models.ToolResult {
	out := models.ToolResult{CallID: inv.Call.ID, Success: false, Error: err.Error(), Attempts: err.Attempts}
	if inv.Tool != nil {
		out.ToolID = inv.Tool.ID
	}
	if partial != nil {
		out.Output = partial.Output
		out.Hint = partial.Hint
		out.Section = partial.Section
		out.Duration = partial.Duration
		if partial.Attempts > 0 {
			out.Attempts = partial.Attempts
		}
	}
	return out
}
