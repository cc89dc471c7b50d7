// Package coordinator runs one request through the core: context
// assembly, enhancement, the tool chain and inference, then records what
// happened in the session's event log.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexuscore/internal/config"
	"github.com/haasonsaas/nexuscore/internal/enhancers"
	"github.com/haasonsaas/nexuscore/internal/llm"
	"github.com/haasonsaas/nexuscore/internal/observability"
	"github.com/haasonsaas/nexuscore/internal/toolchain"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

// ErrCompensation marks a compensation that targets no earlier event.
var ErrCompensation = errors.New("invalid compensation")

const (
	// maxProcessingTime bounds a single request end to end.
	maxProcessingTime = 10 * time.Minute

	// appendTimeout bounds recording events once work has been done. The
	// append runs even when the request was canceled.
	appendTimeout = 10 * time.Second
)

// Assembler builds the base context for a query.
type Assembler interface {
	Assemble(ctx context.Context, query, sessionID string, maxTokens int) (*models.Context, error)
}

// ToolResolver pairs tool calls with registered tools.
type ToolResolver interface {
	Resolve(calls []models.ToolCall) []toolchain.Invocation
}

// ChainExecutor runs a resolved tool sequence against a shared context.
type ChainExecutor interface {
	ExecuteChain(ctx context.Context, seq []toolchain.Invocation, shared *models.Context) (*toolchain.ChainResult, error)
}

// EventLog is the part of the session log the coordinator writes to.
type EventLog interface {
	AppendBatch(ctx context.Context, sessionID string, events []*models.SessionEvent) ([]*models.SessionEvent, error)
	Read(ctx context.Context, sessionID string, fromSeq uint64) ([]*models.SessionEvent, error)
	LastSequence(ctx context.Context, sessionID string) (uint64, error)
}

// StateProvider projects session state on demand.
type StateProvider interface {
	State(ctx context.Context, sessionID string) (*models.SessionState, error)
	StateAt(ctx context.Context, sessionID string, until uint64) (*models.SessionState, error)
}

// Options wires a Coordinator. Assembler, Log and States are required.
// Without Tools/Executor, requests naming tools fail validation; without
// LLM, inference is skipped.
type Options struct {
	Assembler Assembler
	Tools     ToolResolver
	Executor  ChainExecutor
	Log       EventLog
	States    StateProvider
	Enhancers *enhancers.Holder
	Chain     *enhancers.Chain
	LLM       llm.Client

	SystemPrompt string

	// DefaultMaxTokens is the context budget when a request leaves
	// MaxTokens at zero.
	DefaultMaxTokens int

	// MaxCompletionTokens caps the inference answer (0 = provider default).
	MaxCompletionTokens int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Coordinator handles normalized requests. It is safe for concurrent use.
type Coordinator struct {
	assembler Assembler
	tools     ToolResolver
	executor  ChainExecutor
	log       EventLog
	states    StateProvider
	enhancers *enhancers.Holder
	chain     *enhancers.Chain
	llm       llm.Client

	systemPrompt        string
	defaultMaxTokens    int
	maxCompletionTokens int

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// New validates opts and returns a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Assembler == nil {
		return nil, errors.New("coordinator: assembler is required")
	}
	if opts.Log == nil {
		return nil, errors.New("coordinator: event log is required")
	}
	if opts.States == nil {
		return nil, errors.New("coordinator: state provider is required")
	}
	if (opts.Tools == nil) != (opts.Executor == nil) {
		return nil, errors.New("coordinator: tools and executor must be set together")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Enhancers == nil {
		reg, _ := enhancers.NewRegistry()
		opts.Enhancers = enhancers.NewHolder(reg)
	}
	if opts.Chain == nil {
		opts.Chain = enhancers.NewChain(opts.Logger, opts.Metrics)
	}
	if opts.DefaultMaxTokens <= 0 {
		opts.DefaultMaxTokens = config.DefaultMaxTokens
	}
	return &Coordinator{
		assembler:           opts.Assembler,
		tools:               opts.Tools,
		executor:            opts.Executor,
		log:                 opts.Log,
		states:              opts.States,
		enhancers:           opts.Enhancers,
		chain:               opts.Chain,
		llm:                 opts.LLM,
		systemPrompt:        opts.SystemPrompt,
		defaultMaxTokens:    opts.DefaultMaxTokens,
		maxCompletionTokens: opts.MaxCompletionTokens,
		logger:              opts.Logger.With("component", "coordinator"),
		metrics:             opts.Metrics,
		tracer:              opts.Tracer,
	}, nil
}

// Plan derives the processing steps for a validated request.
func (c *Coordinator) Plan(req *models.NormalizedRequest) models.ProcessingPlan {
	hasQuery := strings.TrimSpace(req.Query) != ""
	return models.ProcessingPlan{
		NeedsContext:   hasQuery,
		NeedsTools:     len(req.Tools) > 0,
		NeedsInference: hasQuery && !req.SkipInference && c.llm != nil,
	}
}

// Handle processes one request. Malformed requests are rejected before
// anything is assembled, executed or appended. Otherwise the returned
// Response carries every step that succeeded, even when the error is
// non-nil; the error joins all failures of the run.
func (c *Coordinator) Handle(ctx context.Context, req *models.NormalizedRequest) (*models.Response, error) {
	start := time.Now()
	r, err := c.normalize(req)
	if err != nil {
		c.metrics.RecordRequest("invalid", time.Since(start).Seconds())
		return nil, err
	}

	ctx = observability.AddRequestID(ctx, r.ID)
	ctx = observability.AddSessionID(ctx, r.SessionID)
	ctx, span := c.tracer.TraceRequest(ctx, r.ID, r.SessionID)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, maxProcessingTime)
	defer cancel()

	run := &requestRun{
		req:  r,
		resp: &models.Response{RequestID: r.ID, SessionID: r.SessionID, Plan: c.Plan(r), EventsAppended: []models.EventRef{}},
	}
	maxTokens := r.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.defaultMaxTokens
	}

	toolIDs := make([]string, len(r.Tools))
	for i, call := range r.Tools {
		toolIDs[i] = call.ToolID
	}
	run.record(models.EventRequestReceived, models.RequestReceivedPayload{Query: r.Query, MaxTokens: maxTokens, Tools: toolIDs})

	shared := models.NewContext(r.SessionID, r.Query)
	proceed := true
	if run.resp.Plan.NeedsContext {
		shared, proceed = c.buildContext(ctx, run, maxTokens)
	}
	chainOK := true
	if proceed && run.resp.Plan.NeedsTools {
		shared, chainOK = c.runTools(ctx, run, shared)
	}
	if proceed && chainOK && run.resp.Plan.NeedsInference {
		c.infer(ctx, run, shared)
	}

	c.appendEvents(ctx, run)

	if r.IncludeState {
		state, err := c.states.State(ctx, r.SessionID)
		if err != nil {
			run.fail(fmt.Errorf("project state: %w", err))
		} else {
			run.resp.State = state
		}
	}

	status := "success"
	switch {
	case len(run.errs) > 0 && len(run.resp.EventsAppended) > 0:
		status = "partial"
	case len(run.errs) > 0:
		status = "error"
	}
	c.metrics.RecordRequest(status, time.Since(start).Seconds())

	err = errors.Join(run.errs...)
	c.tracer.SetAttributes(span, "request.status", status, "request.events", len(run.resp.EventsAppended))
	c.tracer.RecordError(span, err)
	if err != nil {
		c.logger.WarnContext(ctx, "request finished with errors", "status", status, "trace_id", observability.GetTraceID(ctx), "error", err)
	} else {
		c.logger.InfoContext(ctx, "request handled",
			"context_tokens", run.resp.ContextSummary.TokenCount,
			"tool_results", len(run.resp.ToolResults),
			"duration", time.Since(start))
	}
	return run.resp, err
}

// requestRun accumulates the response, pending events and errors of one
// Handle call.
type requestRun struct {
	req    *models.NormalizedRequest
	resp   *models.Response
	events []*models.SessionEvent
	errs   []error
}

func (r *requestRun) fail(err error) {
	r.errs = append(r.errs, err)
}

func (r *requestRun) record(t models.EventType, payload any) {
	ev, err := models.NewSessionEvent(t, payload)
	if err != nil {
		r.fail(err)
		return
	}
	ev.RequestID = r.req.ID
	r.events = append(r.events, ev)
}

// normalize validates a copy of req so the caller's value is untouched,
// and assigns a request ID when none was given.
func (c *Coordinator) normalize(req *models.NormalizedRequest) (*models.NormalizedRequest, error) {
	if req == nil {
		return nil, &models.ValidationError{Field: "request", Message: "is nil"}
	}
	r := *req
	r.Tools = append([]models.ToolCall(nil), req.Tools...)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if len(r.Tools) > 0 && c.tools == nil {
		return nil, &models.ValidationError{Field: "required_tools", Message: "no tool registry is configured"}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return &r, nil
}

// buildContext assembles and enhances the context. When assembly fails the
// failure is recorded and the remaining steps are skipped.
func (c *Coordinator) buildContext(ctx context.Context, run *requestRun, maxTokens int) (*models.Context, bool) {
	sid := run.req.SessionID
	assembled, err := c.assembler.Assemble(ctx, run.req.Query, sid, maxTokens)
	if err != nil {
		run.record(models.EventContextFailed, models.ContextFailedPayload{Error: err.Error()})
		run.fail(fmt.Errorf("assemble context: %w", err))
		return nil, false
	}

	reg := c.enhancers.Load()
	out := enhancers.Apply(ctx, c.chain, reg.ContextAdapters(assembled), assembled)
	shared := out.Value
	if out.Suppressed() {
		c.logger.WarnContext(ctx, "context suppressed by enhancer; continuing with an empty context", "enhancer_id", out.SuppressedBy)
		shared = models.NewContext(sid, run.req.Query)
	} else {
		for _, id := range out.Applied {
			shared = shared.WithEnhancer(id)
		}
	}
	if out.Err != nil {
		run.fail(fmt.Errorf("enhance context: %w", out.Err))
		return shared, false
	}

	run.resp.ContextSummary = shared.Summary()
	run.record(models.EventContextAssembled, models.ContextAssembledPayload{Summary: run.resp.ContextSummary})
	return shared, true
}

// runTools enhances each resolved tool and runs the chain. It reports
// whether the chain completed.
func (c *Coordinator) runTools(ctx context.Context, run *requestRun, shared *models.Context) (*models.Context, bool) {
	reg := c.enhancers.Load()
	seq := c.tools.Resolve(run.req.Tools)
	for i := range seq {
		if seq[i].Tool == nil {
			continue
		}
		out := enhancers.Apply(ctx, c.chain, reg.ToolAdapters(seq[i].Tool), seq[i].Tool)
		if out.Err != nil {
			run.fail(fmt.Errorf("enhance tool %s: %w", seq[i].Call.ToolID, out.Err))
			return shared, false
		}
		// A suppressed tool is withheld from this request; planning then
		// rejects the chain as referencing an unavailable tool.
		seq[i].Tool = out.Value
	}

	result, err := c.executor.ExecuteChain(ctx, seq, shared)
	if result != nil {
		run.resp.ChainStatus = result.Status
		run.resp.ToolResults = result.Results()
		for _, res := range result.Completed {
			run.record(models.EventToolCompleted, models.ToolEventPayload{Result: res})
		}
		if result.Failure != nil {
			run.record(models.EventToolFailed, models.ToolEventPayload{Result: *result.Failure})
		}
		if result.Context != nil {
			shared = result.Context
			run.resp.ContextSummary = shared.Summary()
		}
	}
	if err != nil {
		run.fail(fmt.Errorf("tool chain: %w", err))
		return shared, false
	}
	return shared, true
}

func (c *Coordinator) infer(ctx context.Context, run *requestRun, shared *models.Context) {
	prompt := llm.BuildPrompt(c.systemPrompt, shared, c.maxCompletionTokens)
	out, err := c.llm.Infer(ctx, prompt)
	if err != nil {
		run.record(models.EventInferenceFailed, models.InferencePayload{Model: c.llm.Model(), Error: err.Error()})
		run.fail(fmt.Errorf("inference: %w", err))
		return
	}
	run.resp.InferenceOutput = out
	run.record(models.EventInferenceCompleted, models.InferencePayload{
		Content:          out.Content,
		Model:            out.Model,
		PromptTokens:     out.PromptTokens,
		CompletionTokens: out.CompletionTokens,
	})
}

// appendEvents records the run's events in one batch. Work that already
// happened is recorded even if the request context was canceled.
func (c *Coordinator) appendEvents(ctx context.Context, run *requestRun) {
	if len(run.events) == 0 {
		return
	}
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	appended, err := c.log.AppendBatch(appendCtx, run.req.SessionID, run.events)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to append session events", "events", len(run.events), "error", err)
		run.fail(fmt.Errorf("append events: %w", err))
		return
	}
	for _, ev := range appended {
		run.resp.EventsAppended = append(run.resp.EventsAppended, ev.Ref())
	}
}

// GetSessionState returns the current projection of a session.
func (c *Coordinator) GetSessionState(ctx context.Context, sessionID string) (*models.SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, &models.ValidationError{Field: "session_id", Message: "is required"}
	}
	return c.states.State(ctx, sessionID)
}

// GetSessionStateAt projects a session as of sequence until.
func (c *Coordinator) GetSessionStateAt(ctx context.Context, sessionID string, until uint64) (*models.SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, &models.ValidationError{Field: "session_id", Message: "is required"}
	}
	return c.states.StateAt(ctx, sessionID, until)
}

// Events returns a session's events with Sequence >= fromSeq.
func (c *Coordinator) Events(ctx context.Context, sessionID string, fromSeq uint64) ([]*models.SessionEvent, error) {
	return c.log.Read(ctx, sessionID, fromSeq)
}

// RecordInteraction appends an interaction that happened outside Handle,
// such as a message relayed from another channel.
func (c *Coordinator) RecordInteraction(ctx context.Context, sessionID string, item models.Interaction) (models.EventRef, error) {
	if strings.TrimSpace(sessionID) == "" {
		return models.EventRef{}, &models.ValidationError{Field: "session_id", Message: "is required"}
	}
	if item.Role == "" {
		return models.EventRef{}, &models.ValidationError{Field: "role", Message: "is required"}
	}
	return c.appendOne(ctx, sessionID, models.EventInteractionRecorded, models.InteractionPayload{
		Role:    item.Role,
		Content: item.Content,
		Source:  item.Source,
	})
}

// Compensate appends an interaction.compensated event that neutralizes the
// event at targetSeq. The target itself stays in the log.
func (c *Coordinator) Compensate(ctx context.Context, sessionID string, targetSeq uint64, reason string) (models.EventRef, error) {
	if strings.TrimSpace(sessionID) == "" {
		return models.EventRef{}, &models.ValidationError{Field: "session_id", Message: "is required"}
	}
	last, err := c.log.LastSequence(ctx, sessionID)
	if err != nil {
		return models.EventRef{}, fmt.Errorf("compensate: %w", err)
	}
	if targetSeq == 0 || targetSeq > last {
		return models.EventRef{}, fmt.Errorf("%w: session %s has no event at sequence %d", ErrCompensation, sessionID, targetSeq)
	}
	ref, err := c.appendOne(ctx, sessionID, models.EventInteractionCompensated, models.CompensationPayload{
		TargetSequence: targetSeq,
		Reason:         reason,
	})
	if err != nil {
		return models.EventRef{}, err
	}
	c.logger.InfoContext(ctx, "event compensated", "session_id", sessionID, "target_sequence", targetSeq, "sequence", ref.Sequence)
	return ref, nil
}

func (c *Coordinator) appendOne(ctx context.Context, sessionID string, t models.EventType, payload any) (models.EventRef, error) {
	ev, err := models.NewSessionEvent(t, payload)
	if err != nil {
		return models.EventRef{}, err
	}
	appended, err := c.log.AppendBatch(ctx, sessionID, []*models.SessionEvent{ev})
	if err != nil {
		return models.EventRef{}, fmt.Errorf("append %s: %w", t, err)
	}
	return appended[0].Ref(), nil
}
