package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/nexuscore/internal/assembler"
	"github.com/haasonsaas/nexuscore/internal/assembler/sources"
	"github.com/haasonsaas/nexuscore/internal/backoff"
	"github.com/haasonsaas/nexuscore/internal/config"
	"github.com/haasonsaas/nexuscore/internal/coordinator"
	"github.com/haasonsaas/nexuscore/internal/enhancers"
	"github.com/haasonsaas/nexuscore/internal/eventlog"
	"github.com/haasonsaas/nexuscore/internal/llm"
	"github.com/haasonsaas/nexuscore/internal/observability"
	"github.com/haasonsaas/nexuscore/internal/projection"
	"github.com/haasonsaas/nexuscore/internal/toolchain"
	"github.com/haasonsaas/nexuscore/internal/tools/builtin"
)

// policyAdapterPriority runs the tool policy before any other tool adapter.
const policyAdapterPriority = -100

// runtime holds the wired core for one CLI invocation.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	log      *eventlog.Log
	corpus   *sources.Corpus
	coord    *coordinator.Coordinator

	shutdownTracer func(context.Context) error
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newRuntime(ctx context.Context, cfg *config.Config, logOutput io.Writer) (_ *runtime, err error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: logOutput,
	})
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})

	rt := &runtime{
		cfg:            cfg,
		logger:         logger,
		registry:       registry,
		metrics:        metrics,
		tracer:         tracer,
		shutdownTracer: shutdownTracer,
	}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	backend, err := eventlog.OpenBackend(ctx, cfg.EventLog)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	rt.log = eventlog.New(backend, eventlog.Options{
		AppendAttempts: cfg.EventLog.AppendAttempts,
		LockTimeout:    cfg.EventLog.LockTimeout,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
	})

	policy := &toolchain.Policy{Allow: cfg.Toolchain.Allow, Deny: cfg.Toolchain.Deny, Groups: toolchain.DefaultGroups}
	reg, err := enhancers.NewRegistry(policy.Adapter("tool-policy", policyAdapterPriority))
	if err != nil {
		return nil, err
	}
	holder := enhancers.NewHolder(reg)
	states := projection.NewCache(rt.log, projection.NewProjector(logger, metrics), holder)

	rt.corpus = sources.NewCorpus(cfg.Workspace, logger)
	var embedder sources.Embedder
	if cfg.Embeddings.Enabled && cfg.LLM.APIKey != "" {
		e, err := llm.NewOpenAIEmbedder(llm.OpenAIConfig{APIKey: cfg.LLM.APIKey, BaseURL: cfg.LLM.BaseURL, Model: cfg.Embeddings.Model})
		if err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
		embedder = e
	}
	available := map[string]assembler.Source{
		config.SourceHistory:   sources.NewHistorySource(rt.log, 0),
		config.SourceWorkspace: sources.NewWorkspaceSource(rt.corpus),
		config.SourceSemantic:  sources.NewSemanticSource(rt.corpus, embedder, cfg.Embeddings, logger),
	}
	asm, err := assembler.NewFromConfig(cfg.Assembler, available, assembler.Options{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		return nil, err
	}

	tools := toolchain.NewRegistry()
	if err := builtin.Register(tools, builtin.Config{Workspace: cfg.Workspace.Root}); err != nil {
		return nil, err
	}
	executor := toolchain.NewExecutor(toolchain.Config{
		ToolTimeout:  cfg.Toolchain.ToolTimeout,
		ChainTimeout: cfg.Toolchain.ChainTimeout,
		MaxAttempts:  cfg.Toolchain.MaxAttempts,
		RetryPolicy:  backoff.NewPolicy(cfg.Toolchain.RetryInitial, cfg.Toolchain.RetryMax, 2, 0.1),
	}, logger, metrics, tracer)

	var client llm.Client
	base, err := llm.NewFromConfig(cfg.LLM)
	if err != nil {
		return nil, err
	}
	if base != nil {
		client = llm.NewRetrying(base, llm.RetryConfig{
			Timeout:     cfg.LLM.Timeout,
			MaxAttempts: cfg.LLM.MaxAttempts,
			Policy:      backoff.DefaultPolicy(),
		}, logger, metrics, tracer)
	}

	rt.coord, err = coordinator.New(coordinator.Options{
		Assembler:           asm,
		Tools:               tools,
		Executor:            executor,
		Log:                 rt.log,
		States:              states,
		Enhancers:           holder,
		Chain:               enhancers.NewChain(logger, metrics),
		LLM:                 client,
		SystemPrompt:        cfg.LLM.SystemPrompt,
		DefaultMaxTokens:    cfg.Assembler.DefaultMaxTokens,
		MaxCompletionTokens: cfg.LLM.MaxCompletionTokens,
		Logger:              logger,
		Metrics:             metrics,
		Tracer:              tracer,
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// Close releases the event log, the workspace watcher and the tracer.
func (rt *runtime) Close() error {
	var errs []error
	if rt.corpus != nil {
		errs = append(errs, rt.corpus.Close())
	}
	if rt.log != nil {
		errs = append(errs, rt.log.Close())
	}
	if rt.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, rt.shutdownTracer(ctx))
	}
	return errors.Join(errs...)
}
