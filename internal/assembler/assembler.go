// Package assembler builds the context handed to the model from a fixed set
// of weighted sources. Sources are fetched concurrently, scored against the
// query, filtered, composed in priority order and trimmed to the token
// budget.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/nexuscore/internal/config"
	"github.com/haasonsaas/nexuscore/internal/observability"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

const (
	defaultMaxFanOut    = 4
	defaultFetchTimeout = 5 * time.Second
	weightTolerance     = 1e-6
)

// Options configures an Assembler.
type Options struct {
	// RelevanceThreshold drops contributions scoring below it.
	RelevanceThreshold float64

	// QualityThreshold fails assembly when the composed score is below it.
	QualityThreshold float64

	// MaxFanOut bounds concurrent source fetches.
	MaxFanOut int

	// FetchTimeout applies to sources without their own timeout.
	FetchTimeout time.Duration

	Scorer  Scorer
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Assembler composes a models.Context from its sources.
type Assembler struct {
	specs   []SourceSpec
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// New validates the source set and returns an Assembler. Source names must
// be unique and weights must sum to 1.
func New(specs []SourceSpec, opts Options) (*Assembler, error) {
	if len(specs) == 0 {
		return nil, errors.New("assembler: at least one source is required")
	}
	seen := make(map[string]bool, len(specs))
	sum := 0.0
	for i, spec := range specs {
		if spec.Source == nil {
			return nil, fmt.Errorf("assembler: source %d is nil", i)
		}
		name := spec.name()
		if name == "" {
			return nil, fmt.Errorf("assembler: source %d has no name", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("assembler: duplicate source %q", name)
		}
		seen[name] = true
		if spec.Weight < 0 {
			return nil, fmt.Errorf("assembler: source %q has negative weight", name)
		}
		sum += spec.Weight
	}
	if math.Abs(sum-1) > weightTolerance {
		return nil, fmt.Errorf("assembler: source weights sum to %.6f, want 1", sum)
	}

	ordered := append([]SourceSpec(nil), specs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	if opts.MaxFanOut <= 0 {
		opts.MaxFanOut = defaultMaxFanOut
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Scorer == nil {
		opts.Scorer = LexicalScorer{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		specs:   ordered,
		opts:    opts,
		logger:  logger.With("component", "assembler"),
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
	}, nil
}

// NewFromConfig binds configured sources to their implementations by name.
func NewFromConfig(cfg config.AssemblerConfig, available map[string]Source, opts Options) (*Assembler, error) {
	specs := make([]SourceSpec, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src, ok := available[sc.Name]
		if !ok {
			return nil, fmt.Errorf("assembler: no implementation for source %q", sc.Name)
		}
		specs = append(specs, SourceSpec{
			Source:         src,
			Priority:       sc.Priority,
			Weight:         sc.Weight,
			Timeout:        sc.Timeout,
			AlwaysRelevant: sc.AlwaysRelevant,
		})
	}
	opts.RelevanceThreshold = cfg.RelevanceThreshold
	opts.QualityThreshold = cfg.Quality()
	if cfg.MaxFanOut > 0 {
		opts.MaxFanOut = cfg.MaxFanOut
	}
	return New(specs, opts)
}

// Sources returns the source names in priority order.
func (a *Assembler) Sources() []string {
	names := make([]string, len(a.specs))
	for i, spec := range a.specs {
		names[i] = spec.name()
	}
	return names
}

// candidate is one source's fetched contribution during assembly.
type candidate struct {
	index     int
	spec      SourceSpec
	contrib   *models.Contribution
	relevance float64
	err       error
}

func (c *candidate) tier() int { return c.spec.Priority }

// Assemble fetches every source, scores and filters the contributions, and
// composes them into a context of at most maxTokens tokens.
func (a *Assembler) Assemble(ctx context.Context, query, sessionID string, maxTokens int) (*models.Context, error) {
	if maxTokens <= 0 {
		return nil, &models.ValidationError{Field: "max_tokens", Message: "must be positive"}
	}
	ctx, span := a.tracer.Start(ctx, "context.assemble")
	defer span.End()

	candidates := a.fetchAll(ctx, query, sessionID, maxTokens)
	if err := ctx.Err(); err != nil {
		a.tracer.RecordError(span, err)
		return nil, err
	}

	var (
		failures  []error
		failed    = map[string]string{}
		survivors []*candidate
		dropped   []string
	)
	for _, c := range candidates {
		if c.err != nil {
			failures = append(failures, c.err)
			failed[c.spec.name()] = c.err.Error()
			continue
		}
		if c.contrib.Empty() {
			continue
		}
		c.relevance = clamp(a.opts.Scorer.Score(query, c.contrib))
		if !c.spec.AlwaysRelevant && c.relevance < a.opts.RelevanceThreshold {
			a.logger.DebugContext(ctx, "contribution below relevance threshold",
				"source", c.spec.name(), "relevance", c.relevance)
			dropped = append(dropped, c.spec.name())
			continue
		}
		survivors = append(survivors, c)
	}
	if len(failures) == len(candidates) {
		err := fmt.Errorf("%w: %w", ErrSourceUnavailable, errors.Join(failures...))
		a.tracer.RecordError(span, err)
		return nil, err
	}

	survivors, trimDropped, truncated := trim(survivors, maxTokens)
	dropped = append(dropped, trimDropped...)

	out := models.NewContext(sessionID, query)
	weighted, total := 0.0, 0
	for _, c := range survivors {
		out = out.WithContribution(c.contrib)
		out.Metadata.Relevance[c.spec.name()] = c.relevance
		tokens := c.contrib.Tokens()
		weighted += c.relevance * float64(tokens)
		total += tokens
	}
	out.Metadata.Dropped = dropped
	out.Metadata.Truncated = truncated
	if len(failed) > 0 {
		out.Metadata.Failed = failed
	}
	out.Metadata.Score = composedScore(survivors, weighted, total)

	a.metrics.ObserveContextTokens(out.TokenCount)
	a.tracer.SetAttributes(span,
		"context.tokens", out.TokenCount,
		"context.sources", len(survivors),
		"context.score", out.Metadata.Score,
	)
	a.logger.DebugContext(ctx, "context assembled",
		"tokens", out.TokenCount,
		"max_tokens", maxTokens,
		"sources", out.Metadata.Sources,
		"dropped", dropped,
		"truncated", truncated,
		"score", out.Metadata.Score,
	)

	if out.Metadata.Score < a.opts.QualityThreshold {
		err := &LowQualityContextError{Score: out.Metadata.Score, Threshold: a.opts.QualityThreshold}
		a.tracer.RecordError(span, err)
		return nil, err
	}
	return out, nil
}

func composedScore(survivors []*candidate, weighted float64, total int) float64 {
	if len(survivors) == 0 {
		return 0
	}
	if total == 0 {
		sum := 0.0
		for _, c := range survivors {
			sum += c.relevance
		}
		return sum / float64(len(survivors))
	}
	return weighted / float64(total)
}

func (a *Assembler) fetchAll(ctx context.Context, query, sessionID string, maxTokens int) []*candidate {
	candidates := make([]*candidate, len(a.specs))
	var g errgroup.Group
	g.SetLimit(a.opts.MaxFanOut)
	for i, spec := range a.specs {
		budget := int(math.Floor(spec.Weight * float64(maxTokens)))
		g.Go(func() error {
			contrib, err := a.fetch(ctx, spec, query, sessionID, budget)
			candidates[i] = &candidate{index: i, spec: spec, contrib: contrib, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return candidates
}

type fetchResult struct {
	contrib *models.Contribution
	err     error
}

// fetch runs one source under its timeout. Failures are logged and
// returned as *SourceError.
func (a *Assembler) fetch(ctx context.Context, spec SourceSpec, query, sessionID string, budget int) (*models.Contribution, error) {
	name := spec.name()
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = a.opts.FetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := a.tracer.TraceSourceFetch(ctx, name, budget)
	defer span.End()

	start := time.Now()
	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("source panicked: %v", r)}
			}
		}()
		contrib, err := spec.Source.Fetch(ctx, query, sessionID, budget)
		done <- fetchResult{contrib: contrib, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = fetchResult{err: ctx.Err()}
	}
	elapsed := time.Since(start).Seconds()

	if res.err != nil {
		err := &SourceError{Source: name, Err: res.err}
		a.metrics.RecordSourceFetch(name, "error", elapsed)
		a.tracer.RecordError(span, err)
		a.logger.WarnContext(ctx, "context source failed", "source", name, "error", res.err)
		return nil, err
	}
	if res.contrib.Empty() {
		a.metrics.RecordSourceFetch(name, "empty", elapsed)
		return nil, nil
	}
	contrib := res.contrib.Clone()
	contrib.Source = name
	a.metrics.RecordSourceFetch(name, "success", elapsed)
	a.tracer.SetAttributes(span, "context.tokens", contrib.Tokens())
	return contrib, nil
}
