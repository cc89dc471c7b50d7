package assembler

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/haasonsaas/nexuscore/internal/config"
	"github.com/haasonsaas/nexuscore/internal/observability"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// textOf returns content that estimates to exactly n tokens.
func textOf(word string, n int) string {
	s := strings.Repeat(word+" ", n*models.CharsPerToken)
	return s[:n*models.CharsPerToken]
}

func historySource(name string, tokens int, word string) Source {
	return SourceFunc{SourceName: name, Fn: func(ctx context.Context, query, sessionID string, budget int) (*models.Contribution, error) {
		return &models.Contribution{Interactions: []models.Interaction{
			{ID: name + "-1", Role: models.RoleUser, Content: textOf(word, tokens)},
		}}, nil
	}}
}

func failingSource(name string) Source {
	return SourceFunc{SourceName: name, Fn: func(ctx context.Context, query, sessionID string, budget int) (*models.Contribution, error) {
		return nil, errors.New("backend offline")
	}}
}

func newTestAssembler(t *testing.T, specs []SourceSpec, opts Options) *Assembler {
	t.Helper()
	a, err := New(specs, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestAssembleTrimsToBudget(t *testing.T) {
	a := newTestAssembler(t, []SourceSpec{
		{Source: historySource("primary", 60, "alpha"), Priority: 1, Weight: 0.5},
		{Source: historySource("secondary", 60, "alpha"), Priority: 2, Weight: 0.3},
		{Source: historySource("tertiary", 60, "alpha"), Priority: 3, Weight: 0.2},
	}, Options{})

	got, err := a.Assemble(context.Background(), "alpha", "sess-1", 100)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if got.TokenCount > 100 {
		t.Fatalf("TokenCount = %d, want <= 100", got.TokenCount)
	}
	if got.Metadata.SourceTokens["primary"] != 60 {
		t.Errorf("primary tokens = %d, want 60 (intact)", got.Metadata.SourceTokens["primary"])
	}
	if got.Metadata.SourceTokens["secondary"] != 40 {
		t.Errorf("secondary tokens = %d, want 40", got.Metadata.SourceTokens["secondary"])
	}
	if _, ok := got.Metadata.SourceTokens["tertiary"]; ok {
		t.Error("tertiary should have been dropped")
	}
	if len(got.Metadata.Dropped) != 1 || got.Metadata.Dropped[0] != "tertiary" {
		t.Errorf("Dropped = %v, want [tertiary]", got.Metadata.Dropped)
	}
	if len(got.Metadata.Truncated) != 1 || got.Metadata.Truncated[0] != "secondary" {
		t.Errorf("Truncated = %v, want [secondary]", got.Metadata.Truncated)
	}
	if want := []string{"primary", "secondary"}; strings.Join(got.Metadata.Sources, ",") != strings.Join(want, ",") {
		t.Errorf("Sources = %v, want %v", got.Metadata.Sources, want)
	}
	if got.History[0].Source != "primary" {
		t.Errorf("first history item from %q, want primary", got.History[0].Source)
	}
}

func TestAssembleBudgetInvariant(t *testing.T) {
	sizes := []int{0, 1, 7, 33, 60, 150}
	for _, maxTokens := range []int{1, 2, 5, 17, 50, 99, 100, 250, 1000} {
		for _, x := range sizes {
			for _, y := range sizes {
				a := newTestAssembler(t, []SourceSpec{
					{Source: historySource("h", x, "alpha"), Priority: 1, Weight: 0.6},
					{Source: SourceFunc{SourceName: "w", Fn: func(ctx context.Context, q, s string, b int) (*models.Contribution, error) {
						return &models.Contribution{Snapshot: map[string]any{
							"file:a.go": textOf("alpha", y),
							"file:b.go": textOf("beta", y/2),
						}}, nil
					}}, Priority: 2, Weight: 0.4},
				}, Options{})
				got, err := a.Assemble(context.Background(), "", "s", maxTokens)
				if err != nil {
					t.Fatalf("max=%d x=%d y=%d: Assemble() error = %v", maxTokens, x, y, err)
				}
				if got.TokenCount > maxTokens {
					t.Errorf("max=%d x=%d y=%d: TokenCount = %d", maxTokens, x, y, got.TokenCount)
				}
			}
		}
	}
}

func TestAssembleDropsLowestRelevanceFirst(t *testing.T) {
	a := newTestAssembler(t, []SourceSpec{
		{Source: historySource("history", 20, "zzz"), Priority: 1, Weight: 0.5, AlwaysRelevant: true},
		{Source: historySource("docs", 60, "alpha"), Priority: 2, Weight: 0.5},
	}, Options{QualityThreshold: 0})

	got, err := a.Assemble(context.Background(), "alpha", "s", 50)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if _, ok := got.Metadata.SourceTokens["history"]; ok {
		t.Error("low-relevance history should be dropped before truncating docs")
	}
	if got.Metadata.SourceTokens["docs"] != 50 {
		t.Errorf("docs tokens = %d, want 50", got.Metadata.SourceTokens["docs"])
	}
}

func TestAssembleRelevanceFilter(t *testing.T) {
	tests := []struct {
		name       string
		always     bool
		wantSource bool
	}{
		{name: "irrelevant dropped", always: false, wantSource: false},
		{name: "always relevant kept", always: true, wantSource: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAssembler(t, []SourceSpec{
				{Source: historySource("match", 10, "database migration"), Priority: 1, Weight: 0.5},
				{Source: historySource("other", 10, "weather"), Priority: 2, Weight: 0.5, AlwaysRelevant: tt.always},
			}, Options{RelevanceThreshold: 0.5, QualityThreshold: 0})

			got, err := a.Assemble(context.Background(), "database migration", "s", 100)
			if err != nil {
				t.Fatalf("Assemble() error = %v", err)
			}
			_, ok := got.Metadata.SourceTokens["other"]
			if ok != tt.wantSource {
				t.Errorf("other present = %v, want %v", ok, tt.wantSource)
			}
			if got.Metadata.Relevance["match"] != 1 {
				t.Errorf("match relevance = %v, want 1", got.Metadata.Relevance["match"])
			}
		})
	}
}

func TestAssembleSkipsFailedSource(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	a := newTestAssembler(t, []SourceSpec{
		{Source: historySource("history", 10, "alpha"), Priority: 1, Weight: 0.5},
		{Source: failingSource("broken"), Priority: 2, Weight: 0.5},
	}, Options{Metrics: metrics})

	got, err := a.Assemble(context.Background(), "alpha", "s", 100)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if got.Metadata.Failed["broken"] == "" {
		t.Errorf("Failed = %v, want broken recorded", got.Metadata.Failed)
	}
	if got.TokenCount != 10 {
		t.Errorf("TokenCount = %d, want 10", got.TokenCount)
	}
	if n := testutil.ToFloat64(metrics.SourceFetchCounter.WithLabelValues("broken", "error")); n != 1 {
		t.Errorf("broken error fetches = %v, want 1", n)
	}
}

func TestAssembleAllSourcesFail(t *testing.T) {
	a := newTestAssembler(t, []SourceSpec{
		{Source: failingSource("a"), Priority: 1, Weight: 0.5},
		{Source: failingSource("b"), Priority: 2, Weight: 0.5},
	}, Options{})

	_, err := a.Assemble(context.Background(), "alpha", "s", 100)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("error = %v, want ErrSourceUnavailable", err)
	}
	var srcErr *SourceError
	if !errors.As(err, &srcErr) {
		t.Errorf("error %v does not carry a SourceError", err)
	}
}

func TestAssembleQualityGate(t *testing.T) {
	a := newTestAssembler(t, []SourceSpec{
		{Source: historySource("history", 10, "unrelated"), Priority: 1, Weight: 1, AlwaysRelevant: true},
	}, Options{QualityThreshold: 0.5})

	got, err := a.Assemble(context.Background(), "kubernetes ingress", "s", 100)
	if got != nil {
		t.Error("no context should be returned on a low quality result")
	}
	var lowErr *LowQualityContextError
	if !errors.As(err, &lowErr) {
		t.Fatalf("error = %v, want LowQualityContextError", err)
	}
	if !errors.Is(err, ErrLowQualityContext) || lowErr.Score != 0 {
		t.Errorf("error = %v, score = %v", err, lowErr.Score)
	}
}

func TestAssembleEmptyResultFailsDefaultGate(t *testing.T) {
	empty := SourceFunc{SourceName: "empty", Fn: func(ctx context.Context, q, s string, b int) (*models.Contribution, error) {
		return nil, nil
	}}
	a := newTestAssembler(t, []SourceSpec{{Source: empty, Weight: 1}}, Options{QualityThreshold: config.DefaultQualityThreshold})
	if _, err := a.Assemble(context.Background(), "q", "s", 10); !errors.Is(err, ErrLowQualityContext) {
		t.Fatalf("error = %v, want ErrLowQualityContext", err)
	}

	a = newTestAssembler(t, []SourceSpec{{Source: empty, Weight: 1}}, Options{})
	got, err := a.Assemble(context.Background(), "q", "s", 10)
	if err != nil {
		t.Fatalf("zero threshold: error = %v", err)
	}
	if got.TokenCount != 0 || got.Metadata.Score != 0 {
		t.Errorf("got tokens=%d score=%v, want empty context", got.TokenCount, got.Metadata.Score)
	}
}

func TestAssembleSourceTimeoutAndPanic(t *testing.T) {
	slow := SourceFunc{SourceName: "slow", Fn: func(ctx context.Context, q, s string, b int) (*models.Contribution, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	panicky := SourceFunc{SourceName: "panicky", Fn: func(ctx context.Context, q, s string, b int) (*models.Contribution, error) {
		panic("boom")
	}}
	a := newTestAssembler(t, []SourceSpec{
		{Source: historySource("history", 5, "alpha"), Priority: 1, Weight: 0.4},
		{Source: slow, Priority: 2, Weight: 0.3, Timeout: 20 * time.Millisecond},
		{Source: panicky, Priority: 3, Weight: 0.3},
	}, Options{})

	start := time.Now()
	got, err := a.Assemble(context.Background(), "alpha", "s", 100)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("slow source was not bounded by its timeout")
	}
	if !strings.Contains(got.Metadata.Failed["slow"], "deadline") {
		t.Errorf("slow failure = %q", got.Metadata.Failed["slow"])
	}
	if !strings.Contains(got.Metadata.Failed["panicky"], "panicked") {
		t.Errorf("panicky failure = %q", got.Metadata.Failed["panicky"])
	}
}

func TestAssembleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newTestAssembler(t, []SourceSpec{{Source: historySource("h", 5, "x"), Weight: 1}}, Options{})
	if _, err := a.Assemble(ctx, "x", "s", 10); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestAssembleAllocatesSubBudgets(t *testing.T) {
	var mu sync.Mutex
	budgets := map[string]int{}
	record := func(name string) Source {
		return SourceFunc{SourceName: name, Fn: func(ctx context.Context, q, s string, budget int) (*models.Contribution, error) {
			mu.Lock()
			budgets[name] = budget
			mu.Unlock()
			return nil, nil
		}}
	}
	a := newTestAssembler(t, []SourceSpec{
		{Source: record("a"), Weight: 0.5},
		{Source: record("b"), Weight: 0.3},
		{Source: record("c"), Weight: 0.2},
	}, Options{MaxFanOut: 1})
	if _, err := a.Assemble(context.Background(), "q", "s", 99); err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	want := map[string]int{"a": 49, "b": 29, "c": 19}
	for name, n := range want {
		if budgets[name] != n {
			t.Errorf("budget[%s] = %d, want %d", name, budgets[name], n)
		}
	}
}

func TestAssembleRejectsNonPositiveBudget(t *testing.T) {
	a := newTestAssembler(t, []SourceSpec{{Source: historySource("h", 5, "x"), Weight: 1}}, Options{})
	if _, err := a.Assemble(context.Background(), "x", "s", 0); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestNewValidation(t *testing.T) {
	src := historySource("a", 1, "x")
	tests := []struct {
		name  string
		specs []SourceSpec
	}{
		{name: "no sources"},
		{name: "weights do not sum", specs: []SourceSpec{{Source: src, Weight: 0.4}}},
		{name: "duplicate name", specs: []SourceSpec{{Source: src, Weight: 0.5}, {Source: src, Weight: 0.5}}},
		{name: "nil source", specs: []SourceSpec{{Weight: 1}}},
		{name: "negative weight", specs: []SourceSpec{{Source: src, Weight: 1.5}, {Source: historySource("b", 1, "x"), Weight: -0.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.specs, Options{}); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.AssemblerConfig{
		Sources: []config.SourceConfig{
			{Name: "workspace", Priority: 2, Weight: 0.4},
			{Name: "history", Priority: 1, Weight: 0.6, AlwaysRelevant: true},
		},
	}
	available := map[string]Source{
		"history":   historySource("history", 1, "x"),
		"workspace": historySource("workspace", 1, "x"),
	}
	a, err := NewFromConfig(cfg, available, Options{})
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	if got := strings.Join(a.Sources(), ","); got != "history,workspace" {
		t.Errorf("Sources() = %s, want priority order", got)
	}
	if a.opts.QualityThreshold != config.DefaultQualityThreshold {
		t.Errorf("QualityThreshold = %v, want default", a.opts.QualityThreshold)
	}

	delete(available, "workspace")
	if _, err := NewFromConfig(cfg, available, Options{}); err == nil {
		t.Error("expected error for unbound source")
	}
}

func TestAssembleNaNScoreIsIrrelevant(t *testing.T) {
	nan := ScorerFunc(func(string, *models.Contribution) float64 { return math.NaN() })
	a := newTestAssembler(t, []SourceSpec{
		{Source: historySource("history", 10, "deploy"), Priority: 1, Weight: 1},
	}, Options{Scorer: nan, RelevanceThreshold: 0.2, QualityThreshold: 0.1})

	got, err := a.Assemble(context.Background(), "deploy", "s", 100)
	if got != nil {
		t.Errorf("context = %+v, want none", got)
	}
	if !errors.Is(err, ErrLowQualityContext) {
		t.Fatalf("error = %v, want ErrLowQualityContext", err)
	}
}
