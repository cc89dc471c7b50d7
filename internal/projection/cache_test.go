package projection

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/haasonsaas/nexuscore/internal/enhancers"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

// sliceReader serves events from memory and records each fromSeq.
type sliceReader struct {
	mu     sync.Mutex
	events []*models.SessionEvent
	reads  []uint64
}

func (r *sliceReader) Read(_ context.Context, _ string, fromSeq uint64) ([]*models.SessionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, fromSeq)
	var out []*models.SessionEvent
	for _, e := range r.events {
		if e.Sequence >= fromSeq {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (r *sliceReader) add(e *models.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestCache_IncrementalProjection(t *testing.T) {
	reader := &sliceReader{}
	holder := enhancers.NewHolder(nil)
	cache := NewCache(reader, NewProjector(nil, nil), holder)
	ctx := context.Background()

	reader.add(ev(t, 1, models.EventRequestReceived, models.RequestReceivedPayload{Query: "first"}))
	s1, err := cache.State(ctx, "s")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if len(s1.Interactions) != 1 {
		t.Fatalf("after e1: %d interactions", len(s1.Interactions))
	}

	reader.add(ev(t, 2, models.EventRequestReceived, models.RequestReceivedPayload{Query: "second"}))
	s2, err := cache.State(ctx, "s")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if len(s2.Interactions) != 2 || s2.LastSequence != 2 {
		t.Errorf("after e2: %+v", s2)
	}
	if reader.reads[1] != 2 {
		t.Errorf("second read started at %d, want 2", reader.reads[1])
	}

	full, err := NewProjector(nil, nil).Project(ctx, "s", reader.events, nil)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if diff := cmp.Diff(full, s2); diff != "" {
		t.Errorf("cached projection differs from replay (-replay +cached):\n%s", diff)
	}

	only1, err := cache.StateAt(ctx, "s", 1)
	if err != nil {
		t.Fatalf("StateAt: %v", err)
	}
	if len(only1.Interactions) != 1 || only1.Interactions[0].Content != "first" {
		t.Errorf("StateAt(1) = %+v", only1.Interactions)
	}
}

func TestCache_HandlerChangeInvalidates(t *testing.T) {
	reader := &sliceReader{}
	reader.add(ev(t, 1, models.EventRequestReceived, models.RequestReceivedPayload{Query: "q"}))
	holder := enhancers.NewHolder(nil)
	cache := NewCache(reader, NewProjector(nil, nil), holder)
	ctx := context.Background()

	if _, err := cache.State(ctx, "s"); err != nil {
		t.Fatalf("State: %v", err)
	}

	drop := enhancers.NewEventHandler("drop-all", 0, func(context.Context, *models.SessionEvent) (*models.SessionEvent, error) {
		return nil, nil
	})
	if err := holder.Register(drop); err != nil {
		t.Fatalf("Register: %v", err)
	}

	state, err := cache.State(ctx, "s")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.Suppressed != 1 || len(state.Interactions) != 0 {
		t.Errorf("state after handler change = %+v", state)
	}
	if last := reader.reads[len(reader.reads)-1]; last != 1 {
		t.Errorf("expected a full replay from 1, got %d", last)
	}

	cache.Invalidate("s")
	if _, err := cache.State(ctx, "s"); err != nil {
		t.Fatalf("State after Invalidate: %v", err)
	}
}

func TestCache_ReplacedHandlerInvalidates(t *testing.T) {
	reader := &sliceReader{}
	reader.add(ev(t, 1, models.EventRequestReceived, models.RequestReceivedPayload{Query: "q"}))
	ctx := context.Background()

	drop := enhancers.NewEventHandler("h", 5, func(context.Context, *models.SessionEvent) (*models.SessionEvent, error) {
		return nil, nil
	})
	holder := enhancers.NewHolder(nil)
	if err := holder.Register(drop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	cache := NewCache(reader, NewProjector(nil, nil), holder)

	state, err := cache.State(ctx, "s")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.Suppressed != 1 {
		t.Fatalf("suppressed = %d, want 1", state.Suppressed)
	}

	pass := enhancers.NewEventHandler("h", 5, func(_ context.Context, e *models.SessionEvent) (*models.SessionEvent, error) {
		return e, nil
	})
	err = holder.Update(func(r *enhancers.Registry) (*enhancers.Registry, error) {
		next, err := r.Unregister("h")
		if err != nil {
			return nil, err
		}
		return next.Register(pass)
	})
	if err != nil {
		t.Fatalf("replace handler: %v", err)
	}

	cached, err := cache.State(ctx, "s")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	fresh, err := NewProjector(nil, nil).Project(ctx, "s", reader.events, holder.Load().EventHandlers())
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if diff := cmp.Diff(fresh, cached); diff != "" {
		t.Errorf("cached projection differs from replay with current handlers (-replay +cached):\n%s", diff)
	}
	if cached.Suppressed != 0 || len(cached.Interactions) != 1 {
		t.Errorf("state after replacement = %+v", cached)
	}
}
