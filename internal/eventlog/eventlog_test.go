package eventlog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/nexuscore/internal/observability"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

func event(t *testing.T, typ models.EventType, payload any) *models.SessionEvent {
	t.Helper()
	ev, err := models.NewSessionEvent(typ, payload)
	if err != nil {
		t.Fatalf("NewSessionEvent: %v", err)
	}
	return ev
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	sqliteBackend, err := NewSQLiteBackend(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	t.Cleanup(func() { _ = sqliteBackend.Close() })
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqliteBackend,
	}
}

func TestLog_AppendAssignsSequence(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
			log := New(backend, Options{Now: func() time.Time { return fixed }})
			ctx := context.Background()

			in := event(t, models.EventRequestReceived, models.RequestReceivedPayload{Query: "hi"})
			seq, err := log.Append(ctx, "s1", in)
			if err != nil {
				t.Fatalf("Append: %v", err)
			}
			if seq != 1 {
				t.Errorf("first seq = %d, want 1", seq)
			}
			if in.Sequence != 0 || in.ID != "" {
				t.Error("Append modified its input")
			}

			batch, err := log.AppendBatch(ctx, "s1", []*models.SessionEvent{
				event(t, models.EventInferenceCompleted, models.InferencePayload{Content: "hello"}),
				event(t, models.EventInteractionRecorded, models.InteractionPayload{Role: models.RoleUser, Content: "x"}),
			})
			if err != nil {
				t.Fatalf("AppendBatch: %v", err)
			}
			if batch[0].Sequence != 2 || batch[1].Sequence != 3 {
				t.Errorf("batch sequences = %d,%d", batch[0].Sequence, batch[1].Sequence)
			}

			if _, err := log.Append(ctx, "s2", event(t, models.EventRequestReceived, nil)); err != nil {
				t.Fatalf("Append s2: %v", err)
			}

			events, err := log.Read(ctx, "s1", 0)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if len(events) != 3 {
				t.Fatalf("read %d events, want 3", len(events))
			}
			for i, ev := range events {
				if ev.Sequence != uint64(i+1) || ev.SessionID != "s1" || ev.ID == "" {
					t.Errorf("event %d = %+v", i, ev)
				}
				if !ev.Timestamp.Equal(fixed) {
					t.Errorf("timestamp = %v, want %v", ev.Timestamp, fixed)
				}
			}
			var p models.InferencePayload
			if err := events[1].DecodePayload(&p); err != nil || p.Content != "hello" {
				t.Errorf("payload = %+v, err = %v", p, err)
			}

			tail, err := log.Read(ctx, "s1", 3)
			if err != nil || len(tail) != 1 || tail[0].Sequence != 3 {
				t.Errorf("Read(from=3) = %v, %v", tail, err)
			}

			sessions, err := log.Sessions(ctx)
			if err != nil || len(sessions) != 2 || sessions[0] != "s1" {
				t.Errorf("Sessions() = %v, %v", sessions, err)
			}
		})
	}
}

func TestLog_ConcurrentAppendsAreGapless(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			log := New(backend, Options{})
			ctx := context.Background()
			const n = 40

			var wg sync.WaitGroup
			seqs := make(chan uint64, n)
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				ev := event(t, models.EventInteractionRecorded, models.InteractionPayload{Role: models.RoleUser, Content: "m"})
				wg.Add(1)
				go func() {
					defer wg.Done()
					seq, err := log.Append(ctx, "shared", ev)
					if err != nil {
						errs <- err
						return
					}
					seqs <- seq
				}()
			}
			wg.Wait()
			close(seqs)
			close(errs)
			for err := range errs {
				t.Fatalf("Append: %v", err)
			}

			var got []int
			for s := range seqs {
				got = append(got, int(s))
			}
			sort.Ints(got)
			for i, s := range got {
				if s != i+1 {
					t.Fatalf("sequences = %v, want 1..%d without gaps", got, n)
				}
			}
			if log.locks.held() != 0 {
				t.Errorf("%d session locks leaked", log.locks.held())
			}
		})
	}
}

// racingBackend simulates another writer taking a sequence number between
// LastSequence and Append.
type racingBackend struct {
	*MemoryBackend
	collisions int
}

func (r *racingBackend) Append(ctx context.Context, events []*models.SessionEvent) error {
	if r.collisions > 0 {
		r.collisions--
		intruder := events[0].Clone()
		intruder.ID = "intruder"
		if err := r.MemoryBackend.Append(ctx, []*models.SessionEvent{intruder}); err != nil {
			return err
		}
	}
	return r.MemoryBackend.Append(ctx, events)
}

func TestLog_RetriesOnConcurrentAppend(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	backend := &racingBackend{MemoryBackend: NewMemoryBackend(), collisions: 2}
	log := New(backend, Options{Metrics: metrics})

	seq, err := log.Append(context.Background(), "s", &models.SessionEvent{Type: models.EventRequestReceived})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if seq != 3 {
		t.Errorf("seq = %d, want 3 after two intruders", seq)
	}
	if got := testutil.ToFloat64(metrics.AppendRetries); got != 2 {
		t.Errorf("append retries = %v, want 2", got)
	}
}

func TestLog_GivesUpAfterMaxAttempts(t *testing.T) {
	backend := &racingBackend{MemoryBackend: NewMemoryBackend(), collisions: 10}
	log := New(backend, Options{AppendAttempts: 2})
	_, err := log.Append(context.Background(), "s", &models.SessionEvent{Type: models.EventRequestReceived})
	if !errors.Is(err, ErrConcurrentAppend) {
		t.Fatalf("err = %v, want ErrConcurrentAppend", err)
	}
}

func TestLog_AppendValidation(t *testing.T) {
	log := New(NewMemoryBackend(), Options{})
	tests := []struct {
		name    string
		session string
		events  []*models.SessionEvent
	}{
		{"empty session", "", []*models.SessionEvent{{Type: models.EventRequestReceived}}},
		{"nil event", "s", []*models.SessionEvent{nil}},
		{"missing type", "s", []*models.SessionEvent{{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := log.AppendBatch(context.Background(), tt.session, tt.events); !errors.Is(err, models.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestSessionLocks_TimeoutAndCancel(t *testing.T) {
	locks := newSessionLocks()
	release, err := locks.Acquire(context.Background(), "s")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locks.Acquire(ctx, "s"); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("err = %v, want ErrLockTimeout", err)
	}

	other, err := locks.Acquire(context.Background(), "other")
	if err != nil {
		t.Fatalf("independent session blocked: %v", err)
	}
	other()

	release()
	release()
	if locks.held() != 0 {
		t.Errorf("held = %d, want 0", locks.held())
	}
}

func TestMemoryBackend_RejectsGaps(t *testing.T) {
	m := NewMemoryBackend()
	err := m.Append(context.Background(), []*models.SessionEvent{{SessionID: "s", Sequence: 2, Type: "x"}})
	var cae *ConcurrentAppendError
	if !errors.As(err, &cae) || cae.Sequence != 2 {
		t.Errorf("err = %v, want ConcurrentAppendError at 2", err)
	}
}
