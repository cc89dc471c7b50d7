package eventlog

import (
	"context"
	"sort"
	"sync"

	"github.com/haasonsaas/nexuscore/pkg/models"
)

// MemoryBackend keeps events in process memory.
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string][]*models.SessionEvent
	closed   bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string][]*models.SessionEvent)}
}

func (m *MemoryBackend) Append(_ context.Context, events []*models.SessionEvent) error {
	if len(events) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	sessionID := events[0].SessionID
	existing := m.sessions[sessionID]
	next := uint64(len(existing)) + 1
	for i, ev := range events {
		if ev.Sequence != next+uint64(i) {
			return &ConcurrentAppendError{SessionID: sessionID, Sequence: ev.Sequence}
		}
	}
	for _, ev := range events {
		existing = append(existing, ev.Clone())
	}
	m.sessions[sessionID] = existing
	return nil
}

func (m *MemoryBackend) LastSequence(_ context.Context, sessionID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.sessions[sessionID])), nil
}

func (m *MemoryBackend) Read(_ context.Context, sessionID string, fromSeq uint64) ([]*models.SessionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	events := m.sessions[sessionID]
	start := 0
	if fromSeq > 1 {
		start = int(min(fromSeq-1, uint64(len(events))))
	}
	out := make([]*models.SessionEvent, 0, len(events)-start)
	for _, ev := range events[start:] {
		out = append(out, ev.Clone())
	}
	return out, nil
}

func (m *MemoryBackend) Sessions(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
