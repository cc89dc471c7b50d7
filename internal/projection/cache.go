package projection

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/nexuscore/internal/enhancers"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

// EventReader reads a session's events with Sequence >= fromSeq.
type EventReader interface {
	Read(ctx context.Context, sessionID string, fromSeq uint64) ([]*models.SessionEvent, error)
}

// Cache keeps the last projected state per session and folds only events
// appended since. An entry is discarded when the event handler set
// changes.
type Cache struct {
	reader    EventReader
	projector *Projector
	holder    *enhancers.Holder

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	fingerprint string
	state       *models.SessionState
}

// NewCache creates a projection cache.
func NewCache(reader EventReader, projector *Projector, holder *enhancers.Holder) *Cache {
	return &Cache{
		reader:    reader,
		projector: projector,
		holder:    holder,
		entries:   make(map[string]cacheEntry),
	}
}

// State returns the current projection of sessionID.
func (c *Cache) State(ctx context.Context, sessionID string) (*models.SessionState, error) {
	reg := c.holder.Load()
	fingerprint := reg.Fingerprint(enhancers.KindEvent)

	c.mu.Lock()
	entry, ok := c.entries[sessionID]
	c.mu.Unlock()

	base := models.NewSessionState(sessionID)
	if ok && entry.fingerprint == fingerprint {
		base = entry.state
	}

	events, err := c.reader.Read(ctx, sessionID, base.LastSequence+1)
	if err != nil {
		return nil, fmt.Errorf("project session %s: %w", sessionID, err)
	}
	state, err := c.projector.Fold(ctx, base, events, reg.EventHandlers())
	if err != nil {
		return nil, fmt.Errorf("project session %s: %w", sessionID, err)
	}

	c.mu.Lock()
	current, ok := c.entries[sessionID]
	if !ok || current.fingerprint != fingerprint || current.state.LastSequence <= state.LastSequence {
		c.entries[sessionID] = cacheEntry{fingerprint: fingerprint, state: state}
	}
	c.mu.Unlock()

	return state.Clone(), nil
}

// StateAt projects sessionID using only events with Sequence <= until. It
// bypasses the cache.
func (c *Cache) StateAt(ctx context.Context, sessionID string, until uint64) (*models.SessionState, error) {
	events, err := c.reader.Read(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("project session %s: %w", sessionID, err)
	}
	n := 0
	for n < len(events) && events[n].Sequence <= until {
		n++
	}
	return c.projector.Project(ctx, sessionID, events[:n], c.holder.Load().EventHandlers())
}

// Invalidate drops the cached state of sessionID.
func (c *Cache) Invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}
