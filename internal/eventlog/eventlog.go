// Package eventlog is the append-only, per-session ordered store of
// session events. It is the source of truth for session state.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexuscore/internal/backoff"
	"github.com/haasonsaas/nexuscore/internal/observability"
	"github.com/haasonsaas/nexuscore/pkg/models"
)

// Backend stores sequenced events durably.
type Backend interface {
	// Append writes events atomically. The events belong to one session
	// and carry consecutive sequence numbers. If any sequence number is
	// already taken nothing is written and the error matches
	// ErrConcurrentAppend.
	Append(ctx context.Context, events []*models.SessionEvent) error

	// LastSequence returns the highest sequence number of a session, or 0.
	LastSequence(ctx context.Context, sessionID string) (uint64, error)

	// Read returns the events of a session with Sequence >= fromSeq in
	// sequence order.
	Read(ctx context.Context, sessionID string, fromSeq uint64) ([]*models.SessionEvent, error)

	// Sessions lists the known session IDs in sorted order.
	Sessions(ctx context.Context) ([]string, error)

	Close() error
}

// Options configures a Log.
type Options struct {
	// AppendAttempts bounds retries after ErrConcurrentAppend. Default 5.
	AppendAttempts int

	// LockTimeout bounds waiting for the per-session lock. Default 10s.
	LockTimeout time.Duration

	// Now stamps event timestamps. Defaults to time.Now.
	Now func() time.Time

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Log assigns sequence numbers and serializes appends per session on top
// of a Backend.
type Log struct {
	backend Backend
	locks   *sessionLocks
	opts    Options
	logger  *slog.Logger
	policy  backoff.BackoffPolicy
}

// New creates a Log over backend.
func New(backend Backend, opts Options) *Log {
	if opts.AppendAttempts <= 0 {
		opts.AppendAttempts = 5
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		backend: backend,
		locks:   newSessionLocks(),
		opts:    opts,
		logger:  logger.With("component", "eventlog"),
		policy:  backoff.AggressivePolicy(),
	}
}

// Append writes one event and returns its sequence number.
func (l *Log) Append(ctx context.Context, sessionID string, event *models.SessionEvent) (uint64, error) {
	out, err := l.AppendBatch(ctx, sessionID, []*models.SessionEvent{event})
	if err != nil {
		return 0, err
	}
	return out[0].Sequence, nil
}

// AppendBatch writes events in order with consecutive sequence numbers and
// returns the stored copies. The inputs are not modified. Missing IDs are
// generated and every event is stamped with the session ID and the
// current time.
func (l *Log) AppendBatch(ctx context.Context, sessionID string, events []*models.SessionEvent) ([]*models.SessionEvent, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, &models.ValidationError{Field: "session_id", Message: "is required"}
	}
	if len(events) == 0 {
		return nil, nil
	}
	for i, ev := range events {
		if ev == nil || ev.Type == "" {
			return nil, &models.ValidationError{Field: fmt.Sprintf("events[%d]", i), Message: "event type is required"}
		}
	}

	ctx, span := l.opts.Tracer.TraceAppend(ctx, sessionID, len(events))
	defer span.End()

	lockCtx, cancel := context.WithTimeout(ctx, l.opts.LockTimeout)
	release, err := l.locks.Acquire(lockCtx, sessionID)
	cancel()
	if err != nil {
		l.opts.Tracer.RecordError(span, err)
		return nil, fmt.Errorf("append to session %s: %w", sessionID, err)
	}
	defer release()

	result, err := backoff.RetryWithBackoff(ctx, l.policy, l.opts.AppendAttempts, func(attempt int) ([]*models.SessionEvent, error) {
		last, err := l.backend.LastSequence(ctx, sessionID)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("read last sequence: %w", err))
		}
		stamped := l.stamp(sessionID, last, events)
		err = l.backend.Append(ctx, stamped)
		if err == nil {
			return stamped, nil
		}
		if errors.Is(err, ErrConcurrentAppend) {
			l.opts.Metrics.RecordAppendRetry()
			l.logger.WarnContext(ctx, "sequence collision; retrying append",
				"session_id", sessionID, "attempt", attempt, "error", err)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	})
	if err != nil {
		l.opts.Tracer.RecordError(span, err)
		return nil, fmt.Errorf("append to session %s: %w", sessionID, err)
	}

	for _, ev := range result.Value {
		l.opts.Metrics.RecordEventAppended(string(ev.Type))
	}
	l.logger.DebugContext(ctx, "events appended",
		"session_id", sessionID,
		"count", len(result.Value),
		"last_sequence", result.Value[len(result.Value)-1].Sequence)
	return result.Value, nil
}

func (l *Log) stamp(sessionID string, last uint64, events []*models.SessionEvent) []*models.SessionEvent {
	now := l.opts.Now().UTC()
	out := make([]*models.SessionEvent, len(events))
	for i, ev := range events {
		c := ev.Clone()
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.SessionID = sessionID
		c.Sequence = last + uint64(i) + 1
		c.Timestamp = now
		out[i] = c
	}
	return out
}

// Read returns the session's events with Sequence >= fromSeq.
func (l *Log) Read(ctx context.Context, sessionID string, fromSeq uint64) ([]*models.SessionEvent, error) {
	events, err := l.backend.Read(ctx, sessionID, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	return events, nil
}

// LastSequence returns the session's highest sequence number.
func (l *Log) LastSequence(ctx context.Context, sessionID string) (uint64, error) {
	return l.backend.LastSequence(ctx, sessionID)
}

// Sessions lists known sessions.
func (l *Log) Sessions(ctx context.Context) ([]string, error) {
	return l.backend.Sessions(ctx)
}

// Close closes the backend.
func (l *Log) Close() error {
	return l.backend.Close()
}
