package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexuscore/pkg/models"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name       string
	schema     string
	isConflict func(error) bool
	// placeholder returns the n-th (1-based) bind parameter.
	placeholder func(n int) string
}

// SQLBackend stores events in a session_events table keyed by
// (session_id, seq). The primary key turns a sequence collision into
// ErrConcurrentAppend.
type SQLBackend struct {
	db      *sql.DB
	dialect dialect
}

func newSQLBackend(ctx context.Context, db *sql.DB, d dialect) (*SQLBackend, error) {
	b := &SQLBackend{db: db, dialect: d}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		return nil, fmt.Errorf("%s: create schema: %w", d.name, err)
	}
	return b, nil
}

// DB exposes the underlying connection.
func (b *SQLBackend) DB() *sql.DB {
	return b.db
}

func (b *SQLBackend) bind(query string) string {
	var out strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			out.WriteString(b.dialect.placeholder(n))
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

func (b *SQLBackend) Append(ctx context.Context, events []*models.SessionEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", b.dialect.name, err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := b.bind(`INSERT INTO session_events (session_id, seq, id, event_type, request_id, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for _, ev := range events {
		var payload any
		if len(ev.Payload) > 0 {
			payload = string(ev.Payload)
		}
		_, err := tx.ExecContext(ctx, insert,
			ev.SessionID,
			int64(ev.Sequence),
			ev.ID,
			string(ev.Type),
			ev.RequestID,
			payload,
			ev.Timestamp.UnixNano(),
		)
		if err != nil {
			if b.dialect.isConflict(err) {
				return &ConcurrentAppendError{SessionID: ev.SessionID, Sequence: ev.Sequence}
			}
			return fmt.Errorf("%s: insert event %d: %w", b.dialect.name, ev.Sequence, err)
		}
	}
	if err := tx.Commit(); err != nil {
		if b.dialect.isConflict(err) {
			return &ConcurrentAppendError{SessionID: events[0].SessionID, Sequence: events[0].Sequence}
		}
		return fmt.Errorf("%s: commit: %w", b.dialect.name, err)
	}
	return nil
}

func (b *SQLBackend) LastSequence(ctx context.Context, sessionID string) (uint64, error) {
	var last sql.NullInt64
	err := b.db.QueryRowContext(ctx,
		b.bind(`SELECT MAX(seq) FROM session_events WHERE session_id = ?`), sessionID).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("%s: last sequence: %w", b.dialect.name, err)
	}
	if !last.Valid {
		return 0, nil
	}
	return uint64(last.Int64), nil
}

func (b *SQLBackend) Read(ctx context.Context, sessionID string, fromSeq uint64) ([]*models.SessionEvent, error) {
	rows, err := b.db.QueryContext(ctx,
		b.bind(`SELECT session_id, seq, id, event_type, request_id, payload, created_at
			FROM session_events WHERE session_id = ? AND seq >= ? ORDER BY seq`),
		sessionID, int64(fromSeq))
	if err != nil {
		return nil, fmt.Errorf("%s: read: %w", b.dialect.name, err)
	}
	defer rows.Close()

	var out []*models.SessionEvent
	for rows.Next() {
		var (
			ev        models.SessionEvent
			seq       int64
			eventType string
			payload   sql.NullString
			created   int64
		)
		if err := rows.Scan(&ev.SessionID, &seq, &ev.ID, &eventType, &ev.RequestID, &payload, &created); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", b.dialect.name, err)
		}
		ev.Sequence = uint64(seq)
		ev.Type = models.EventType(eventType)
		ev.Timestamp = time.Unix(0, created).UTC()
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", b.dialect.name, err)
	}
	return out, nil
}

func (b *SQLBackend) Sessions(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM session_events ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("%s: sessions: %w", b.dialect.name, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", b.dialect.name, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
