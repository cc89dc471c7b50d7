package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
)

// sqliteConstraint is SQLITE_CONSTRAINT; extended codes share its low byte.
const sqliteConstraint = 19

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_events (
	session_id TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	id         TEXT    NOT NULL,
	event_type TEXT    NOT NULL,
	request_id TEXT    NOT NULL DEFAULT '',
	payload    TEXT,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (session_id, seq)
)`

var sqliteDialect = dialect{
	name:        "sqlite",
	schema:      sqliteSchema,
	placeholder: func(int) string { return "?" },
	isConflict: func(err error) bool {
		var se *sqlite.Error
		if errors.As(err, &se) {
			return se.Code()&0xff == sqliteConstraint
		}
		return strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

// NewSQLiteBackend opens (or creates) a SQLite event log at path. Use
// ":memory:" for an ephemeral database.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: create directory: %w", err)
			}
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes
	// writers within the process.
	db.SetMaxOpenConns(1)

	b, err := newSQLBackend(ctx, db, sqliteDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}
