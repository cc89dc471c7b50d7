package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"
)

// pqUniqueViolation is the Postgres SQLSTATE for a unique constraint.
const pqUniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS session_events (
	session_id TEXT   NOT NULL,
	seq        BIGINT NOT NULL,
	id         TEXT   NOT NULL,
	event_type TEXT   NOT NULL,
	request_id TEXT   NOT NULL DEFAULT '',
	payload    TEXT,
	created_at BIGINT NOT NULL,
	PRIMARY KEY (session_id, seq)
)`

var postgresDialect = dialect{
	name:        "postgres",
	schema:      postgresSchema,
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	isConflict: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
	},
}

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default pool settings.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresBackend connects to Postgres (or CockroachDB) using dsn.
func NewPostgresBackend(ctx context.Context, dsn string, cfg PostgresConfig) (*SQLBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	b, err := NewPostgresBackendFromDB(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackendFromDB uses an existing connection and ensures the
// schema exists.
func NewPostgresBackendFromDB(ctx context.Context, db *sql.DB) (*SQLBackend, error) {
	return newSQLBackend(ctx, db, postgresDialect)
}
