package eventlog

import (
	"context"
	"fmt"

	"github.com/haasonsaas/nexuscore/internal/config"
)

// OpenBackend creates the backend named by cfg.
func OpenBackend(ctx context.Context, cfg config.EventLogConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "sqlite":
		return NewSQLiteBackend(ctx, cfg.Path)
	case "postgres":
		return NewPostgresBackend(ctx, cfg.DSN, DefaultPostgresConfig())
	default:
		return nil, fmt.Errorf("unknown eventlog backend %q", cfg.Backend)
	}
}
