// Package store opens the persistence backend named by a DSN.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/persistence/memory"
	"github.com/example/room-scheduler/internal/persistence/postgres"
	"github.com/example/room-scheduler/internal/persistence/sqlite"
)

// Store is the full persistence surface used by the application layer.
type Store interface {
	persistence.RoomRepository
	persistence.ReservationRepository
	persistence.ExceptionRepository
	Migrate(ctx context.Context) error
	MigrationStatus(ctx context.Context) ([]persistence.MigrationState, error)
	Close() error
}

// Options tune backend specific behaviour.
type Options struct {
	SQLiteBusyTimeout time.Duration
}

// Kind names the backend a DSN selects.
func Kind(dsn string) string {
	switch {
	case dsn == "memory" || dsn == "memory://":
		return "memory"
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	default:
		return "sqlite"
	}
}

// Open connects to the backend selected by dsn: postgres:// and postgresql://
// URLs use PostgreSQL, "memory" keeps everything in process, and anything
// else is a SQLite path, optionally prefixed with sqlite://.
func Open(ctx context.Context, dsn string, opts Options) (Store, error) {
	switch Kind(dsn) {
	case "memory":
		return memory.New(), nil
	case "postgres":
		return postgres.Open(ctx, dsn)
	}

	config := sqlite.DefaultConfig(strings.TrimPrefix(dsn, "sqlite://"))
	if opts.SQLiteBusyTimeout > 0 {
		config.BusyTimeout = opts.SQLiteBusyTimeout
	}
	return sqlite.Open(ctx, config)
}
