package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/room-scheduler/internal/persistence/memory"
	"github.com/example/room-scheduler/internal/persistence/sqlite"
)

func TestKind(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"memory":                       "memory",
		"postgres://localhost/sched":   "postgres",
		"postgresql://localhost/sched": "postgres",
		"sqlite:///var/lib/sched.db":   "sqlite",
		"scheduler.db":                 "sqlite",
		":memory:":                     "sqlite",
	}
	for dsn, want := range tests {
		assert.Equal(t, want, Kind(dsn), dsn)
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	mem, err := Open(ctx, "memory", Options{})
	require.NoError(t, err)
	assert.IsType(t, &memory.Storage{}, mem)

	path := filepath.Join(t.TempDir(), "scheduler.db")
	db, err := Open(ctx, "sqlite://"+path, Options{})
	require.NoError(t, err)
	defer db.Close()
	assert.IsType(t, &sqlite.Storage{}, db)
	require.NoError(t, db.Migrate(ctx))

	rooms, err := db.ListRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}
