package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/room-scheduler/internal/persistence/sqlite"
)

// SQLiteHarness is a migrated SQLite database living in the test's temp dir.
// The storage is closed when the test finishes.
type SQLiteHarness struct {
	Storage *sqlite.Storage
	Path    string
}

func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	ctx := context.Background()
	path := filepath.Join(tb.TempDir(), "scheduler.db")

	storage, err := sqlite.Open(ctx, sqlite.DefaultConfig(path))
	require.NoError(tb, err, "open sqlite storage")
	tb.Cleanup(func() { _ = storage.Close() })

	require.NoError(tb, storage.Migrate(ctx), "migrate sqlite storage")
	return &SQLiteHarness{Storage: storage, Path: path}
}
