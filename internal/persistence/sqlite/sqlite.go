// Package sqlite implements the persistence repositories on SQLite using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/example/room-scheduler/internal/logging"
	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/persistence/sqlite/migrations"
)

// Storage bundles the SQLite repositories over one connection pool.
type Storage struct {
	*RoomRepository
	*ReservationRepository
	*ExceptionRepository

	pool *ConnectionPool
}

// Open connects to the database described by config. Call Migrate before use
// on a fresh database.
func Open(ctx context.Context, config Config) (*Storage, error) {
	pool, err := NewConnectionPool(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Storage{
		RoomRepository:        NewRoomRepository(pool),
		ReservationRepository: NewReservationRepository(pool),
		ExceptionRepository:   NewExceptionRepository(pool),
		pool:                  pool,
	}, nil
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

func (s *Storage) migrationProvider() (*goose.Provider, error) {
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.pool.DB(), migrations.FS)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create migration provider: %w", err)
	}
	return provider, nil
}

// MigrationStatus lists every known migration and whether it is applied.
func (s *Storage) MigrationStatus(ctx context.Context) ([]persistence.MigrationState, error) {
	provider, err := s.migrationProvider()
	if err != nil {
		return nil, err
	}
	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: migration status: %w", err)
	}
	states := make([]persistence.MigrationState, 0, len(statuses))
	for _, status := range statuses {
		states = append(states, persistence.MigrationState{
			Version:   status.Source.Version,
			Applied:   status.State == goose.StateApplied,
			AppliedAt: status.AppliedAt,
		})
	}
	return states, nil
}

// Migrate applies all pending schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	provider, err := s.migrationProvider()
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: apply migrations: %w", err)
	}

	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = slog.Default()
	}
	for _, result := range results {
		logger.InfoContext(ctx, "migration applied",
			"component", "sqlite",
			"version", result.Source.Version,
			"duration", result.Duration,
		)
	}
	return nil
}
