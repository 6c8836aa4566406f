// Package postgres implements the persistence repositories on PostgreSQL
// through a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/example/room-scheduler/internal/logging"
	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/persistence/postgres/migrations"
)

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Storage bundles the PostgreSQL repositories over one pool.
type Storage struct {
	*RoomRepository
	*ReservationRepository
	*ExceptionRepository

	pool *pgxpool.Pool
}

// Open connects to the database at dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Storage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Storage {
	return &Storage{
		RoomRepository:        NewRoomRepository(pool),
		ReservationRepository: NewReservationRepository(pool),
		ExceptionRepository:   NewExceptionRepository(pool),
		pool:                  pool,
	}
}

// Close releases the pool.
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// MigrationStatus lists every known migration and whether it is applied.
func (s *Storage) MigrationStatus(ctx context.Context) ([]persistence.MigrationState, error) {
	sqlDB := stdlib.OpenDBFromPool(s.pool)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations.FS)
	if err != nil {
		return nil, fmt.Errorf("postgres: create migration provider: %w", err)
	}
	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: migration status: %w", err)
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
	sqlDB := stdlib.OpenDBFromPool(s.pool)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations.FS)
	if err != nil {
		return fmt.Errorf("postgres: create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("postgres: apply migrations: %w", err)
	}

	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = slog.Default()
	}
	for _, result := range results {
		logger.InfoContext(ctx, "migration applied",
			"component", "postgres",
			"version", result.Source.Version,
			"duration", result.Duration,
		)
	}
	return nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// mapError translates pgx and server errors into persistence sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return persistence.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s", persistence.ErrDuplicate, pgErr.Message)
	case "23503":
		return fmt.Errorf("%w: %s", persistence.ErrForeignKeyViolation, pgErr.Message)
	case "23502", "23514":
		return fmt.Errorf("%w: %s", persistence.ErrConstraintViolation, pgErr.Message)
	}
	return err
}

func requireAffected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
