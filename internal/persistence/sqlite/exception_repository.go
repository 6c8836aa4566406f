package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/example/room-scheduler/internal/persistence"
)

// ExceptionRepository implements persistence.ExceptionRepository using SQLite.
type ExceptionRepository struct {
	pool *ConnectionPool
}

// NewExceptionRepository creates a new SQLite exception repository.
func NewExceptionRepository(pool *ConnectionPool) *ExceptionRepository {
	return &ExceptionRepository{pool: pool}
}

const exceptionColumns = `id, reservation_id, original_start, original_end, start_at, end_at, cancelled,
	created_at, updated_at`

// GetException retrieves the exception recorded for an original start.
func (r *ExceptionRepository) GetException(ctx context.Context, reservationID string, originalStart time.Time) (persistence.OccurrenceException, error) {
	row := r.pool.db.QueryRowContext(ctx,
		`SELECT `+exceptionColumns+` FROM occurrence_exceptions WHERE reservation_id = ? AND original_start = ?`,
		reservationID, formatTime(originalStart))
	return scanException(row)
}

// ListExceptions returns every exception of a reservation ordered by original start.
func (r *ExceptionRepository) ListExceptions(ctx context.Context, reservationID string) ([]persistence.OccurrenceException, error) {
	rows, err := r.pool.db.QueryContext(ctx,
		`SELECT `+exceptionColumns+` FROM occurrence_exceptions WHERE reservation_id = ? ORDER BY original_start ASC`,
		reservationID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var exceptions []persistence.OccurrenceException
	for rows.Next() {
		exception, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		exceptions = append(exceptions, exception)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return exceptions, nil
}

// UpsertException creates or replaces the exception for its original start
// and returns the stored row. An existing row keeps its ID and created_at.
func (r *ExceptionRepository) UpsertException(ctx context.Context, exception persistence.OccurrenceException) (persistence.OccurrenceException, error) {
	if exception.ID == "" || exception.ReservationID == "" {
		return persistence.OccurrenceException{}, persistence.ErrConstraintViolation
	}

	query := `
		INSERT INTO occurrence_exceptions (` + exceptionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (reservation_id, original_start) DO UPDATE SET
			original_end = excluded.original_end,
			start_at     = excluded.start_at,
			end_at       = excluded.end_at,
			cancelled    = excluded.cancelled,
			updated_at   = excluded.updated_at
	`

	var stored persistence.OccurrenceException
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			exception.ID,
			exception.ReservationID,
			formatTime(exception.OriginalStart),
			formatTime(exception.OriginalEnd),
			formatTime(exception.Start),
			formatTime(exception.End),
			exception.Cancelled,
			formatTime(exception.CreatedAt),
			formatTime(exception.UpdatedAt),
		)
		if err != nil {
			return mapError(err)
		}

		row := tx.QueryRowContext(ctx,
			`SELECT `+exceptionColumns+` FROM occurrence_exceptions WHERE reservation_id = ? AND original_start = ?`,
			exception.ReservationID, formatTime(exception.OriginalStart))
		stored, err = scanException(row)
		return err
	})
	if err != nil {
		return persistence.OccurrenceException{}, err
	}
	return stored, nil
}

// DeleteException removes the exception recorded for an original start.
func (r *ExceptionRepository) DeleteException(ctx context.Context, reservationID string, originalStart time.Time) error {
	return r.pool.withRetry(ctx, func(ctx context.Context) error {
		result, err := r.pool.db.ExecContext(ctx,
			`DELETE FROM occurrence_exceptions WHERE reservation_id = ? AND original_start = ?`,
			reservationID, formatTime(originalStart))
		if err != nil {
			return mapError(err)
		}
		return requireAffected(result)
	})
}

// DeleteExceptionsForReservation removes all exceptions of a reservation.
func (r *ExceptionRepository) DeleteExceptionsForReservation(ctx context.Context, reservationID string) error {
	return r.pool.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.pool.db.ExecContext(ctx, `DELETE FROM occurrence_exceptions WHERE reservation_id = ?`, reservationID)
		return mapError(err)
	})
}

func scanException(s scanner) (persistence.OccurrenceException, error) {
	var exception persistence.OccurrenceException
	var originalStart, originalEnd, start, end, createdAt, updatedAt string
	err := s.Scan(&exception.ID, &exception.ReservationID, &originalStart, &originalEnd, &start, &end,
		&exception.Cancelled, &createdAt, &updatedAt)
	if err != nil {
		return persistence.OccurrenceException{}, mapError(err)
	}

	for _, field := range []struct {
		column string
		value  string
		dst    *time.Time
	}{
		{"original_start", originalStart, &exception.OriginalStart},
		{"original_end", originalEnd, &exception.OriginalEnd},
		{"start_at", start, &exception.Start},
		{"end_at", end, &exception.End},
		{"created_at", createdAt, &exception.CreatedAt},
		{"updated_at", updatedAt, &exception.UpdatedAt},
	} {
		if *field.dst, err = parseTime(field.column, field.value); err != nil {
			return persistence.OccurrenceException{}, err
		}
	}
	return exception, nil
}
