package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/example/room-scheduler/internal/persistence"
)

// ReservationRepository implements persistence.ReservationRepository using SQLite.
type ReservationRepository struct {
	pool *ConnectionPool
}

// NewReservationRepository creates a new SQLite reservation repository.
func NewReservationRepository(pool *ConnectionPool) *ReservationRepository {
	return &ReservationRepository{pool: pool}
}

const reservationColumns = `id, title, start_at, end_at, room_id, frequency, repeat_interval, repeat_count,
	repeat_until, end_recurring_period, created_at, updated_at`

// CreateReservation inserts a reservation definition.
func (r *ReservationRepository) CreateReservation(ctx context.Context, res persistence.Reservation) error {
	if res.ID == "" {
		return persistence.ErrConstraintViolation
	}

	query := `INSERT INTO reservations (` + reservationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return r.pool.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.pool.db.ExecContext(ctx, query,
			res.ID,
			res.Title,
			formatTime(res.Start),
			formatTime(res.End),
			nullableString(res.RoomID),
			res.Frequency,
			res.Interval,
			res.Count,
			formatNullableTime(res.Until),
			formatNullableTime(res.EndRecurringPeriod),
			formatTime(res.CreatedAt),
			formatTime(res.UpdatedAt),
		)
		return mapError(err)
	})
}

// UpdateReservation overwrites the mutable fields of a reservation. Its
// exceptions are left untouched.
func (r *ReservationRepository) UpdateReservation(ctx context.Context, res persistence.Reservation) error {
	query := `
		UPDATE reservations
		SET title = ?, start_at = ?, end_at = ?, room_id = ?, frequency = ?, repeat_interval = ?,
		    repeat_count = ?, repeat_until = ?, end_recurring_period = ?, updated_at = ?
		WHERE id = ?
	`
	return r.pool.withRetry(ctx, func(ctx context.Context) error {
		result, err := r.pool.db.ExecContext(ctx, query,
			res.Title,
			formatTime(res.Start),
			formatTime(res.End),
			nullableString(res.RoomID),
			res.Frequency,
			res.Interval,
			res.Count,
			formatNullableTime(res.Until),
			formatNullableTime(res.EndRecurringPeriod),
			formatTime(res.UpdatedAt),
			res.ID,
		)
		if err != nil {
			return mapError(err)
		}
		return requireAffected(result)
	})
}

// GetReservation retrieves a reservation by ID.
func (r *ReservationRepository) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	if id == "" {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	row := r.pool.db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	return scanReservation(row)
}

// ListReservations returns reservations matching filter ordered by start then ID.
func (r *ReservationRepository) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.RoomID != nil {
		clauses = append(clauses, "room_id = ?")
		args = append(args, *filter.RoomID)
	}
	if filter.StartsBefore != nil {
		clauses = append(clauses, "start_at < ?")
		args = append(args, formatTime(*filter.StartsBefore))
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY start_at ASC, id ASC"

	rows, err := r.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var reservations []persistence.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, res)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return reservations, nil
}

// DeleteReservation removes a reservation together with its exceptions.
func (r *ReservationRepository) DeleteReservation(ctx context.Context, id string) error {
	if id == "" {
		return persistence.ErrNotFound
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM occurrence_exceptions WHERE reservation_id = ?`, id); err != nil {
			return mapError(err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
		if err != nil {
			return mapError(err)
		}
		return requireAffected(result)
	})
}

func scanReservation(s scanner) (persistence.Reservation, error) {
	var (
		res                  persistence.Reservation
		start, end           string
		roomID               sql.NullString
		until, endRecurring  sql.NullString
		createdAt, updatedAt string
	)
	err := s.Scan(&res.ID, &res.Title, &start, &end, &roomID, &res.Frequency, &res.Interval, &res.Count,
		&until, &endRecurring, &createdAt, &updatedAt)
	if err != nil {
		return persistence.Reservation{}, mapError(err)
	}

	if roomID.Valid {
		id := roomID.String
		res.RoomID = &id
	}
	if res.Start, err = parseTime("start_at", start); err != nil {
		return persistence.Reservation{}, err
	}
	if res.End, err = parseTime("end_at", end); err != nil {
		return persistence.Reservation{}, err
	}
	if res.Until, err = parseNullableTime("repeat_until", until); err != nil {
		return persistence.Reservation{}, err
	}
	if res.EndRecurringPeriod, err = parseNullableTime("end_recurring_period", endRecurring); err != nil {
		return persistence.Reservation{}, err
	}
	if res.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Reservation{}, err
	}
	if res.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.Reservation{}, err
	}
	return res, nil
}

func nullableString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}
