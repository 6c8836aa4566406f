package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/example/room-scheduler/internal/persistence"
)

// RoomRepository implements persistence.RoomRepository on PostgreSQL.
type RoomRepository struct {
	db db
}

// NewRoomRepository constructs a RoomRepository. In tests pass a pgx.Tx for
// rollback isolation.
func NewRoomRepository(db db) *RoomRepository {
	return &RoomRepository{db: db}
}

const roomColumns = `id, name, location, capacity, created_at, updated_at`

// CreateRoom inserts a new room.
func (r *RoomRepository) CreateRoom(ctx context.Context, room persistence.Room) error {
	const q = `
		INSERT INTO rooms (` + roomColumns + `)
		VALUES (@id, @name, @location, @capacity, @created_at, @updated_at)`

	_, err := r.db.Exec(ctx, q, pgx.NamedArgs{
		"id":         room.ID,
		"name":       room.Name,
		"location":   room.Location,
		"capacity":   room.Capacity,
		"created_at": room.CreatedAt,
		"updated_at": room.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("postgres.CreateRoom: %w", mapError(err))
	}
	return nil
}

// UpdateRoom overwrites the mutable fields of a room.
func (r *RoomRepository) UpdateRoom(ctx context.Context, room persistence.Room) error {
	const q = `
		UPDATE rooms
		SET name = @name, location = @location, capacity = @capacity, updated_at = @updated_at
		WHERE id = @id`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{
		"id":         room.ID,
		"name":       room.Name,
		"location":   room.Location,
		"capacity":   room.Capacity,
		"updated_at": room.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("postgres.UpdateRoom: %w", mapError(err))
	}
	return requireAffected(tag)
}

// GetRoom retrieves a room by ID.
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	row := r.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = @id`, pgx.NamedArgs{"id": id})
	return scanRoom(row)
}

// ListRooms returns all rooms ordered by name then ID.
func (r *RoomRepository) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	rows, err := r.db.Query(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres.ListRooms: %w", mapError(err))
	}
	defer rows.Close()

	var rooms []persistence.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return rooms, nil
}

// DeleteRoom removes a room. Reservations referencing it lose their room.
func (r *RoomRepository) DeleteRoom(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM rooms WHERE id = @id`, pgx.NamedArgs{"id": id})
	if err != nil {
		return fmt.Errorf("postgres.DeleteRoom: %w", mapError(err))
	}
	return requireAffected(tag)
}

func scanRoom(s scanner) (persistence.Room, error) {
	var room persistence.Room
	if err := s.Scan(&room.ID, &room.Name, &room.Location, &room.Capacity, &room.CreatedAt, &room.UpdatedAt); err != nil {
		return persistence.Room{}, mapError(err)
	}
	room.CreatedAt = room.CreatedAt.UTC()
	room.UpdatedAt = room.UpdatedAt.UTC()
	return room, nil
}

// ReservationRepository implements persistence.ReservationRepository on PostgreSQL.
type ReservationRepository struct {
	db db
}

// NewReservationRepository constructs a ReservationRepository.
func NewReservationRepository(db db) *ReservationRepository {
	return &ReservationRepository{db: db}
}

const reservationColumns = `id, title, start_at, end_at, room_id, frequency, repeat_interval, repeat_count,
	repeat_until, end_recurring_period, created_at, updated_at`

func reservationArgs(res persistence.Reservation) pgx.NamedArgs {
	return pgx.NamedArgs{
		"id":                   res.ID,
		"title":                res.Title,
		"start_at":             res.Start,
		"end_at":               res.End,
		"room_id":              res.RoomID,
		"frequency":            res.Frequency,
		"repeat_interval":      res.Interval,
		"repeat_count":         res.Count,
		"repeat_until":         res.Until,
		"end_recurring_period": res.EndRecurringPeriod,
		"created_at":           res.CreatedAt,
		"updated_at":           res.UpdatedAt,
	}
}

// CreateReservation inserts a reservation definition.
func (r *ReservationRepository) CreateReservation(ctx context.Context, res persistence.Reservation) error {
	const q = `
		INSERT INTO reservations (` + reservationColumns + `)
		VALUES (@id, @title, @start_at, @end_at, @room_id, @frequency, @repeat_interval, @repeat_count,
		        @repeat_until, @end_recurring_period, @created_at, @updated_at)`

	if _, err := r.db.Exec(ctx, q, reservationArgs(res)); err != nil {
		return fmt.Errorf("postgres.CreateReservation: %w", mapError(err))
	}
	return nil
}

// UpdateReservation overwrites the mutable fields of a reservation. Its
// exceptions are left untouched.
func (r *ReservationRepository) UpdateReservation(ctx context.Context, res persistence.Reservation) error {
	const q = `
		UPDATE reservations
		SET title = @title, start_at = @start_at, end_at = @end_at, room_id = @room_id,
		    frequency = @frequency, repeat_interval = @repeat_interval, repeat_count = @repeat_count,
		    repeat_until = @repeat_until, end_recurring_period = @end_recurring_period,
		    updated_at = @updated_at
		WHERE id = @id`

	tag, err := r.db.Exec(ctx, q, reservationArgs(res))
	if err != nil {
		return fmt.Errorf("postgres.UpdateReservation: %w", mapError(err))
	}
	return requireAffected(tag)
}

// GetReservation retrieves a reservation by ID.
func (r *ReservationRepository) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = @id`, pgx.NamedArgs{"id": id})
	return scanReservation(row)
}

// ListReservations returns reservations matching filter ordered by start then ID.
func (r *ReservationRepository) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	args := pgx.NamedArgs{}
	var clauses []string
	if filter.RoomID != nil {
		clauses = append(clauses, "room_id = @room_id")
		args["room_id"] = *filter.RoomID
	}
	if filter.StartsBefore != nil {
		clauses = append(clauses, "start_at < @starts_before")
		args["starts_before"] = *filter.StartsBefore
	}

	q := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY start_at, id"

	rows, err := r.db.Query(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("postgres.ListReservations: %w", mapError(err))
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

// DeleteReservation removes a reservation; its exceptions cascade.
func (r *ReservationRepository) DeleteReservation(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM reservations WHERE id = @id`, pgx.NamedArgs{"id": id})
	if err != nil {
		return fmt.Errorf("postgres.DeleteReservation: %w", mapError(err))
	}
	return requireAffected(tag)
}

func scanReservation(s scanner) (persistence.Reservation, error) {
	var res persistence.Reservation
	err := s.Scan(&res.ID, &res.Title, &res.Start, &res.End, &res.RoomID, &res.Frequency, &res.Interval,
		&res.Count, &res.Until, &res.EndRecurringPeriod, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return persistence.Reservation{}, mapError(err)
	}
	res.Start = res.Start.UTC()
	res.End = res.End.UTC()
	res.Until = utcPointer(res.Until)
	res.EndRecurringPeriod = utcPointer(res.EndRecurringPeriod)
	res.CreatedAt = res.CreatedAt.UTC()
	res.UpdatedAt = res.UpdatedAt.UTC()
	return res, nil
}

// ExceptionRepository implements persistence.ExceptionRepository on PostgreSQL.
type ExceptionRepository struct {
	db db
}

// NewExceptionRepository constructs an ExceptionRepository.
func NewExceptionRepository(db db) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

const exceptionColumns = `id, reservation_id, original_start, original_end, start_at, end_at, cancelled,
	created_at, updated_at`

// GetException retrieves the exception recorded for an original start.
func (r *ExceptionRepository) GetException(ctx context.Context, reservationID string, originalStart time.Time) (persistence.OccurrenceException, error) {
	const q = `SELECT ` + exceptionColumns + ` FROM occurrence_exceptions
		WHERE reservation_id = @reservation_id AND original_start = @original_start`

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{"reservation_id": reservationID, "original_start": originalStart})
	return scanException(row)
}

// ListExceptions returns every exception of a reservation ordered by original start.
func (r *ExceptionRepository) ListExceptions(ctx context.Context, reservationID string) ([]persistence.OccurrenceException, error) {
	const q = `SELECT ` + exceptionColumns + ` FROM occurrence_exceptions
		WHERE reservation_id = @reservation_id ORDER BY original_start`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"reservation_id": reservationID})
	if err != nil {
		return nil, fmt.Errorf("postgres.ListExceptions: %w", mapError(err))
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

// UpsertException creates or replaces the exception for its original start in
// one statement. An existing row keeps its ID and created_at.
func (r *ExceptionRepository) UpsertException(ctx context.Context, exception persistence.OccurrenceException) (persistence.OccurrenceException, error) {
	const q = `
		INSERT INTO occurrence_exceptions (` + exceptionColumns + `)
		VALUES (@id, @reservation_id, @original_start, @original_end, @start_at, @end_at, @cancelled,
		        @created_at, @updated_at)
		ON CONFLICT (reservation_id, original_start) DO UPDATE SET
			original_end = EXCLUDED.original_end,
			start_at     = EXCLUDED.start_at,
			end_at       = EXCLUDED.end_at,
			cancelled    = EXCLUDED.cancelled,
			updated_at   = EXCLUDED.updated_at
		RETURNING ` + exceptionColumns

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{
		"id":             exception.ID,
		"reservation_id": exception.ReservationID,
		"original_start": exception.OriginalStart,
		"original_end":   exception.OriginalEnd,
		"start_at":       exception.Start,
		"end_at":         exception.End,
		"cancelled":      exception.Cancelled,
		"created_at":     exception.CreatedAt,
		"updated_at":     exception.UpdatedAt,
	})
	stored, err := scanException(row)
	if err != nil {
		return persistence.OccurrenceException{}, fmt.Errorf("postgres.UpsertException: %w", err)
	}
	return stored, nil
}

// DeleteException removes the exception recorded for an original start.
func (r *ExceptionRepository) DeleteException(ctx context.Context, reservationID string, originalStart time.Time) error {
	const q = `DELETE FROM occurrence_exceptions WHERE reservation_id = @reservation_id AND original_start = @original_start`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"reservation_id": reservationID, "original_start": originalStart})
	if err != nil {
		return fmt.Errorf("postgres.DeleteException: %w", mapError(err))
	}
	return requireAffected(tag)
}

// DeleteExceptionsForReservation removes all exceptions of a reservation.
func (r *ExceptionRepository) DeleteExceptionsForReservation(ctx context.Context, reservationID string) error {
	const q = `DELETE FROM occurrence_exceptions WHERE reservation_id = @reservation_id`

	if _, err := r.db.Exec(ctx, q, pgx.NamedArgs{"reservation_id": reservationID}); err != nil {
		return fmt.Errorf("postgres.DeleteExceptionsForReservation: %w", mapError(err))
	}
	return nil
}

func scanException(s scanner) (persistence.OccurrenceException, error) {
	var e persistence.OccurrenceException
	err := s.Scan(&e.ID, &e.ReservationID, &e.OriginalStart, &e.OriginalEnd, &e.Start, &e.End, &e.Cancelled,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return persistence.OccurrenceException{}, mapError(err)
	}
	e.OriginalStart = e.OriginalStart.UTC()
	e.OriginalEnd = e.OriginalEnd.UTC()
	e.Start = e.Start.UTC()
	e.End = e.End.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

func utcPointer(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
