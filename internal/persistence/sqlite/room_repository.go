package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/room-scheduler/internal/persistence"
)

// RoomRepository implements persistence.RoomRepository using SQLite
type RoomRepository struct {
	pool *ConnectionPool
}

// NewRoomRepository creates a new SQLite room repository
func NewRoomRepository(pool *ConnectionPool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

const roomColumns = `id, name, location, capacity, created_at, updated_at`

// CreateRoom inserts a new room into the database
func (r *RoomRepository) CreateRoom(ctx context.Context, room persistence.Room) error {
	if room.ID == "" || room.Capacity <= 0 {
		return persistence.ErrConstraintViolation
	}

	query := `INSERT INTO rooms (` + roomColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	return r.pool.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.pool.db.ExecContext(ctx, query,
			room.ID,
			room.Name,
			room.Location,
			room.Capacity,
			formatTime(room.CreatedAt),
			formatTime(room.UpdatedAt),
		)
		return mapError(err)
	})
}

// UpdateRoom updates an existing room in the database
func (r *RoomRepository) UpdateRoom(ctx context.Context, room persistence.Room) error {
	if room.ID == "" || room.Capacity <= 0 {
		return persistence.ErrConstraintViolation
	}

	query := `
		UPDATE rooms
		SET name = ?, location = ?, capacity = ?, updated_at = ?
		WHERE id = ?
	`
	return r.pool.withRetry(ctx, func(ctx context.Context) error {
		result, err := r.pool.db.ExecContext(ctx, query,
			room.Name,
			room.Location,
			room.Capacity,
			formatTime(room.UpdatedAt),
			room.ID,
		)
		if err != nil {
			return mapError(err)
		}
		return requireAffected(result)
	})
}

// GetRoom retrieves a room by ID from the database
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	if id == "" {
		return persistence.Room{}, persistence.ErrNotFound
	}

	row := r.pool.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
	return scanRoom(row)
}

// ListRooms returns all rooms ordered by name then ID
func (r *RoomRepository) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	rows, err := r.pool.db.QueryContext(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, mapError(err)
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

// DeleteRoom removes a room by ID. Reservations keep existing without a room.
func (r *RoomRepository) DeleteRoom(ctx context.Context, id string) error {
	if id == "" {
		return persistence.ErrNotFound
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE reservations SET room_id = NULL WHERE room_id = ?`, id); err != nil {
			return mapError(err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
		if err != nil {
			return mapError(err)
		}
		return requireAffected(result)
	})
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(s scanner) (persistence.Room, error) {
	var (
		room                 persistence.Room
		createdAt, updatedAt string
	)
	if err := s.Scan(&room.ID, &room.Name, &room.Location, &room.Capacity, &createdAt, &updatedAt); err != nil {
		return persistence.Room{}, mapError(err)
	}

	var err error
	if room.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Room{}, err
	}
	if room.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.Room{}, err
	}
	return room, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
