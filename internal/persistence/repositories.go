package persistence

import (
	"context"
	"time"
)

// RoomRepository exposes CRUD operations for rooms.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room Room) error
	UpdateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	DeleteRoom(ctx context.Context, id string) error
}

// ReservationFilter narrows reservation queries.
type ReservationFilter struct {
	RoomID *string
	// StartsBefore keeps reservations whose anchor starts before the instant.
	StartsBefore *time.Time
}

// ReservationRepository stores reservation definitions.
type ReservationRepository interface {
	CreateReservation(ctx context.Context, reservation Reservation) error
	UpdateReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, id string) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	DeleteReservation(ctx context.Context, id string) error
}

// ExceptionRepository stores occurrence exceptions keyed by reservation and
// original start.
type ExceptionRepository interface {
	GetException(ctx context.Context, reservationID string, originalStart time.Time) (OccurrenceException, error)
	ListExceptions(ctx context.Context, reservationID string) ([]OccurrenceException, error)
	UpsertException(ctx context.Context, exception OccurrenceException) (OccurrenceException, error)
	DeleteException(ctx context.Context, reservationID string, originalStart time.Time) error
	DeleteExceptionsForReservation(ctx context.Context, reservationID string) error
}
