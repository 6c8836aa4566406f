// Package occurrence reconciles the candidate slots of a recurring reservation
// with the sparse set of persisted exceptions (moved or cancelled occurrences).
//
// Exceptions are joined to freshly generated candidates by original start
// time only. Editing a reservation therefore keeps every exception whose
// original start is still produced by the new rule; exceptions that are no
// longer reachable stay in the store but are never returned by window queries.
package occurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"

	"github.com/example/room-scheduler/internal/recurrence"
)

var (
	// ErrNoSuchOccurrence is returned when an original start is not a candidate
	// of the reservation's current rule.
	ErrNoSuchOccurrence = errors.New("occurrence: no such occurrence")
	// ErrInvalidInterval is returned when a move targets an empty or inverted interval.
	ErrInvalidInterval = errors.New("occurrence: end must be after start")
	// ErrInvalidReservation is returned for reservations that cannot be expanded.
	ErrInvalidReservation = errors.New("occurrence: invalid reservation")
)

// StoreError wraps a failure reported by the exception store. The engine never
// retries these.
type StoreError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("occurrence: store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying store error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Reservation is the read-only definition occurrences are generated from.
type Reservation struct {
	ID    string
	Title string
	Start time.Time
	End   time.Time
	Rule  *recurrence.Rule
	// EndRecurringPeriod bounds occurrence starts. Nil recurs indefinitely.
	EndRecurringPeriod *time.Time
	RoomID             string
}

// Duration is the length shared by every occurrence.
func (r Reservation) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Validate checks the reservation can be expanded.
func (r Reservation) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidReservation)
	}
	if !r.End.After(r.Start) {
		return fmt.Errorf("%w: %w", ErrInvalidReservation, recurrence.ErrInvalidDuration)
	}
	if r.Rule != nil {
		if err := r.Rule.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ExceptionRecord is the persisted deviation of one occurrence.
type ExceptionRecord struct {
	ID            string
	ReservationID string
	OriginalStart time.Time
	OriginalEnd   time.Time
	Start         time.Time
	End           time.Time
	Cancelled     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Moved reports whether the effective interval differs from the original one.
func (e ExceptionRecord) Moved() bool {
	return !e.Start.Equal(e.OriginalStart) || !e.End.Equal(e.OriginalEnd)
}

// Instance converts the record into the occurrence it describes.
func (e ExceptionRecord) Instance() Instance {
	return Instance{
		ReservationID: e.ReservationID,
		OriginalStart: e.OriginalStart,
		OriginalEnd:   e.OriginalEnd,
		Start:         e.Start,
		End:           e.End,
		Cancelled:     e.Cancelled,
		Moved:         e.Moved(),
		StorageID:     e.ID,
	}
}

// Instance is one concrete occurrence of a reservation.
type Instance struct {
	ReservationID string
	OriginalStart time.Time
	OriginalEnd   time.Time
	Start         time.Time
	End           time.Time
	Cancelled     bool
	Moved         bool
	// StorageID is empty for transient instances with no backing record.
	StorageID string
}

// Persisted reports whether an exception record backs the instance.
func (i Instance) Persisted() bool {
	return i.StorageID != ""
}

func (i Instance) record() ExceptionRecord {
	return ExceptionRecord{
		ID:            i.StorageID,
		ReservationID: i.ReservationID,
		OriginalStart: i.OriginalStart,
		OriginalEnd:   i.OriginalEnd,
		Start:         i.Start,
		End:           i.End,
		Cancelled:     i.Cancelled,
	}
}

func transientInstance(reservationID string, start, end time.Time) Instance {
	return Instance{
		ReservationID: reservationID,
		OriginalStart: start,
		OriginalEnd:   end,
		Start:         start,
		End:           end,
	}
}

// ExceptionStore persists exception records keyed by (reservation ID, original
// start). Upsert and Delete must be atomic per key.
type ExceptionStore interface {
	FindException(ctx context.Context, reservationID string, originalStart time.Time) (mo.Option[ExceptionRecord], error)
	ListExceptions(ctx context.Context, reservationID string) ([]ExceptionRecord, error)
	UpsertException(ctx context.Context, record ExceptionRecord) (ExceptionRecord, error)
	DeleteException(ctx context.Context, reservationID string, originalStart time.Time) error
}

// ReservationRepository loads reservation definitions before an occurrence is
// reconstructed for mutation.
type ReservationRepository interface {
	LoadReservation(ctx context.Context, id string) (Reservation, error)
}
