// Package memory provides a map-backed persistence layer for tests and
// ephemeral CLI sessions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/room-scheduler/internal/persistence"
)

type exceptionKey struct {
	reservationID string
	originalStart int64
}

func keyFor(reservationID string, originalStart time.Time) exceptionKey {
	return exceptionKey{reservationID: reservationID, originalStart: originalStart.UnixNano()}
}

// Storage keeps rooms, reservations and occurrence exceptions in memory.
type Storage struct {
	mu           sync.RWMutex
	rooms        map[string]persistence.Room
	reservations map[string]persistence.Reservation
	exceptions   map[exceptionKey]persistence.OccurrenceException
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		rooms:        make(map[string]persistence.Room),
		reservations: make(map[string]persistence.Reservation),
		exceptions:   make(map[exceptionKey]persistence.OccurrenceException),
	}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// Migrate initialises the storage. No-op for the in-memory implementation.
func (s *Storage) Migrate(context.Context) error {
	return nil
}

// MigrationStatus reports no migrations; the in-memory store has no schema.
func (s *Storage) MigrationStatus(context.Context) ([]persistence.MigrationState, error) {
	return nil, nil
}

// --- RoomRepository implementation ---

// CreateRoom stores a new room.
func (s *Storage) CreateRoom(ctx context.Context, room persistence.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room.ID == "" || room.Capacity <= 0 {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.rooms[room.ID]; ok {
		return fmt.Errorf("memory: room %s: %w", room.ID, persistence.ErrDuplicate)
	}
	for _, existing := range s.rooms {
		if existing.Name == room.Name {
			return fmt.Errorf("memory: room name %q: %w", room.Name, persistence.ErrDuplicate)
		}
	}

	s.rooms[room.ID] = room
	return nil
}

// UpdateRoom updates an existing room.
func (s *Storage) UpdateRoom(ctx context.Context, room persistence.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rooms[room.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if room.Capacity <= 0 {
		return persistence.ErrConstraintViolation
	}

	room.CreatedAt = existing.CreatedAt
	s.rooms[room.ID] = room
	return nil
}

// GetRoom retrieves a room by ID.
func (s *Storage) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return persistence.Room{}, persistence.ErrNotFound
	}
	return room, nil
}

// ListRooms returns all rooms ordered by name.
func (s *Storage) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]persistence.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Name == rooms[j].Name {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].Name < rooms[j].Name
	})

	return rooms, nil
}

// DeleteRoom removes a room by ID and clears the association from reservations.
func (s *Storage) DeleteRoom(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[id]; !ok {
		return persistence.ErrNotFound
	}

	delete(s.rooms, id)

	for reservationID, res := range s.reservations {
		if res.RoomID != nil && *res.RoomID == id {
			res.RoomID = nil
			s.reservations[reservationID] = res
		}
	}

	return nil
}

// --- ReservationRepository implementation ---

// CreateReservation stores a new reservation definition.
func (s *Storage) CreateReservation(ctx context.Context, reservation persistence.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reservation.ID == "" || !reservation.End.After(reservation.Start) {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.reservations[reservation.ID]; ok {
		return fmt.Errorf("memory: reservation %s: %w", reservation.ID, persistence.ErrDuplicate)
	}
	if err := s.ensureRoomLocked(reservation.RoomID); err != nil {
		return err
	}

	s.reservations[reservation.ID] = cloneReservation(reservation)
	return nil
}

// UpdateReservation replaces a reservation definition. Exceptions are kept.
func (s *Storage) UpdateReservation(ctx context.Context, reservation persistence.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.reservations[reservation.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if !reservation.End.After(reservation.Start) {
		return persistence.ErrConstraintViolation
	}
	if err := s.ensureRoomLocked(reservation.RoomID); err != nil {
		return err
	}

	reservation.CreatedAt = existing.CreatedAt
	s.reservations[reservation.ID] = cloneReservation(reservation)
	return nil
}

// GetReservation retrieves a reservation by ID.
func (s *Storage) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reservation, ok := s.reservations[id]
	if !ok {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	return cloneReservation(reservation), nil
}

// ListReservations returns reservations matching filter ordered by start.
func (s *Storage) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reservations := make([]persistence.Reservation, 0)
	for _, res := range s.reservations {
		if filter.RoomID != nil && (res.RoomID == nil || *res.RoomID != *filter.RoomID) {
			continue
		}
		if filter.StartsBefore != nil && !res.Start.Before(*filter.StartsBefore) {
			continue
		}
		reservations = append(reservations, cloneReservation(res))
	}

	sort.Slice(reservations, func(i, j int) bool {
		if reservations[i].Start.Equal(reservations[j].Start) {
			return reservations[i].ID < reservations[j].ID
		}
		return reservations[i].Start.Before(reservations[j].Start)
	})

	return reservations, nil
}

// DeleteReservation removes a reservation and its exceptions.
func (s *Storage) DeleteReservation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[id]; !ok {
		return persistence.ErrNotFound
	}

	delete(s.reservations, id)
	s.deleteExceptionsLocked(id)
	return nil
}

func (s *Storage) ensureRoomLocked(roomID *string) error {
	if roomID == nil {
		return nil
	}
	if _, ok := s.rooms[*roomID]; !ok {
		return fmt.Errorf("memory: room %s: %w", *roomID, persistence.ErrForeignKeyViolation)
	}
	return nil
}

// --- ExceptionRepository implementation ---

// GetException retrieves the exception recorded for an original start.
func (s *Storage) GetException(ctx context.Context, reservationID string, originalStart time.Time) (persistence.OccurrenceException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exception, ok := s.exceptions[keyFor(reservationID, originalStart)]
	if !ok {
		return persistence.OccurrenceException{}, persistence.ErrNotFound
	}
	return exception, nil
}

// ListExceptions returns every exception of a reservation ordered by original start.
func (s *Storage) ListExceptions(ctx context.Context, reservationID string) ([]persistence.OccurrenceException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exceptions := make([]persistence.OccurrenceException, 0)
	for _, exception := range s.exceptions {
		if exception.ReservationID == reservationID {
			exceptions = append(exceptions, exception)
		}
	}

	sort.Slice(exceptions, func(i, j int) bool {
		return exceptions[i].OriginalStart.Before(exceptions[j].OriginalStart)
	})

	return exceptions, nil
}

// UpsertException creates or replaces the exception for its original start.
// An existing record keeps its ID and creation time.
func (s *Storage) UpsertException(ctx context.Context, exception persistence.OccurrenceException) (persistence.OccurrenceException, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exception.ReservationID == "" || !exception.End.After(exception.Start) {
		return persistence.OccurrenceException{}, persistence.ErrConstraintViolation
	}
	if _, ok := s.reservations[exception.ReservationID]; !ok {
		return persistence.OccurrenceException{}, fmt.Errorf("memory: reservation %s: %w", exception.ReservationID, persistence.ErrForeignKeyViolation)
	}

	key := keyFor(exception.ReservationID, exception.OriginalStart)
	if existing, ok := s.exceptions[key]; ok {
		exception.ID = existing.ID
		exception.CreatedAt = existing.CreatedAt
	} else if exception.ID == "" {
		return persistence.OccurrenceException{}, persistence.ErrConstraintViolation
	}

	s.exceptions[key] = exception
	return exception, nil
}

// DeleteException removes the exception recorded for an original start.
func (s *Storage) DeleteException(ctx context.Context, reservationID string, originalStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyFor(reservationID, originalStart)
	if _, ok := s.exceptions[key]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.exceptions, key)
	return nil
}

// DeleteExceptionsForReservation removes all exceptions of a reservation.
func (s *Storage) DeleteExceptionsForReservation(ctx context.Context, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteExceptionsLocked(reservationID)
	return nil
}

func (s *Storage) deleteExceptionsLocked(reservationID string) {
	for key := range s.exceptions {
		if key.reservationID == reservationID {
			delete(s.exceptions, key)
		}
	}
}

// --- Helpers ---

func cloneReservation(res persistence.Reservation) persistence.Reservation {
	if res.RoomID != nil {
		roomID := *res.RoomID
		res.RoomID = &roomID
	}
	if res.Until != nil {
		until := *res.Until
		res.Until = &until
	}
	if res.EndRecurringPeriod != nil {
		end := *res.EndRecurringPeriod
		res.EndRecurringPeriod = &end
	}
	return res
}
