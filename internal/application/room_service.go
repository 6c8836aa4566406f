package application

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/example/room-scheduler/internal/persistence"
)

// RoomRepository is the storage the room catalog is kept in.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room Room) (Room, error)
	GetRoom(ctx context.Context, id string) (Room, error)
	UpdateRoom(ctx context.Context, room Room) (Room, error)
	DeleteRoom(ctx context.Context, id string) error
	ListRooms(ctx context.Context) ([]Room, error)
}

var errRoomServiceUnavailable = errors.New("room service has no repository")

// RoomService manages the rooms reservations can be placed in.
type RoomService struct {
	rooms       RoomRepository
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

func NewRoomService(rooms RoomRepository, idGenerator func() string, now func() time.Time) *RoomService {
	return NewRoomServiceWithLogger(rooms, idGenerator, now, nil)
}

// NewRoomServiceWithLogger falls back to slog.Default when logger is nil and
// to time.Now when now is nil.
func NewRoomServiceWithLogger(rooms RoomRepository, idGenerator func() string, now func() time.Time, logger *slog.Logger) *RoomService {
	svc := &RoomService{rooms: rooms, idGenerator: idGenerator, now: now, logger: defaultLogger(logger)}
	if svc.idGenerator == nil {
		svc.idGenerator = func() string { return "" }
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

func (s *RoomService) ready() error {
	if s == nil || s.rooms == nil {
		return errRoomServiceUnavailable
	}
	return nil
}

func (s *RoomService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RoomService", operation, attrs...)
}

func (s *RoomService) CreateRoom(ctx context.Context, input RoomInput) (room Room, err error) {
	if err = s.ready(); err != nil {
		return Room{}, err
	}

	logger := s.loggerWith(ctx, "CreateRoom")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "room not created", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "room created", "room_id", room.ID)
	}()

	input = sanitizeRoomInput(input)
	if vErr := validateRoomInput(input); vErr.HasErrors() {
		return Room{}, vErr
	}

	stamp := normalizeTime(s.now())
	room, err = s.rooms.CreateRoom(ctx, Room{
		ID:        s.idGenerator(),
		Name:      input.Name,
		Location:  input.Location,
		Capacity:  input.Capacity,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	})
	return room, mapRoomRepoError(err)
}

// UpdateRoom replaces the editable attributes of a room and keeps its
// creation time.
func (s *RoomService) UpdateRoom(ctx context.Context, roomID string, input RoomInput) (room Room, err error) {
	if err = s.ready(); err != nil {
		return Room{}, err
	}

	logger := s.loggerWith(ctx, "UpdateRoom", "room_id", roomID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "room not updated", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "room updated")
	}()

	current, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return Room{}, mapRoomRepoError(err)
	}

	input = sanitizeRoomInput(input)
	if vErr := validateRoomInput(input); vErr.HasErrors() {
		return Room{}, vErr
	}

	current.Name, current.Location, current.Capacity = input.Name, input.Location, input.Capacity
	current.UpdatedAt = normalizeTime(s.now())

	room, err = s.rooms.UpdateRoom(ctx, current)
	return room, mapRoomRepoError(err)
}

func (s *RoomService) GetRoom(ctx context.Context, roomID string) (Room, error) {
	if err := s.ready(); err != nil {
		return Room{}, err
	}
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err = mapRoomRepoError(err); err != nil {
		s.loggerWith(ctx, "GetRoom", "room_id", roomID).
			WarnContext(ctx, "room lookup failed", "error", err, "error_kind", ErrorKind(err))
		return Room{}, err
	}
	return room, nil
}

// DeleteRoom removes a room. Reservations placed in it keep their schedule
// and become unassigned.
func (s *RoomService) DeleteRoom(ctx context.Context, roomID string) (err error) {
	if err = s.ready(); err != nil {
		return err
	}

	logger := s.loggerWith(ctx, "DeleteRoom", "room_id", roomID)
	if err = mapRoomRepoError(s.rooms.DeleteRoom(ctx, roomID)); err != nil {
		logger.ErrorContext(ctx, "room not deleted", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	logger.InfoContext(ctx, "room deleted")
	return nil
}

// ListRooms orders rooms by case-folded name, then by ID.
func (s *RoomService) ListRooms(ctx context.Context) ([]Room, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rooms, err := s.rooms.ListRooms(ctx)
	if err != nil {
		s.loggerWith(ctx, "ListRooms").
			ErrorContext(ctx, "rooms not listed", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}

	rooms = slices.Clone(rooms)
	slices.SortFunc(rooms, func(a, b Room) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)),
			cmp.Compare(a.ID, b.ID),
		)
	})
	s.loggerWith(ctx, "ListRooms").DebugContext(ctx, "rooms listed", "result_count", len(rooms))
	return rooms, nil
}

func sanitizeRoomInput(input RoomInput) RoomInput {
	input.Name = strings.TrimSpace(input.Name)
	input.Location = strings.TrimSpace(input.Location)
	return input
}

func validateRoomInput(input RoomInput) *ValidationError {
	vErr := &ValidationError{}
	if input.Name == "" {
		vErr.add("name", "name is required")
	}
	if input.Location == "" {
		vErr.add("location", "location is required")
	}
	if input.Capacity <= 0 {
		vErr.add("capacity", "capacity must be positive")
	}
	return vErr
}

func mapRoomRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyExists
	case errors.Is(err, persistence.ErrConstraintViolation):
		vErr := &ValidationError{}
		vErr.add("capacity", "capacity must be positive")
		return vErr
	default:
		return err
	}
}
