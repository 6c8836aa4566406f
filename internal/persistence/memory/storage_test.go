package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/room-scheduler/internal/persistence"
)

func TestStorage_Rooms(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateRoom(ctx, persistence.Room{ID: "room-2", Name: "Borealis", Capacity: 4}))
	require.NoError(t, s.CreateRoom(ctx, persistence.Room{ID: "room-1", Name: "Aurora", Capacity: 8}))
	assert.ErrorIs(t, s.CreateRoom(ctx, persistence.Room{ID: "room-3", Name: "Aurora", Capacity: 2}), persistence.ErrDuplicate)
	assert.ErrorIs(t, s.CreateRoom(ctx, persistence.Room{ID: "room-4", Name: "Closet"}), persistence.ErrConstraintViolation)

	rooms, err := s.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "Aurora", rooms[0].Name)

	roomID := "room-1"
	require.NoError(t, s.CreateReservation(ctx, persistence.Reservation{
		ID:       "reservation-1",
		Start:    time.Date(2008, time.January, 5, 8, 0, 0, 0, time.UTC),
		End:      time.Date(2008, time.January, 5, 9, 0, 0, 0, time.UTC),
		RoomID:   &roomID,
		Interval: 1,
	}))

	require.NoError(t, s.DeleteRoom(ctx, roomID))
	res, err := s.GetReservation(ctx, "reservation-1")
	require.NoError(t, err)
	assert.Nil(t, res.RoomID)
	assert.ErrorIs(t, s.DeleteRoom(ctx, roomID), persistence.ErrNotFound)
}

func TestStorage_Reservations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	start := time.Date(2008, time.January, 5, 8, 0, 0, 0, time.UTC)
	missing := "room-missing"

	err := s.CreateReservation(ctx, persistence.Reservation{ID: "r", Start: start, End: start.Add(time.Hour), RoomID: &missing})
	assert.ErrorIs(t, err, persistence.ErrForeignKeyViolation)
	err = s.CreateReservation(ctx, persistence.Reservation{ID: "r", Start: start, End: start})
	assert.ErrorIs(t, err, persistence.ErrConstraintViolation)

	require.NoError(t, s.CreateReservation(ctx, persistence.Reservation{ID: "late", Start: start.Add(24 * time.Hour), End: start.Add(25 * time.Hour)}))
	require.NoError(t, s.CreateReservation(ctx, persistence.Reservation{ID: "early", Start: start, End: start.Add(time.Hour)}))

	list, err := s.ListReservations(ctx, persistence.ReservationFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "early", list[0].ID)

	cutoff := start.Add(time.Hour)
	list, err = s.ListReservations(ctx, persistence.ReservationFilter{StartsBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "early", list[0].ID)
}

func TestStorage_Exceptions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	start := time.Date(2008, time.January, 5, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateReservation(ctx, persistence.Reservation{ID: "reservation-1", Start: start, End: start.Add(time.Hour)}))

	original := start.AddDate(0, 0, 14)
	exception := persistence.OccurrenceException{
		ID:            "exception-1",
		ReservationID: "reservation-1",
		OriginalStart: original,
		OriginalEnd:   original.Add(time.Hour),
		Start:         original.Add(time.Hour),
		End:           original.Add(2 * time.Hour),
		CreatedAt:     start,
	}
	_, err := s.UpsertException(ctx, exception)
	require.NoError(t, err)

	replacement := exception
	replacement.ID = "exception-2"
	replacement.Cancelled = true
	replacement.CreatedAt = start.Add(time.Hour)
	stored, err := s.UpsertException(ctx, replacement)
	require.NoError(t, err)
	assert.Equal(t, "exception-1", stored.ID)
	assert.Equal(t, start, stored.CreatedAt)
	assert.True(t, stored.Cancelled)

	found, err := s.GetException(ctx, "reservation-1", original.In(time.FixedZone("JST", 9*60*60)))
	require.NoError(t, err)
	assert.Equal(t, stored, found)

	_, err = s.UpsertException(ctx, persistence.OccurrenceException{ID: "x", ReservationID: "missing", Start: start, End: start.Add(time.Hour)})
	assert.ErrorIs(t, err, persistence.ErrForeignKeyViolation)

	require.NoError(t, s.DeleteReservation(ctx, "reservation-1"))
	list, err := s.ListExceptions(ctx, "reservation-1")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.ErrorIs(t, s.DeleteException(ctx, "reservation-1", original), persistence.ErrNotFound)
}
