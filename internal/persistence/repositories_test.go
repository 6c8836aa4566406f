package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/persistence/memory"
	"github.com/example/room-scheduler/internal/testfixtures"
)

// backend is the repository surface every store implements.
type backend interface {
	persistence.RoomRepository
	persistence.ReservationRepository
	persistence.ExceptionRepository
}

func backends(t *testing.T) map[string]func(t *testing.T) backend {
	t.Helper()
	return map[string]func(t *testing.T) backend{
		"memory": func(t *testing.T) backend { return memory.New() },
		"sqlite": func(t *testing.T) backend { return testfixtures.NewSQLiteHarness(t).Storage },
	}
}

func TestRoomRepository(t *testing.T) {
	t.Parallel()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			repo := open(t)

			room := testfixtures.NewRoomFixture().Persistence()
			require.NoError(t, repo.CreateRoom(ctx, room))
			assert.ErrorIs(t, repo.CreateRoom(ctx, room), persistence.ErrDuplicate)

			fetched, err := repo.GetRoom(ctx, room.ID)
			require.NoError(t, err)
			assert.Equal(t, room, fetched)

			room.Capacity = 12
			room.UpdatedAt = room.UpdatedAt.Add(time.Minute)
			require.NoError(t, repo.UpdateRoom(ctx, room))
			fetched, err = repo.GetRoom(ctx, room.ID)
			require.NoError(t, err)
			assert.Equal(t, 12, fetched.Capacity)

			invalid := testfixtures.NewRoomFixture(testfixtures.WithRoomCapacity(0)).Persistence()
			assert.ErrorIs(t, repo.CreateRoom(ctx, invalid), persistence.ErrConstraintViolation)

			rooms, err := repo.ListRooms(ctx)
			require.NoError(t, err)
			assert.Len(t, rooms, 1)

			require.NoError(t, repo.DeleteRoom(ctx, room.ID))
			_, err = repo.GetRoom(ctx, room.ID)
			assert.ErrorIs(t, err, persistence.ErrNotFound)
			assert.ErrorIs(t, repo.UpdateRoom(ctx, room), persistence.ErrNotFound)
		})
	}
}

func TestReservationRepository(t *testing.T) {
	t.Parallel()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			repo := open(t)

			room := testfixtures.NewRoomFixture().Persistence()
			require.NoError(t, repo.CreateRoom(ctx, room))

			weekly := testfixtures.NewReservationFixture(testfixtures.WithReservationRoomID(room.ID)).Persistence()
			require.NoError(t, repo.CreateReservation(ctx, weekly))
			assert.ErrorIs(t, repo.CreateReservation(ctx, weekly), persistence.ErrDuplicate)

			later := testfixtures.ReferenceTime().AddDate(0, 1, 0)
			single := testfixtures.NewReservationFixture(
				testfixtures.WithoutReservationRule(),
				testfixtures.WithReservationEndRecurringPeriod(nil),
				testfixtures.WithReservationStartEnd(later, later.Add(30*time.Minute)),
			).Persistence()
			require.NoError(t, repo.CreateReservation(ctx, single))

			fetched, err := repo.GetReservation(ctx, weekly.ID)
			require.NoError(t, err)
			assert.Equal(t, weekly, fetched)
			fetched, err = repo.GetReservation(ctx, single.ID)
			require.NoError(t, err)
			assert.Equal(t, single, fetched)

			all, err := repo.ListReservations(ctx, persistence.ReservationFilter{})
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, weekly.ID, all[0].ID)

			inRoom, err := repo.ListReservations(ctx, persistence.ReservationFilter{RoomID: &room.ID})
			require.NoError(t, err)
			require.Len(t, inRoom, 1)
			assert.Equal(t, weekly.ID, inRoom[0].ID)

			missing := "room-missing"
			orphan := testfixtures.NewReservationFixture(testfixtures.WithReservationRoomID(missing)).Persistence()
			assert.ErrorIs(t, repo.CreateReservation(ctx, orphan), persistence.ErrForeignKeyViolation)

			inverted := testfixtures.NewReservationFixture(
				testfixtures.WithReservationStartEnd(later, later),
			).Persistence()
			assert.ErrorIs(t, repo.CreateReservation(ctx, inverted), persistence.ErrConstraintViolation)

			weekly.Title = "Renamed"
			weekly.Interval = 2
			require.NoError(t, repo.UpdateReservation(ctx, weekly))
			fetched, err = repo.GetReservation(ctx, weekly.ID)
			require.NoError(t, err)
			assert.Equal(t, weekly, fetched)

			require.NoError(t, repo.DeleteRoom(ctx, room.ID))
			fetched, err = repo.GetReservation(ctx, weekly.ID)
			require.NoError(t, err)
			assert.Nil(t, fetched.RoomID)

			require.NoError(t, repo.DeleteReservation(ctx, single.ID))
			assert.ErrorIs(t, repo.DeleteReservation(ctx, single.ID), persistence.ErrNotFound)
		})
	}
}

func TestExceptionRepository(t *testing.T) {
	t.Parallel()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			repo := open(t)

			fixture := testfixtures.NewReservationFixture()
			require.NoError(t, repo.CreateReservation(ctx, fixture.Persistence()))

			second := testfixtures.ReferenceTime().AddDate(0, 0, 7)
			third := testfixtures.ReferenceTime().AddDate(0, 0, 14)

			moved := testfixtures.NewExceptionFixture(fixture, third, 2*time.Hour, false)
			stored, err := repo.UpsertException(ctx, moved)
			require.NoError(t, err)
			assert.Equal(t, moved, stored)

			cancelled := testfixtures.NewExceptionFixture(fixture, second, 0, true)
			_, err = repo.UpsertException(ctx, cancelled)
			require.NoError(t, err)

			list, err := repo.ListExceptions(ctx, fixture.ID)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, second, list[0].OriginalStart)

			// A second write for the same original start replaces the fields
			// but keeps the identity.
			replacement := moved
			replacement.ID = "replacement"
			replacement.Cancelled = true
			replacement.UpdatedAt = replacement.UpdatedAt.Add(time.Hour)
			stored, err = repo.UpsertException(ctx, replacement)
			require.NoError(t, err)
			assert.Equal(t, moved.ID, stored.ID)
			assert.Equal(t, moved.CreatedAt, stored.CreatedAt)
			assert.True(t, stored.Cancelled)

			found, err := repo.GetException(ctx, fixture.ID, third.In(time.FixedZone("JST", 9*60*60)))
			require.NoError(t, err)
			assert.Equal(t, stored, found)

			orphan := testfixtures.NewExceptionFixture(testfixtures.NewReservationFixture(), second, 0, true)
			_, err = repo.UpsertException(ctx, orphan)
			assert.ErrorIs(t, err, persistence.ErrForeignKeyViolation)

			require.NoError(t, repo.DeleteException(ctx, fixture.ID, second))
			_, err = repo.GetException(ctx, fixture.ID, second)
			assert.ErrorIs(t, err, persistence.ErrNotFound)
			assert.ErrorIs(t, repo.DeleteException(ctx, fixture.ID, second), persistence.ErrNotFound)

			require.NoError(t, repo.DeleteExceptionsForReservation(ctx, fixture.ID))
			list, err = repo.ListExceptions(ctx, fixture.ID)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}
