package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/room-scheduler/internal/occurrence"
	"github.com/example/room-scheduler/internal/recurrence"
)

func TestDetectConflicts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	window := recurrence.Window{Start: at(2008, time.January, 1, 0, 0), End: at(2008, time.February, 1, 0, 0)}
	existing := []occurrence.Reservation{
		weekly("standup", "room-1", at(2008, time.January, 5, 8, 0)),
		weekly("elsewhere", "room-2", at(2008, time.January, 5, 8, 0)),
	}

	t.Run("room overlap produces conflict", func(t *testing.T) {
		t.Parallel()

		candidate := occurrence.Reservation{
			ID:     "review",
			Title:  "review",
			Start:  at(2008, time.January, 19, 8, 30),
			End:    at(2008, time.January, 19, 10, 0),
			RoomID: "room-1",
		}
		conflicts, err := DetectConflicts(ctx, newReconciler(), existing, candidate, window)
		require.NoError(t, err)
		require.Len(t, conflicts, 1)
		assert.Equal(t, Conflict{
			WithReservationID: "standup",
			Type:              ConflictTypeRoom,
			RoomID:            "room-1",
			Start:             at(2008, time.January, 19, 8, 30),
			End:               at(2008, time.January, 19, 10, 0),
			OtherStart:        at(2008, time.January, 19, 8, 0),
			OtherEnd:          at(2008, time.January, 19, 9, 0),
		}, conflicts[0])
	})

	t.Run("recurring candidate conflicts every week", func(t *testing.T) {
		t.Parallel()

		candidate := weekly("clash", "room-1", at(2008, time.January, 5, 8, 30))
		conflicts, err := DetectConflicts(ctx, newReconciler(), existing, candidate, window)
		require.NoError(t, err)
		assert.Len(t, conflicts, 4)
		for _, c := range conflicts {
			assert.Equal(t, "standup", c.WithReservationID)
		}
	})

	t.Run("non-overlapping reservations yield no conflicts", func(t *testing.T) {
		t.Parallel()

		candidate := occurrence.Reservation{
			ID:     "review",
			Title:  "review",
			Start:  at(2008, time.January, 19, 9, 0),
			End:    at(2008, time.January, 19, 10, 0),
			RoomID: "room-1",
		}
		conflicts, err := DetectConflicts(ctx, newReconciler(), existing, candidate, window)
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("updating a reservation ignores itself", func(t *testing.T) {
		t.Parallel()

		conflicts, err := DetectConflicts(ctx, newReconciler(), existing, existing[0], window)
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("moved occurrence frees the slot", func(t *testing.T) {
		t.Parallel()

		r := newReconciler()
		inst, err := r.GetOccurrence(ctx, existing[0], at(2008, time.January, 19, 8, 0))
		require.NoError(t, err)
		_, err = r.Move(ctx, inst, at(2008, time.January, 19, 14, 0), at(2008, time.January, 19, 15, 0))
		require.NoError(t, err)

		candidate := occurrence.Reservation{
			ID:     "review",
			Title:  "review",
			Start:  at(2008, time.January, 19, 8, 0),
			End:    at(2008, time.January, 19, 9, 0),
			RoomID: "room-1",
		}
		conflicts, err := DetectConflicts(ctx, r, existing, candidate, window)
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("no room means no conflicts", func(t *testing.T) {
		t.Parallel()

		candidate := weekly("roomless", "", at(2008, time.January, 5, 8, 0))
		conflicts, err := DetectConflicts(ctx, newReconciler(), existing, candidate, window)
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})
}
