package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/room-scheduler/internal/occurrence"
	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/persistence/memory"
	"github.com/example/room-scheduler/internal/recurrence"
)

func at(y int, m time.Month, d, h, minute int) time.Time {
	return time.Date(y, m, d, h, minute, 0, 0, time.UTC)
}

type sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func (s *sequence) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}

type serviceFixture struct {
	store        *memory.Storage
	rooms        *RoomService
	reservations *ReservationService
}

func newServiceFixture(t *testing.T, opts ...ReservationServiceOption) serviceFixture {
	t.Helper()

	store := memory.New()
	roomRepo := NewRoomRepositoryAdapter(store)
	ids := &sequence{prefix: "id"}
	now := func() time.Time { return at(2008, time.January, 1, 0, 0) }

	return serviceFixture{
		store: store,
		rooms: NewRoomService(roomRepo, ids.next, now),
		reservations: NewReservationService(
			NewReservationRepositoryAdapter(store),
			roomRepo,
			NewExceptionStoreAdapter(store),
			recurrence.NewEngine(recurrence.WithCache(32)),
			ids.next,
			now,
			opts...,
		),
	}
}

func (f serviceFixture) room(t *testing.T, name string) string {
	t.Helper()
	room, err := f.rooms.CreateRoom(context.Background(), RoomInput{Name: name, Location: "1F", Capacity: 6})
	require.NoError(t, err)
	return room.ID
}

// weeklyInput mirrors the reference reservation: Saturdays 08:00-09:00 from
// 2008-01-05 until 2008-05-05.
func weeklyInput(roomID *string) ReservationInput {
	until := at(2008, time.May, 5, 0, 0)
	return ReservationInput{
		Title:              "Weekly sync",
		Start:              at(2008, time.January, 5, 8, 0),
		End:                at(2008, time.January, 5, 9, 0),
		RoomID:             roomID,
		Rule:               &RuleInput{Frequency: "weekly"},
		EndRecurringPeriod: &until,
	}
}

func starts(instances []occurrence.Instance) []time.Time {
	out := make([]time.Time, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.Start)
	}
	return out
}

func TestReservationService_CreateReservation(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	roomID := f.room(t, "Aurora")

	res, warnings, err := f.reservations.CreateReservation(ctx, weeklyInput(&roomID))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.NotEmpty(t, res.ID)
	require.NotNil(t, res.Rule)
	assert.Equal(t, recurrence.FrequencyWeekly, res.Rule.Frequency)
	assert.Equal(t, 1, res.Rule.Interval)

	stored, err := f.reservations.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res, stored)

	list, err := f.reservations.ListOccurrences(ctx, res.ID, at(2008, time.January, 12, 0, 0), at(2008, time.January, 27, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		at(2008, time.January, 12, 8, 0),
		at(2008, time.January, 19, 8, 0),
		at(2008, time.January, 26, 8, 0),
	}, starts(list))
}

func TestReservationService_CreateReservation_RRule(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	input := weeklyInput(nil)
	input.Rule = &RuleInput{RRule: "FREQ=WEEKLY;INTERVAL=2;COUNT=3"}
	input.EndRecurringPeriod = nil

	res, _, err := f.reservations.CreateReservation(ctx, input)
	require.NoError(t, err)

	list, err := f.reservations.ListOccurrences(ctx, res.ID, at(2008, time.January, 1, 0, 0), at(2008, time.December, 31, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		at(2008, time.January, 5, 8, 0),
		at(2008, time.January, 19, 8, 0),
		at(2008, time.February, 2, 8, 0),
	}, starts(list))
}

func TestReservationService_CreateReservation_Validation(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	missing := "room-missing"

	tests := map[string]struct {
		mutate func(*ReservationInput)
		field  string
		cause  error
	}{
		"title": {
			mutate: func(in *ReservationInput) { in.Title = "  " },
			field:  "title",
		},
		"inverted interval": {
			mutate: func(in *ReservationInput) { in.End = in.Start.Add(-time.Hour) },
			field:  "end",
			cause:  recurrence.ErrInvalidDuration,
		},
		"bad rrule": {
			mutate: func(in *ReservationInput) { in.Rule = &RuleInput{RRule: "FREQ=HOURLY"} },
			field:  "rule",
			cause:  recurrence.ErrInvalidRule,
		},
		"unsupported by-part": {
			mutate: func(in *ReservationInput) { in.Rule = &RuleInput{RRule: "FREQ=WEEKLY;BYDAY=MO"} },
			field:  "rule",
			cause:  recurrence.ErrInvalidRule,
		},
		"unknown frequency": {
			mutate: func(in *ReservationInput) { in.Rule = &RuleInput{Frequency: "fortnightly"} },
			field:  "rule.frequency",
			cause:  recurrence.ErrInvalidRule,
		},
		"negative interval": {
			mutate: func(in *ReservationInput) { in.Rule = &RuleInput{Frequency: "daily", Interval: -1} },
			field:  "rule",
			cause:  recurrence.ErrInvalidRule,
		},
		"monthly interval overflow": {
			mutate: func(in *ReservationInput) { in.Rule = &RuleInput{Frequency: "monthly", Interval: 1 << 62} },
			field:  "rule",
			cause:  recurrence.ErrInvalidRule,
		},
		"yearly rrule interval overflow": {
			mutate: func(in *ReservationInput) { in.Rule = &RuleInput{RRule: "FREQ=YEARLY;INTERVAL=1152921504606846976"} },
			field:  "rule",
			cause:  recurrence.ErrInvalidRule,
		},
		"missing room": {
			mutate: func(in *ReservationInput) { in.RoomID = &missing },
			field:  "room_id",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			input := weeklyInput(nil)
			tt.mutate(&input)

			_, _, err := f.reservations.CreateReservation(ctx, input)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.FieldErrors, tt.field)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}

	list, err := f.reservations.ListReservations(ctx, ReservationFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestReservationService_StoredOversizedIntervalFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f := newServiceFixture(t)

	stamp := at(2008, time.January, 1, 0, 0)
	require.NoError(t, f.store.CreateReservation(ctx, persistence.Reservation{
		ID:        "res-overflow",
		Title:     "Runaway",
		Start:     at(2008, time.January, 5, 8, 0),
		End:       at(2008, time.January, 5, 9, 0),
		Frequency: recurrence.FrequencyMonthly.String(),
		Interval:  1 << 62,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}))

	_, err := f.reservations.ListOccurrences(ctx, "res-overflow", at(2000, time.January, 1, 0, 0), at(2100, time.January, 1, 0, 0))
	assert.ErrorIs(t, err, recurrence.ErrInvalidRule)

	_, err = f.reservations.UpcomingOccurrences(ctx, "res-overflow", time.Time{}, 5)
	assert.ErrorIs(t, err, recurrence.ErrInvalidRule)
	assert.NoError(t, ctx.Err())
}

func TestReservationService_ConflictWarnings(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	roomID := f.room(t, "Aurora")
	otherRoom := f.room(t, "Borealis")

	weekly, _, err := f.reservations.CreateReservation(ctx, weeklyInput(&roomID))
	require.NoError(t, err)

	clash := ReservationInput{
		Title:  "Interview",
		Start:  at(2008, time.January, 12, 8, 30),
		End:    at(2008, time.January, 12, 9, 30),
		RoomID: &roomID,
	}
	created, warnings, err := f.reservations.CreateReservation(ctx, clash)
	require.NoError(t, err, "conflicts never block the write")
	require.Len(t, warnings, 1)
	assert.Equal(t, weekly.ID, warnings[0].ReservationID)
	assert.Equal(t, roomID, warnings[0].RoomID)
	assert.Equal(t, at(2008, time.January, 12, 8, 0), warnings[0].OtherStart)

	conflicts, err := f.reservations.ReservationConflicts(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)

	// Cancelling the clashing occurrence frees the slot.
	_, err = f.reservations.CancelOccurrence(ctx, weekly.ID, at(2008, time.January, 12, 8, 0))
	require.NoError(t, err)
	conflicts, err = f.reservations.ReservationConflicts(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	clash.RoomID = &otherRoom
	_, warnings, err = f.reservations.UpdateReservation(ctx, created.ID, clash)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestReservationService_ConflictWindowFollowsClock(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	roomRepo := NewRoomRepositoryAdapter(store)
	ids := &sequence{prefix: "id"}
	now := func() time.Time { return at(2010, time.June, 1, 0, 0) }
	rooms := NewRoomService(roomRepo, ids.next, now)
	reservations := NewReservationService(
		NewReservationRepositoryAdapter(store),
		roomRepo,
		NewExceptionStoreAdapter(store),
		nil,
		ids.next,
		now,
	)

	room, err := rooms.CreateRoom(ctx, RoomInput{Name: "Aurora", Location: "1F", Capacity: 6})
	require.NoError(t, err)

	// A Saturday booking two years after the series below was anchored.
	booking, _, err := reservations.CreateReservation(ctx, ReservationInput{
		Title:  "Workshop",
		Start:  at(2010, time.June, 5, 8, 30),
		End:    at(2010, time.June, 5, 9, 30),
		RoomID: &room.ID,
	})
	require.NoError(t, err)

	open := weeklyInput(&room.ID)
	open.EndRecurringPeriod = nil
	series, warnings, err := reservations.CreateReservation(ctx, open)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, booking.ID, warnings[0].ReservationID)
	assert.Equal(t, at(2010, time.June, 5, 8, 0), warnings[0].Start)

	open.Title = "Weekly sync (renamed)"
	_, warnings, err = reservations.UpdateReservation(ctx, series.ID, open)
	require.NoError(t, err)
	assert.Len(t, warnings, 1)

	// A series that ended before the clock keeps the window at its anchor.
	ended, _, err := reservations.CreateReservation(ctx, weeklyInput(&room.ID))
	require.NoError(t, err)
	conflicts, err := reservations.ReservationConflicts(ctx, ended.ID)
	require.NoError(t, err)
	require.NotEmpty(t, conflicts)
	for _, c := range conflicts {
		assert.Equal(t, series.ID, c.ReservationID)
		assert.True(t, c.Start.Before(at(2008, time.May, 5, 0, 0)))
	}
}

func TestReservationService_MoveOccurrence(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	roomID := f.room(t, "Aurora")

	res, _, err := f.reservations.CreateReservation(ctx, weeklyInput(&roomID))
	require.NoError(t, err)

	original := at(2008, time.January, 19, 8, 0)
	busy, err := f.reservations.RoomBusy(ctx, roomID, original, original.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, busy)

	moved, err := f.reservations.MoveOccurrence(ctx, res.ID, original,
		at(2008, time.January, 20, 10, 0), at(2008, time.January, 20, 11, 0))
	require.NoError(t, err)
	assert.True(t, moved.Moved)
	assert.True(t, moved.Persisted())
	assert.Equal(t, original, moved.OriginalStart)

	busy, err = f.reservations.RoomBusy(ctx, roomID, original, original.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, busy)
	busy, err = f.reservations.RoomBusy(ctx, roomID, at(2008, time.January, 20, 10, 30), at(2008, time.January, 20, 12, 0))
	require.NoError(t, err)
	assert.True(t, busy)

	occurrences, err := f.reservations.RoomOccurrences(ctx, roomID, at(2008, time.January, 19, 0, 0), at(2008, time.January, 27, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(2008, time.January, 20, 10, 0), at(2008, time.January, 26, 8, 0)}, starts(occurrences))

	again, err := f.reservations.GetOccurrence(ctx, res.ID, original)
	require.NoError(t, err)
	assert.Equal(t, moved, again)

	_, err = f.reservations.MoveOccurrence(ctx, res.ID, original, original, original)
	assert.ErrorIs(t, err, occurrence.ErrInvalidInterval)
	_, err = f.reservations.MoveOccurrence(ctx, res.ID, at(2008, time.January, 20, 8, 0), original, original.Add(time.Hour))
	assert.ErrorIs(t, err, occurrence.ErrNoSuchOccurrence)
}

func TestReservationService_CancelAndUncancel(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	res, _, err := f.reservations.CreateReservation(ctx, weeklyInput(nil))
	require.NoError(t, err)

	original := at(2008, time.January, 19, 8, 0)
	windowStart, windowEnd := at(2008, time.January, 12, 0, 0), at(2008, time.January, 27, 0, 0)

	cancelled, err := f.reservations.CancelOccurrence(ctx, res.ID, original)
	require.NoError(t, err)
	assert.True(t, cancelled.Cancelled)

	live, err := f.reservations.ListOccurrences(ctx, res.ID, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Len(t, live, 2)

	gone, err := f.reservations.ListCancelledOccurrences(ctx, res.ID, windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, gone, 1)
	assert.Equal(t, original, gone[0].OriginalStart)

	restored, err := f.reservations.UncancelOccurrence(ctx, res.ID, original)
	require.NoError(t, err)
	assert.False(t, restored.Cancelled)
	assert.False(t, restored.Persisted())

	live, err = f.reservations.ListOccurrences(ctx, res.ID, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Len(t, live, 3)

	exceptions, err := f.store.ListExceptions(ctx, res.ID)
	require.NoError(t, err)
	assert.Empty(t, exceptions)
}

func TestReservationService_SaveOccurrence(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	res, _, err := f.reservations.CreateReservation(ctx, weeklyInput(nil))
	require.NoError(t, err)

	original := at(2008, time.January, 12, 8, 0)
	saved, err := f.reservations.SaveOccurrence(ctx, res.ID, original)
	require.NoError(t, err)
	assert.True(t, saved.Persisted())
	assert.False(t, saved.Moved)

	fetched, err := f.reservations.GetOccurrence(ctx, res.ID, original)
	require.NoError(t, err)
	assert.Equal(t, saved.StorageID, fetched.StorageID)

	_, err = f.reservations.GetOccurrence(ctx, res.ID, at(2008, time.January, 6, 8, 0))
	assert.ErrorIs(t, err, occurrence.ErrNoSuchOccurrence)
}

func TestReservationService_UpdateKeepsExceptions(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	res, _, err := f.reservations.CreateReservation(ctx, weeklyInput(nil))
	require.NoError(t, err)

	original := at(2008, time.January, 12, 8, 0)
	_, err = f.reservations.CancelOccurrence(ctx, res.ID, original)
	require.NoError(t, err)

	input := weeklyInput(nil)
	input.Title = "Weekly sync (renamed)"
	input.End = at(2008, time.January, 5, 9, 30)
	updated, _, err := f.reservations.UpdateReservation(ctx, res.ID, input)
	require.NoError(t, err)
	assert.Equal(t, "Weekly sync (renamed)", updated.Title)
	assert.Equal(t, res.CreatedAt, updated.CreatedAt)

	gone, err := f.reservations.ListCancelledOccurrences(ctx, res.ID, at(2008, time.January, 12, 0, 0), at(2008, time.January, 27, 0, 0))
	require.NoError(t, err)
	require.Len(t, gone, 1)
	assert.Equal(t, original, gone[0].OriginalStart)

	// A biweekly rule no longer generates the cancelled slot; the record is
	// kept but hidden.
	input.Rule = &RuleInput{Frequency: "weekly", Interval: 2}
	_, _, err = f.reservations.UpdateReservation(ctx, res.ID, input)
	require.NoError(t, err)

	gone, err = f.reservations.ListCancelledOccurrences(ctx, res.ID, at(2008, time.January, 12, 0, 0), at(2008, time.January, 27, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, gone)
	exceptions, err := f.store.ListExceptions(ctx, res.ID)
	require.NoError(t, err)
	assert.Len(t, exceptions, 1)

	_, _, err = f.reservations.UpdateReservation(ctx, "missing", input)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReservationService_UpcomingOccurrences(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	res, _, err := f.reservations.CreateReservation(ctx, weeklyInput(nil))
	require.NoError(t, err)

	upcoming, err := f.reservations.UpcomingOccurrences(ctx, res.ID, at(2008, time.April, 20, 0, 0), 10)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		at(2008, time.April, 26, 8, 0),
		at(2008, time.May, 3, 8, 0),
	}, starts(upcoming))

	upcoming, err = f.reservations.UpcomingOccurrences(ctx, res.ID, at(2008, time.January, 1, 0, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(2008, time.January, 5, 8, 0)}, starts(upcoming))

	_, err = f.reservations.UpcomingOccurrences(ctx, res.ID, at(2008, time.January, 1, 0, 0), 0)
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestReservationService_DeleteReservation(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	res, _, err := f.reservations.CreateReservation(ctx, weeklyInput(nil))
	require.NoError(t, err)
	_, err = f.reservations.CancelOccurrence(ctx, res.ID, at(2008, time.January, 12, 8, 0))
	require.NoError(t, err)

	require.NoError(t, f.reservations.DeleteReservation(ctx, res.ID))
	_, err = f.reservations.GetReservation(ctx, res.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.reservations.GetOccurrence(ctx, res.ID, at(2008, time.January, 12, 8, 0))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.reservations.DeleteReservation(ctx, res.ID), ErrNotFound)

	exceptions, err := f.store.ListExceptions(ctx, res.ID)
	require.NoError(t, err)
	assert.Empty(t, exceptions)
}

func TestReservationService_RoomQueries(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, WithConcurrency(2), WithConflictHorizon(14*24*time.Hour))

	_, err := f.reservations.RoomBusy(ctx, "room-missing", at(2008, time.January, 5, 0, 0), at(2008, time.January, 6, 0, 0))
	assert.ErrorIs(t, err, ErrNotFound)

	roomID := f.room(t, "Aurora")
	_, err = f.reservations.RoomBusy(ctx, roomID, at(2008, time.January, 6, 0, 0), at(2008, time.January, 5, 0, 0))
	assert.ErrorIs(t, err, recurrence.ErrInvalidWindow)

	// Touching the end of an occurrence is not a clash.
	_, _, err = f.reservations.CreateReservation(ctx, weeklyInput(&roomID))
	require.NoError(t, err)
	busy, err := f.reservations.RoomBusy(ctx, roomID, at(2008, time.January, 5, 9, 0), at(2008, time.January, 5, 10, 0))
	require.NoError(t, err)
	assert.False(t, busy)

	// A deleted room can no longer be queried.
	require.NoError(t, f.rooms.DeleteRoom(ctx, roomID))
	_, err = f.reservations.RoomOccurrences(ctx, roomID, at(2008, time.January, 5, 0, 0), at(2008, time.January, 6, 0, 0))
	assert.True(t, errors.Is(err, ErrNotFound))
}
