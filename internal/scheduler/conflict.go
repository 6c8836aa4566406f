package scheduler

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/example/room-scheduler/internal/occurrence"
	"github.com/example/room-scheduler/internal/recurrence"
)

// ConflictType describes the type of conflict detected between reservations.
type ConflictType string

const (
	// ConflictTypeRoom indicates a room is double-booked.
	ConflictTypeRoom ConflictType = "room"
)

// Conflict details one overlapping occurrence pair that callers can present to users.
type Conflict struct {
	WithReservationID string
	Type              ConflictType
	RoomID            string
	// Start and End are the candidate occurrence's effective interval.
	Start time.Time
	End   time.Time
	// OtherStart and OtherEnd belong to the conflicting occurrence.
	OtherStart time.Time
	OtherEnd   time.Time
}

// DetectConflicts compares the candidate's occurrences inside window with the
// occurrences of existing reservations booked into the same room. The
// candidate itself is skipped when it appears in existing.
func DetectConflicts(ctx context.Context, source OccurrenceSource, existing []occurrence.Reservation, candidate occurrence.Reservation, window recurrence.Window) ([]Conflict, error) {
	if candidate.RoomID == "" {
		return nil, nil
	}

	own, err := source.OccurrencesIn(ctx, candidate, window)
	if err != nil {
		return nil, err
	}
	if len(own) == 0 {
		return nil, nil
	}

	var others []occurrence.Reservation
	for _, res := range existing {
		if res.ID == candidate.ID || res.RoomID != candidate.RoomID {
			continue
		}
		others = append(others, res)
	}
	if len(others) == 0 {
		return nil, nil
	}

	theirs, err := NewPeriod(source, others, window.Start, window.End).Occurrences(ctx)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for _, mine := range own {
		if mine.Cancelled {
			continue
		}
		for _, other := range theirs {
			if !recurrence.Overlaps(mine.Start, mine.End, other.Start, other.End) {
				continue
			}
			conflicts = append(conflicts, Conflict{
				WithReservationID: other.ReservationID,
				Type:              ConflictTypeRoom,
				RoomID:            candidate.RoomID,
				Start:             mine.Start,
				End:               mine.End,
				OtherStart:        other.Start,
				OtherEnd:          other.End,
			})
		}
	}

	slices.SortStableFunc(conflicts, func(a, b Conflict) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		if c := strings.Compare(a.WithReservationID, b.WithReservationID); c != 0 {
			return c
		}
		return a.OtherStart.Compare(b.OtherStart)
	})
	return conflicts, nil
}
