package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/room-scheduler/internal/application"
	"github.com/example/room-scheduler/internal/occurrence"
	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/recurrence"
)

var (
	roomCounter        uint64
	reservationCounter uint64
)

// referenceTime is the anchor of the canonical weekly reservation: Saturday
// 2008-01-05 08:00 UTC.
var referenceTime = time.Date(2008, time.January, 5, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Room fixtures -----------------------------

// RoomFixture represents a deterministic meeting room record.
type RoomFixture struct {
	ID        string
	Name      string
	Location  string
	Capacity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoomOption configures the generated room fixture.
type RoomOption func(*RoomFixture)

// NewRoomFixture returns a deterministic room fixture with optional overrides.
func NewRoomFixture(opts ...RoomOption) RoomFixture {
	idx := atomic.AddUint64(&roomCounter, 1)
	id := fmt.Sprintf("room-%03d", idx)
	created := referenceTime.Add(-time.Duration(idx) * time.Hour)
	fixture := RoomFixture{
		ID:        id,
		Name:      fmt.Sprintf("Room %03d", idx),
		Location:  "Main Office",
		Capacity:  int(4 + idx%4),
		CreatedAt: created,
		UpdatedAt: created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithRoomID overrides the generated room ID.
func WithRoomID(id string) RoomOption {
	return func(f *RoomFixture) {
		f.ID = id
	}
}

// WithRoomName overrides the generated room name.
func WithRoomName(name string) RoomOption {
	return func(f *RoomFixture) {
		f.Name = name
	}
}

// WithRoomCapacity overrides the generated capacity.
func WithRoomCapacity(capacity int) RoomOption {
	return func(f *RoomFixture) {
		f.Capacity = capacity
	}
}

// Application returns the fixture as an application.Room value.
func (f RoomFixture) Application() application.Room {
	return application.Room{
		ID:        f.ID,
		Name:      f.Name,
		Location:  f.Location,
		Capacity:  f.Capacity,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

// Persistence returns the fixture as a persistence.Room value.
func (f RoomFixture) Persistence() persistence.Room {
	return persistence.Room{
		ID:        f.ID,
		Name:      f.Name,
		Location:  f.Location,
		Capacity:  f.Capacity,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

// Input returns the fixture as an application.RoomInput.
func (f RoomFixture) Input() application.RoomInput {
	return application.RoomInput{
		Name:     f.Name,
		Location: f.Location,
		Capacity: f.Capacity,
	}
}

// ------------------------- Reservation fixtures --------------------------

// ReservationFixture represents a deterministic reservation. The default is
// the weekly reservation anchored at ReferenceTime lasting one hour and
// recurring until 2008-05-05.
type ReservationFixture struct {
	ID                 string
	Title              string
	Start              time.Time
	End                time.Time
	RoomID             *string
	Rule               *recurrence.Rule
	EndRecurringPeriod *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ReservationOption configures the generated reservation fixture.
type ReservationOption func(*ReservationFixture)

// NewReservationFixture returns a deterministic reservation fixture with
// optional overrides.
func NewReservationFixture(opts ...ReservationOption) ReservationFixture {
	idx := atomic.AddUint64(&reservationCounter, 1)
	rule := recurrence.NewRule(recurrence.FrequencyWeekly)
	until := time.Date(2008, time.May, 5, 0, 0, 0, 0, time.UTC)
	created := referenceTime.AddDate(0, 0, -7)
	fixture := ReservationFixture{
		ID:                 fmt.Sprintf("reservation-%03d", idx),
		Title:              fmt.Sprintf("Reservation %03d", idx),
		Start:              referenceTime,
		End:                referenceTime.Add(time.Hour),
		Rule:               &rule,
		EndRecurringPeriod: &until,
		CreatedAt:          created,
		UpdatedAt:          created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithReservationID overrides the generated reservation ID.
func WithReservationID(id string) ReservationOption {
	return func(f *ReservationFixture) {
		f.ID = id
	}
}

// WithReservationStartEnd overrides the anchor interval.
func WithReservationStartEnd(start, end time.Time) ReservationOption {
	return func(f *ReservationFixture) {
		f.Start = start
		f.End = end
	}
}

// WithReservationRoomID books the reservation into a room.
func WithReservationRoomID(roomID string) ReservationOption {
	return func(f *ReservationFixture) {
		value := roomID
		f.RoomID = &value
	}
}

// WithReservationRule replaces the recurrence rule.
func WithReservationRule(rule recurrence.Rule) ReservationOption {
	return func(f *ReservationFixture) {
		f.Rule = &rule
	}
}

// WithoutReservationRule makes the reservation a single occurrence.
func WithoutReservationRule() ReservationOption {
	return func(f *ReservationFixture) {
		f.Rule = nil
	}
}

// WithReservationEndRecurringPeriod overrides the end of recurrence. A nil
// value recurs indefinitely.
func WithReservationEndRecurringPeriod(t *time.Time) ReservationOption {
	return func(f *ReservationFixture) {
		f.EndRecurringPeriod = copyTimePtr(t)
	}
}

// Application returns the fixture as an application.Reservation value.
func (f ReservationFixture) Application() application.Reservation {
	return application.Reservation{
		ID:                 f.ID,
		Title:              f.Title,
		Start:              f.Start,
		End:                f.End,
		RoomID:             copyStringPtr(f.RoomID),
		Rule:               copyRulePtr(f.Rule),
		EndRecurringPeriod: copyTimePtr(f.EndRecurringPeriod),
		CreatedAt:          f.CreatedAt,
		UpdatedAt:          f.UpdatedAt,
	}
}

// Definition returns the fixture as the read-only occurrence definition.
func (f ReservationFixture) Definition() occurrence.Reservation {
	return f.Application().Definition()
}

// Persistence returns the fixture as a persistence.Reservation value.
func (f ReservationFixture) Persistence() persistence.Reservation {
	model := persistence.Reservation{
		ID:                 f.ID,
		Title:              f.Title,
		Start:              f.Start,
		End:                f.End,
		RoomID:             copyStringPtr(f.RoomID),
		Interval:           1,
		EndRecurringPeriod: copyTimePtr(f.EndRecurringPeriod),
		CreatedAt:          f.CreatedAt,
		UpdatedAt:          f.UpdatedAt,
	}
	if f.Rule != nil {
		model.Frequency = f.Rule.Frequency.String()
		model.Interval = f.Rule.Interval
		model.Count = f.Rule.Count
		model.Until = copyTimePtr(f.Rule.Until)
	}
	return model
}

// Input returns the fixture as an application.ReservationInput.
func (f ReservationFixture) Input() application.ReservationInput {
	input := application.ReservationInput{
		Title:              f.Title,
		Start:              f.Start,
		End:                f.End,
		RoomID:             copyStringPtr(f.RoomID),
		EndRecurringPeriod: copyTimePtr(f.EndRecurringPeriod),
	}
	if f.Rule != nil {
		input.Rule = &application.RuleInput{
			Frequency: f.Rule.Frequency.String(),
			Interval:  f.Rule.Interval,
			Count:     f.Rule.Count,
			Until:     copyTimePtr(f.Rule.Until),
		}
	}
	return input
}

// --------------------------- Exception fixtures --------------------------

// NewExceptionFixture returns an exception record for the occurrence of res
// originally starting at originalStart, moved by shift. A zero shift leaves
// the interval unchanged.
func NewExceptionFixture(res ReservationFixture, originalStart time.Time, shift time.Duration, cancelled bool) persistence.OccurrenceException {
	originalEnd := originalStart.Add(res.End.Sub(res.Start))
	return persistence.OccurrenceException{
		ID:            fmt.Sprintf("%s-exception-%d", res.ID, originalStart.Unix()),
		ReservationID: res.ID,
		OriginalStart: originalStart,
		OriginalEnd:   originalEnd,
		Start:         originalStart.Add(shift),
		End:           originalEnd.Add(shift),
		Cancelled:     cancelled,
		CreatedAt:     res.CreatedAt,
		UpdatedAt:     res.CreatedAt,
	}
}

func copyStringPtr(src *string) *string {
	if src == nil {
		return nil
	}
	value := *src
	return &value
}

func copyTimePtr(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	value := *src
	return &value
}

func copyRulePtr(src *recurrence.Rule) *recurrence.Rule {
	if src == nil {
		return nil
	}
	value := *src
	value.Until = copyTimePtr(src.Until)
	return &value
}
