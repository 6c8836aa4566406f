package application

import (
	"time"

	"github.com/example/room-scheduler/internal/occurrence"
	"github.com/example/room-scheduler/internal/recurrence"
)

// RoomInput carries user supplied fields for creating or updating rooms.
type RoomInput struct {
	Name     string
	Location string
	Capacity int
}

// Room represents a bookable resource.
type Room struct {
	ID        string
	Name      string
	Location  string
	Capacity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RuleInput describes how a reservation repeats, either as an RFC 5545
// RRULE value or as discrete fields. RRule wins when both are set.
type RuleInput struct {
	RRule     string
	Frequency string
	Interval  int
	Count     int
	Until     *time.Time
}

// ReservationInput carries user supplied fields for creating or updating reservations.
type ReservationInput struct {
	Title              string
	Start              time.Time
	End                time.Time
	RoomID             *string
	Rule               *RuleInput
	EndRecurringPeriod *time.Time
}

// Reservation is a stored reservation definition.
type Reservation struct {
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

// Definition returns the read-only view occurrences are generated from.
func (r Reservation) Definition() occurrence.Reservation {
	def := occurrence.Reservation{
		ID:                 r.ID,
		Title:              r.Title,
		Start:              r.Start,
		End:                r.End,
		Rule:               r.Rule,
		EndRecurringPeriod: r.EndRecurringPeriod,
	}
	if r.RoomID != nil {
		def.RoomID = *r.RoomID
	}
	return def
}

// ConflictWarning describes a room double booking detected while saving a
// reservation. Warnings never block the write.
type ConflictWarning struct {
	ReservationID string
	RoomID        string
	Start         time.Time
	End           time.Time
	OtherStart    time.Time
	OtherEnd      time.Time
}

// ReservationFilter narrows reservation listings.
type ReservationFilter struct {
	RoomID *string
	// StartsBefore keeps reservations whose anchor starts before the instant.
	StartsBefore *time.Time
}
