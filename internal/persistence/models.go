package persistence

import "time"

// Room represents a bookable resource catalog entry.
type Room struct {
	ID        string
	Name      string
	Location  string
	Capacity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reservation represents a reservation definition stored in persistence.
// An empty Frequency marks a single, non-recurring reservation.
type Reservation struct {
	ID                 string
	Title              string
	Start              time.Time
	End                time.Time
	RoomID             *string
	Frequency          string
	Interval           int
	Count              int
	Until              *time.Time
	EndRecurringPeriod *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OccurrenceException represents one moved or cancelled occurrence. The pair
// (ReservationID, OriginalStart) is unique.
type OccurrenceException struct {
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

// MigrationState reports whether one schema migration has been applied.
type MigrationState struct {
	Version   int64
	Applied   bool
	AppliedAt time.Time
}
