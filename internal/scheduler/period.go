// Package scheduler answers overlap questions across sets of reservations.
package scheduler

import (
	"context"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/room-scheduler/internal/occurrence"
	"github.com/example/room-scheduler/internal/recurrence"
)

// DefaultConcurrency bounds how many reservations are reconciled at once.
const DefaultConcurrency = 4

// OccurrenceSource produces the visible occurrences of one reservation.
// *occurrence.Reconciler satisfies it.
type OccurrenceSource interface {
	OccurrencesIn(ctx context.Context, res occurrence.Reservation, window recurrence.Window) ([]occurrence.Instance, error)
}

// Period is a query window over a set of reservations. It is not persisted.
type Period struct {
	source       OccurrenceSource
	reservations []occurrence.Reservation
	window       recurrence.Window
	limit        int
}

// NewPeriod builds a period over [start, end).
func NewPeriod(source OccurrenceSource, reservations []occurrence.Reservation, start, end time.Time) *Period {
	return &Period{
		source:       source,
		reservations: slices.Clone(reservations),
		window:       recurrence.Window{Start: start, End: end},
		limit:        DefaultConcurrency,
	}
}

// WithConcurrency overrides the number of reservations reconciled in parallel.
// Values below one keep the default.
func (p *Period) WithConcurrency(limit int) *Period {
	if limit > 0 {
		p.limit = limit
	}
	return p
}

// Start returns the inclusive window start.
func (p *Period) Start() time.Time { return p.window.Start }

// End returns the exclusive window end.
func (p *Period) End() time.Time { return p.window.End }

// HasOccurrences reports whether any non-cancelled occurrence intersects the
// period. Touching at a boundary does not count.
func (p *Period) HasOccurrences(ctx context.Context) (bool, error) {
	if err := p.window.Validate(); err != nil {
		return false, err
	}
	for _, res := range p.reservations {
		instances, err := p.source.OccurrencesIn(ctx, res, p.window)
		if err != nil {
			return false, err
		}
		for _, inst := range instances {
			if !inst.Cancelled && p.window.Overlaps(inst.Start, inst.End) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Occurrences returns every non-cancelled occurrence intersecting the period,
// merged across reservations and ordered by start, then reservation ID.
func (p *Period) Occurrences(ctx context.Context) ([]occurrence.Instance, error) {
	if err := p.window.Validate(); err != nil {
		return nil, err
	}

	results := make([][]occurrence.Instance, len(p.reservations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for i, res := range p.reservations {
		g.Go(func() error {
			instances, err := p.source.OccurrencesIn(gctx, res, p.window)
			if err != nil {
				return err
			}
			results[i] = instances
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []occurrence.Instance
	for _, instances := range results {
		for _, inst := range instances {
			if inst.Cancelled || !p.window.Overlaps(inst.Start, inst.End) {
				continue
			}
			merged = append(merged, inst)
		}
	}
	slices.SortStableFunc(merged, func(a, b occurrence.Instance) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		if c := strings.Compare(a.ReservationID, b.ReservationID); c != 0 {
			return c
		}
		return a.OriginalStart.Compare(b.OriginalStart)
	})
	return merged, nil
}
