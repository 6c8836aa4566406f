package occurrence

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/example/room-scheduler/internal/logging"
	"github.com/example/room-scheduler/internal/recurrence"
)

// Reconciler merges rule expansion with persisted exceptions.
type Reconciler struct {
	engine      *recurrence.Engine
	store       ExceptionStore
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewReconciler wires the engine and exception store. Nil generators fall back
// to random UUIDs and the wall clock.
func NewReconciler(engine *recurrence.Engine, store ExceptionStore, idGenerator func() string, now func() time.Time) *Reconciler {
	return NewReconcilerWithLogger(engine, store, idGenerator, now, nil)
}

// NewReconcilerWithLogger is NewReconciler with an explicit base logger.
func NewReconcilerWithLogger(engine *recurrence.Engine, store ExceptionStore, idGenerator func() string, now func() time.Time, logger *slog.Logger) *Reconciler {
	if engine == nil {
		engine = recurrence.NewEngine()
	}
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		engine:      engine,
		store:       store,
		idGenerator: idGenerator,
		now:         now,
		logger:      logger,
	}
}

func (r *Reconciler) log(ctx context.Context, operation string, res string) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = r.logger
	}
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "occurrence", "operation", operation, "reservation_id", res)
}

// expandedWindow widens window backwards by the reservation duration so that
// occurrences starting before the window but still running into it are found.
func expandedWindow(res Reservation, window recurrence.Window) recurrence.Window {
	return recurrence.Window{Start: window.Start.Add(-res.Duration()), End: window.End}
}

// originalKey identifies an occurrence by its original start instant,
// independent of location.
func originalKey(t time.Time) int64 {
	return t.UnixNano()
}

func (r *Reconciler) exceptionIndex(ctx context.Context, reservationID string) (map[int64]ExceptionRecord, error) {
	records, err := r.store.ListExceptions(ctx, reservationID)
	if err != nil {
		return nil, storeError("list", err)
	}
	index := make(map[int64]ExceptionRecord, len(records))
	for _, rec := range records {
		index[originalKey(rec.OriginalStart)] = rec
	}
	return index, nil
}

// OccurrencesIn returns the non-cancelled occurrences of res whose effective
// interval overlaps window, ordered by effective start.
func (r *Reconciler) OccurrencesIn(ctx context.Context, res Reservation, window recurrence.Window) ([]Instance, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}

	slots, err := r.engine.Slots(res.Start, res.End, res.Rule, res.EndRecurringPeriod, expandedWindow(res, window))
	if err != nil {
		return nil, err
	}
	exceptions, err := r.exceptionIndex(ctx, res.ID)
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(slots))
	for _, slot := range slots {
		key := originalKey(slot.Start)
		rec, ok := exceptions[key]
		if !ok {
			if window.Overlaps(slot.Start, slot.End) {
				instances = append(instances, transientInstance(res.ID, slot.Start, slot.End))
			}
			continue
		}
		delete(exceptions, key)
		if rec.Cancelled {
			continue
		}
		if window.Overlaps(rec.Start, rec.End) {
			instances = append(instances, rec.Instance())
		}
	}

	// Remaining records originate outside the expanded window, or are orphans.
	for _, rec := range exceptions {
		if rec.Cancelled || !rec.Moved() || !window.Overlaps(rec.Start, rec.End) {
			continue
		}
		ok, err := r.engine.IsCandidate(res.Start, res.Rule, res.EndRecurringPeriod, rec.OriginalStart)
		if err != nil {
			return nil, err
		}
		if ok {
			instances = append(instances, rec.Instance())
		}
	}

	sortByStart(instances)
	return instances, nil
}

// CancelledOccurrencesIn returns the cancelled occurrences whose original
// start falls in the overlap-expanded window, ordered by original start.
func (r *Reconciler) CancelledOccurrencesIn(ctx context.Context, res Reservation, window recurrence.Window) ([]Instance, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}

	records, err := r.store.ListExceptions(ctx, res.ID)
	if err != nil {
		return nil, storeError("list", err)
	}

	expanded := expandedWindow(res, window)
	var cancelled []Instance
	for _, rec := range records {
		if !rec.Cancelled || !expanded.Contains(rec.OriginalStart) {
			continue
		}
		ok, err := r.engine.IsCandidate(res.Start, res.Rule, res.EndRecurringPeriod, rec.OriginalStart)
		if err != nil {
			return nil, err
		}
		if ok {
			cancelled = append(cancelled, rec.Instance())
		}
	}

	slices.SortFunc(cancelled, func(a, b Instance) int {
		return a.OriginalStart.Compare(b.OriginalStart)
	})
	return cancelled, nil
}

// GetOccurrence reproduces the occurrence the rule generates at originalStart
// and attaches its exception record, if any.
func (r *Reconciler) GetOccurrence(ctx context.Context, res Reservation, originalStart time.Time) (Instance, error) {
	if err := res.Validate(); err != nil {
		return Instance{}, err
	}

	ok, err := r.engine.IsCandidate(res.Start, res.Rule, res.EndRecurringPeriod, originalStart)
	if err != nil {
		return Instance{}, err
	}
	if !ok {
		return Instance{}, fmt.Errorf("%w: reservation %s has no occurrence starting %s",
			ErrNoSuchOccurrence, res.ID, originalStart.Format(time.RFC3339))
	}

	found, err := r.store.FindException(ctx, res.ID, originalStart)
	if err != nil {
		return Instance{}, storeError("find", err)
	}
	if rec, ok := found.Get(); ok {
		return rec.Instance(), nil
	}
	return transientInstance(res.ID, originalStart, originalStart.Add(res.Duration())), nil
}

// Save persists the instance unchanged, giving it a storage identity.
func (r *Reconciler) Save(ctx context.Context, inst Instance) (Instance, error) {
	saved, err := r.upsert(ctx, inst.record())
	if err != nil {
		return Instance{}, err
	}
	r.log(ctx, "save", inst.ReservationID).DebugContext(ctx, "occurrence persisted",
		"original_start", inst.OriginalStart, "storage_id", saved.StorageID)
	return saved, nil
}

// Move records a new effective interval for the occurrence.
func (r *Reconciler) Move(ctx context.Context, inst Instance, newStart, newEnd time.Time) (Instance, error) {
	if !newEnd.After(newStart) {
		return Instance{}, ErrInvalidInterval
	}
	rec := inst.record()
	rec.Start = newStart
	rec.End = newEnd

	moved, err := r.upsert(ctx, rec)
	if err != nil {
		return Instance{}, err
	}
	r.log(ctx, "move", inst.ReservationID).InfoContext(ctx, "occurrence moved",
		"original_start", inst.OriginalStart, "start", newStart, "end", newEnd)
	return moved, nil
}

// Cancel marks the occurrence cancelled.
func (r *Reconciler) Cancel(ctx context.Context, inst Instance) (Instance, error) {
	rec := inst.record()
	rec.Cancelled = true

	cancelled, err := r.upsert(ctx, rec)
	if err != nil {
		return Instance{}, err
	}
	r.log(ctx, "cancel", inst.ReservationID).InfoContext(ctx, "occurrence cancelled",
		"original_start", inst.OriginalStart)
	return cancelled, nil
}

// Uncancel clears the cancelled flag. The stored record decides the outcome,
// not the supplied instance: an occurrence that was never moved loses its
// exception record and becomes transient again, a moved one keeps its
// interval.
func (r *Reconciler) Uncancel(ctx context.Context, inst Instance) (Instance, error) {
	logger := r.log(ctx, "uncancel", inst.ReservationID)

	found, err := r.store.FindException(ctx, inst.ReservationID, inst.OriginalStart)
	if err != nil {
		return Instance{}, storeError("find", err)
	}
	current, ok := found.Get()
	if !ok || !current.Moved() {
		if ok {
			if err := r.store.DeleteException(ctx, inst.ReservationID, inst.OriginalStart); err != nil {
				return Instance{}, storeError("delete", err)
			}
		}
		logger.InfoContext(ctx, "occurrence restored", "original_start", inst.OriginalStart)
		return transientInstance(inst.ReservationID, inst.OriginalStart, inst.OriginalEnd), nil
	}

	current.Cancelled = false
	restored, err := r.upsert(ctx, current)
	if err != nil {
		return Instance{}, err
	}
	logger.InfoContext(ctx, "occurrence restored at moved interval",
		"original_start", inst.OriginalStart, "start", restored.Start)
	return restored, nil
}

func (r *Reconciler) upsert(ctx context.Context, rec ExceptionRecord) (Instance, error) {
	now := r.now()
	if rec.ID == "" {
		rec.ID = r.idGenerator()
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	stored, err := r.store.UpsertException(ctx, rec)
	if err != nil {
		return Instance{}, storeError("upsert", err)
	}
	return stored.Instance(), nil
}

// OccurrencesAfter lazily walks the occurrences starting at or after the given
// instant in effective start order. Unbounded rules yield indefinitely; stop
// ranging to end the walk.
func (r *Reconciler) OccurrencesAfter(ctx context.Context, res Reservation, after time.Time) iter.Seq2[Instance, error] {
	return func(yield func(Instance, error) bool) {
		if err := res.Validate(); err != nil {
			yield(Instance{}, err)
			return
		}

		horizon, bounded, err := r.engine.LastStart(res.Start, res.Rule, res.EndRecurringPeriod)
		if err != nil {
			yield(Instance{}, err)
			return
		}
		records, err := r.store.ListExceptions(ctx, res.ID)
		if err != nil {
			yield(Instance{}, storeError("list", err))
			return
		}

		// Nothing starts before the anchor or the earliest moved occurrence.
		cursor := after
		earliest := res.Start
		for _, rec := range records {
			if rec.Start.Before(earliest) {
				earliest = rec.Start
			}
		}
		if earliest.After(cursor) {
			cursor = earliest
		}

		if bounded {
			horizon = horizon.Add(res.Duration())
			for _, rec := range records {
				if rec.End.After(horizon) {
					horizon = rec.End
				}
			}
		}

		span := chunkSpan(res)
		for !bounded || cursor.Before(horizon) {
			if err := ctx.Err(); err != nil {
				yield(Instance{}, err)
				return
			}
			window := recurrence.Window{Start: cursor, End: cursor.Add(span)}
			instances, err := r.OccurrencesIn(ctx, res, window)
			if err != nil {
				yield(Instance{}, err)
				return
			}
			for _, inst := range instances {
				if inst.Start.Before(window.Start) {
					continue
				}
				if !yield(inst, nil) {
					return
				}
			}
			cursor = window.End
		}
	}
}

// maxChunkSpan keeps chunk arithmetic inside time.Duration for large intervals.
const maxChunkSpan = 100 * 365 * 24 * time.Hour

func chunkSpan(res Reservation) time.Duration {
	const day = 24 * time.Hour
	span := 31 * day
	if res.Rule != nil {
		unit := day
		switch res.Rule.Frequency {
		case recurrence.FrequencyWeekly:
			unit = 7 * day
		case recurrence.FrequencyMonthly:
			unit = 31 * day
		case recurrence.FrequencyYearly:
			unit = 366 * day
		}
		steps := int64(32) * int64(res.Rule.Interval)
		if steps > int64(maxChunkSpan/unit) {
			span = maxChunkSpan
		} else {
			span = time.Duration(steps) * unit
		}
	}
	if floor := 2 * res.Duration(); span < floor {
		span = floor
	}
	return span
}

func sortByStart(instances []Instance) {
	slices.SortStableFunc(instances, func(a, b Instance) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.OriginalStart.Compare(b.OriginalStart)
	})
}
