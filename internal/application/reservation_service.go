package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/room-scheduler/internal/occurrence"
	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/recurrence"
	"github.com/example/room-scheduler/internal/scheduler"
)

// DefaultConflictHorizon bounds how far ahead conflict warnings look for
// recurring reservations.
const DefaultConflictHorizon = 90 * 24 * time.Hour

// ReservationRepository captures the persistence operations needed by the
// service. LoadReservation returns the definition occurrences are built from.
type ReservationRepository interface {
	occurrence.ReservationRepository
	CreateReservation(ctx context.Context, res Reservation) (Reservation, error)
	GetReservation(ctx context.Context, id string) (Reservation, error)
	UpdateReservation(ctx context.Context, res Reservation) (Reservation, error)
	DeleteReservation(ctx context.Context, id string) error
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
}

// RoomCatalog verifies room references.
type RoomCatalog interface {
	RoomExists(ctx context.Context, id string) (bool, error)
}

// ReservationService manages reservation definitions and their occurrences.
type ReservationService struct {
	reservations ReservationRepository
	rooms        RoomCatalog
	reconciler   *occurrence.Reconciler
	engine       *recurrence.Engine
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
	horizon      time.Duration
	concurrency  int
	warningTTL   time.Duration
	warnings     *warningCache
}

// ReservationServiceOption customises a ReservationService.
type ReservationServiceOption func(*ReservationService)

// WithLogger sets the base logger used when the context carries none.
func WithLogger(logger *slog.Logger) ReservationServiceOption {
	return func(s *ReservationService) { s.logger = defaultLogger(logger) }
}

// WithConflictHorizon sets how far past a reservation's start conflicts are checked.
func WithConflictHorizon(horizon time.Duration) ReservationServiceOption {
	return func(s *ReservationService) {
		if horizon > 0 {
			s.horizon = horizon
		}
	}
}

// WithConcurrency bounds the reservations expanded in parallel by room queries.
func WithConcurrency(limit int) ReservationServiceOption {
	return func(s *ReservationService) {
		if limit > 0 {
			s.concurrency = limit
		}
	}
}

// WithWarningTTL sets how long computed conflict warnings are reused.
func WithWarningTTL(ttl time.Duration) ReservationServiceOption {
	return func(s *ReservationService) { s.warningTTL = ttl }
}

// NewReservationService wires the repositories, the exception store and the
// expansion engine. A nil engine uses an uncached default.
func NewReservationService(
	reservations ReservationRepository,
	rooms RoomCatalog,
	exceptions occurrence.ExceptionStore,
	engine *recurrence.Engine,
	idGenerator func() string,
	now func() time.Time,
	opts ...ReservationServiceOption,
) *ReservationService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if engine == nil {
		engine = recurrence.NewEngine()
	}
	s := &ReservationService{
		reservations: reservations,
		rooms:        rooms,
		engine:       engine,
		idGenerator:  idGenerator,
		now:          func() time.Time { return normalizeTime(now()) },
		logger:       defaultLogger(nil),
		horizon:      DefaultConflictHorizon,
		concurrency:  scheduler.DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reconciler = occurrence.NewReconcilerWithLogger(engine, exceptions, idGenerator, s.now, s.logger)
	s.warnings = newWarningCache(s.warningTTL, 0)
	return s
}

func (s *ReservationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReservationService", operation, attrs...)
}

// CreateReservation validates input, collects room conflicts and persists a
// new reservation. Conflicts are reported as warnings and never block the write.
func (s *ReservationService) CreateReservation(ctx context.Context, input ReservationInput) (res Reservation, warnings []ConflictWarning, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}
	if s.reservations == nil {
		err = fmt.Errorf("reservation repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "CreateReservation")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("reservation_id", res.ID, "conflict_count", len(warnings)).InfoContext(ctx, "reservation created")
	}()

	var candidate Reservation
	candidate, err = s.buildReservation(ctx, input)
	if err != nil {
		return
	}
	candidate.ID = s.idGenerator()
	candidate.CreatedAt = s.now()
	candidate.UpdatedAt = candidate.CreatedAt

	warnings, err = s.detectConflicts(ctx, candidate)
	if err != nil {
		return
	}

	res, err = s.reservations.CreateReservation(ctx, candidate)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}
	s.warnings.Invalidate()
	return
}

// UpdateReservation replaces the definition of an existing reservation.
// Exceptions are kept; those whose original start is no longer generated by
// the new rule stay stored but hidden.
func (s *ReservationService) UpdateReservation(ctx context.Context, reservationID string, input ReservationInput) (res Reservation, warnings []ConflictWarning, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}
	if s.reservations == nil {
		err = fmt.Errorf("reservation repository not configured")
		return
	}

	logger := s.loggerWith(ctx, "UpdateReservation", "reservation_id", reservationID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("conflict_count", len(warnings)).InfoContext(ctx, "reservation updated")
	}()

	var existing Reservation
	existing, err = s.reservations.GetReservation(ctx, reservationID)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}

	var updated Reservation
	updated, err = s.buildReservation(ctx, input)
	if err != nil {
		return
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = s.now()

	warnings, err = s.detectConflicts(ctx, updated)
	if err != nil {
		return
	}

	res, err = s.reservations.UpdateReservation(ctx, updated)
	if err != nil {
		err = mapReservationRepoError(err)
		return
	}
	s.warnings.Invalidate()
	return
}

// GetReservation returns a stored reservation.
func (s *ReservationService) GetReservation(ctx context.Context, reservationID string) (Reservation, error) {
	if s == nil || s.reservations == nil {
		return Reservation{}, fmt.Errorf("reservation repository not configured")
	}
	res, err := s.reservations.GetReservation(ctx, reservationID)
	if err != nil {
		err = mapReservationRepoError(err)
		s.loggerWith(ctx, "GetReservation", "reservation_id", reservationID).
			ErrorContext(ctx, "failed to load reservation", "error", err, "error_kind", ErrorKind(err))
		return Reservation{}, err
	}
	return res, nil
}

// ListReservations returns reservations ordered by start.
func (s *ReservationService) ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	if s == nil || s.reservations == nil {
		return nil, fmt.Errorf("reservation repository not configured")
	}
	list, err := s.reservations.ListReservations(ctx, filter)
	if err != nil {
		return nil, mapReservationRepoError(err)
	}
	return list, nil
}

// DeleteReservation removes a reservation together with its exceptions.
func (s *ReservationService) DeleteReservation(ctx context.Context, reservationID string) error {
	if s == nil || s.reservations == nil {
		return fmt.Errorf("reservation repository not configured")
	}

	logger := s.loggerWith(ctx, "DeleteReservation", "reservation_id", reservationID)
	if err := s.reservations.DeleteReservation(ctx, reservationID); err != nil {
		err = mapReservationRepoError(err)
		logger.ErrorContext(ctx, "failed to delete reservation", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	s.warnings.Invalidate()
	logger.InfoContext(ctx, "reservation deleted")
	return nil
}

// ListOccurrences returns the non-cancelled occurrences overlapping [start, end).
func (s *ReservationService) ListOccurrences(ctx context.Context, reservationID string, start, end time.Time) ([]occurrence.Instance, error) {
	def, window, err := s.loadWithWindow(ctx, reservationID, start, end)
	if err != nil {
		return nil, err
	}
	return s.reconciler.OccurrencesIn(ctx, def, window)
}

// ListCancelledOccurrences returns the cancelled occurrences originally
// scheduled in [start, end).
func (s *ReservationService) ListCancelledOccurrences(ctx context.Context, reservationID string, start, end time.Time) ([]occurrence.Instance, error) {
	def, window, err := s.loadWithWindow(ctx, reservationID, start, end)
	if err != nil {
		return nil, err
	}
	return s.reconciler.CancelledOccurrencesIn(ctx, def, window)
}

// UpcomingOccurrences returns at most limit occurrences starting at or after
// the given instant.
func (s *ReservationService) UpcomingOccurrences(ctx context.Context, reservationID string, after time.Time, limit int) ([]occurrence.Instance, error) {
	if limit <= 0 {
		vErr := &ValidationError{}
		vErr.add("limit", "limit must be positive")
		return nil, vErr
	}
	def, err := s.load(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	out := make([]occurrence.Instance, 0, limit)
	for inst, err := range s.reconciler.OccurrencesAfter(ctx, def, after) {
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetOccurrence reconstructs the occurrence originally starting at originalStart.
func (s *ReservationService) GetOccurrence(ctx context.Context, reservationID string, originalStart time.Time) (occurrence.Instance, error) {
	def, err := s.load(ctx, reservationID)
	if err != nil {
		return occurrence.Instance{}, err
	}
	return s.reconciler.GetOccurrence(ctx, def, originalStart)
}

// SaveOccurrence persists the occurrence as is, giving it a storage identity.
func (s *ReservationService) SaveOccurrence(ctx context.Context, reservationID string, originalStart time.Time) (occurrence.Instance, error) {
	return s.mutateOccurrence(ctx, "SaveOccurrence", reservationID, originalStart,
		func(inst occurrence.Instance) (occurrence.Instance, error) {
			return s.reconciler.Save(ctx, inst)
		})
}

// MoveOccurrence gives the occurrence a new effective interval.
func (s *ReservationService) MoveOccurrence(ctx context.Context, reservationID string, originalStart, newStart, newEnd time.Time) (occurrence.Instance, error) {
	return s.mutateOccurrence(ctx, "MoveOccurrence", reservationID, originalStart,
		func(inst occurrence.Instance) (occurrence.Instance, error) {
			return s.reconciler.Move(ctx, inst, normalizeTime(newStart), normalizeTime(newEnd))
		})
}

// CancelOccurrence cancels a single occurrence.
func (s *ReservationService) CancelOccurrence(ctx context.Context, reservationID string, originalStart time.Time) (occurrence.Instance, error) {
	return s.mutateOccurrence(ctx, "CancelOccurrence", reservationID, originalStart,
		func(inst occurrence.Instance) (occurrence.Instance, error) {
			return s.reconciler.Cancel(ctx, inst)
		})
}

// UncancelOccurrence restores a cancelled occurrence.
func (s *ReservationService) UncancelOccurrence(ctx context.Context, reservationID string, originalStart time.Time) (occurrence.Instance, error) {
	return s.mutateOccurrence(ctx, "UncancelOccurrence", reservationID, originalStart,
		func(inst occurrence.Instance) (occurrence.Instance, error) {
			return s.reconciler.Uncancel(ctx, inst)
		})
}

func (s *ReservationService) mutateOccurrence(
	ctx context.Context,
	operation, reservationID string,
	originalStart time.Time,
	mutate func(occurrence.Instance) (occurrence.Instance, error),
) (inst occurrence.Instance, err error) {
	logger := s.loggerWith(ctx, operation, "reservation_id", reservationID, "original_start", originalStart)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "occurrence update failed", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	inst, err = s.GetOccurrence(ctx, reservationID, originalStart)
	if err != nil {
		return
	}
	inst, err = mutate(inst)
	if err != nil {
		return
	}
	s.warnings.Invalidate()
	return
}

// RoomBusy reports whether any live occurrence in the room overlaps [start, end).
func (s *ReservationService) RoomBusy(ctx context.Context, roomID string, start, end time.Time) (bool, error) {
	period, err := s.roomPeriod(ctx, roomID, start, end)
	if err != nil {
		return false, err
	}
	return period.HasOccurrences(ctx)
}

// RoomOccurrences lists the live occurrences in the room overlapping
// [start, end), ordered by start.
func (s *ReservationService) RoomOccurrences(ctx context.Context, roomID string, start, end time.Time) ([]occurrence.Instance, error) {
	period, err := s.roomPeriod(ctx, roomID, start, end)
	if err != nil {
		return nil, err
	}
	return period.Occurrences(ctx)
}

// ReservationConflicts returns the room conflicts of a stored reservation
// over the conflict horizon. Results are cached until the next write.
func (s *ReservationService) ReservationConflicts(ctx context.Context, reservationID string) ([]ConflictWarning, error) {
	if s == nil || s.reservations == nil {
		return nil, fmt.Errorf("reservation repository not configured")
	}
	key := buildWarningCacheKey(reservationID, s.horizon)
	if cached, ok := s.warnings.Get(key); ok {
		return cached, nil
	}

	res, err := s.reservations.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, mapReservationRepoError(err)
	}
	warnings, err := s.detectConflicts(ctx, res)
	if err != nil {
		return nil, err
	}
	s.warnings.Store(key, warnings)
	return warnings, nil
}

func (s *ReservationService) roomPeriod(ctx context.Context, roomID string, start, end time.Time) (*scheduler.Period, error) {
	if s == nil || s.reservations == nil {
		return nil, fmt.Errorf("reservation repository not configured")
	}
	window, err := recurrence.NewWindow(start, end)
	if err != nil {
		return nil, err
	}
	if s.rooms != nil {
		exists, err := s.rooms.RoomExists(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
		}
	}

	list, err := s.reservations.ListReservations(ctx, ReservationFilter{RoomID: &roomID, StartsBefore: &window.End})
	if err != nil {
		return nil, mapReservationRepoError(err)
	}
	defs := make([]occurrence.Reservation, 0, len(list))
	for _, res := range list {
		defs = append(defs, res.Definition())
	}
	return scheduler.NewPeriod(s.reconciler, defs, window.Start, window.End).WithConcurrency(s.concurrency), nil
}

func (s *ReservationService) load(ctx context.Context, reservationID string) (occurrence.Reservation, error) {
	if s == nil || s.reservations == nil {
		return occurrence.Reservation{}, fmt.Errorf("reservation repository not configured")
	}
	def, err := s.reservations.LoadReservation(ctx, reservationID)
	if err != nil {
		return occurrence.Reservation{}, mapReservationRepoError(err)
	}
	return def, nil
}

func (s *ReservationService) loadWithWindow(ctx context.Context, reservationID string, start, end time.Time) (occurrence.Reservation, recurrence.Window, error) {
	window, err := recurrence.NewWindow(start, end)
	if err != nil {
		return occurrence.Reservation{}, recurrence.Window{}, err
	}
	def, err := s.load(ctx, reservationID)
	if err != nil {
		return occurrence.Reservation{}, recurrence.Window{}, err
	}
	return def, window, nil
}

func (s *ReservationService) buildReservation(ctx context.Context, input ReservationInput) (Reservation, error) {
	vErr := validateReservationInput(input)
	rule, ruleErr := buildRule(input.Rule)
	vErr.merge(ruleErr)
	if vErr.HasErrors() {
		return Reservation{}, vErr
	}

	roomID := normalizeOptionalString(input.RoomID)
	if err := s.ensureRoomExists(ctx, roomID); err != nil {
		return Reservation{}, err
	}

	return Reservation{
		Title:              strings.TrimSpace(input.Title),
		Start:              normalizeTime(input.Start),
		End:                normalizeTime(input.End),
		RoomID:             roomID,
		Rule:               rule,
		EndRecurringPeriod: normalizeOptionalTime(input.EndRecurringPeriod),
	}, nil
}

func (s *ReservationService) ensureRoomExists(ctx context.Context, roomID *string) error {
	if roomID == nil || s.rooms == nil {
		return nil
	}
	exists, err := s.rooms.RoomExists(ctx, *roomID)
	if err != nil {
		return err
	}
	if !exists {
		vErr := &ValidationError{}
		vErr.add("room_id", "room does not exist")
		return vErr
	}
	return nil
}

// detectConflicts compares candidate with the other reservations in its room
// from its start until the conflict horizon.
func (s *ReservationService) detectConflicts(ctx context.Context, candidate Reservation) ([]ConflictWarning, error) {
	if candidate.RoomID == nil {
		return nil, nil
	}

	window, err := s.conflictWindow(candidate)
	if err != nil {
		return nil, err
	}

	list, err := s.reservations.ListReservations(ctx, ReservationFilter{RoomID: candidate.RoomID, StartsBefore: &window.End})
	if err != nil {
		return nil, mapReservationRepoError(err)
	}
	existing := make([]occurrence.Reservation, 0, len(list))
	for _, res := range list {
		existing = append(existing, res.Definition())
	}

	conflicts, err := scheduler.DetectConflicts(ctx, s.reconciler, existing, candidate.Definition(), window)
	if err != nil {
		return nil, err
	}
	return toConflictWarnings(conflicts), nil
}

// conflictWindow spans the horizon from the candidate's start. A recurring
// candidate that still has starts at or after now is checked from now
// instead, so edits to long-running series look at upcoming occurrences.
func (s *ReservationService) conflictWindow(candidate Reservation) (recurrence.Window, error) {
	start := candidate.Start
	if now := s.now(); candidate.Rule != nil && now.After(start) {
		last, bounded, err := s.engine.LastStart(candidate.Start, candidate.Rule, candidate.EndRecurringPeriod)
		if err != nil {
			return recurrence.Window{}, err
		}
		if !bounded || !last.Before(now) {
			start = now
		}
	}

	end := start.Add(s.horizon)
	if candidate.End.After(end) {
		end = candidate.End
	}
	return recurrence.Window{Start: start, End: end}, nil
}

func toConflictWarnings(conflicts []scheduler.Conflict) []ConflictWarning {
	if len(conflicts) == 0 {
		return nil
	}

	warnings := make([]ConflictWarning, 0, len(conflicts))
	for _, conflict := range conflicts {
		warnings = append(warnings, ConflictWarning{
			ReservationID: conflict.WithReservationID,
			RoomID:        conflict.RoomID,
			Start:         conflict.Start,
			End:           conflict.End,
			OtherStart:    conflict.OtherStart,
			OtherEnd:      conflict.OtherEnd,
		})
	}
	return warnings
}

func validateReservationInput(input ReservationInput) *ValidationError {
	vErr := &ValidationError{}

	if strings.TrimSpace(input.Title) == "" {
		vErr.add("title", "title is required")
	}
	if input.Start.IsZero() {
		vErr.add("start", "start is required")
	}
	if input.End.IsZero() {
		vErr.add("end", "end is required")
	}
	if !input.Start.IsZero() && !input.End.IsZero() && !normalizeTime(input.End).After(normalizeTime(input.Start)) {
		vErr.addCause("end", fmt.Errorf("end must be after start: %w", recurrence.ErrInvalidDuration))
	}
	if input.EndRecurringPeriod != nil && input.EndRecurringPeriod.Before(input.Start) {
		vErr.add("end_recurring_period", "end of recurrence must not precede start")
	}

	return vErr
}

// buildRule turns rule input into a validated rule. An RRULE value takes
// precedence over the discrete fields.
func buildRule(input *RuleInput) (*recurrence.Rule, *ValidationError) {
	if input == nil {
		return nil, nil
	}
	vErr := &ValidationError{}

	if strings.TrimSpace(input.RRule) != "" {
		rule, err := recurrence.ParseRRule(input.RRule)
		if err != nil {
			vErr.addCause("rule", err)
			return nil, vErr
		}
		rule.Until = normalizeOptionalTime(rule.Until)
		return &rule, nil
	}

	freq, err := recurrence.ParseFrequency(input.Frequency)
	if err != nil {
		vErr.addCause("rule.frequency", err)
		return nil, vErr
	}
	rule := recurrence.NewRule(freq)
	if input.Interval != 0 {
		rule.Interval = input.Interval
	}
	rule.Count = input.Count
	rule.Until = normalizeOptionalTime(input.Until)
	if err := rule.Validate(); err != nil {
		vErr.addCause("rule", err)
		return nil, vErr
	}
	return &rule, nil
}

func mapReservationRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, persistence.ErrDuplicate) {
		return ErrAlreadyExists
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		vErr := &ValidationError{}
		vErr.add("time", "start must be before end")
		return vErr
	}
	if errors.Is(err, persistence.ErrForeignKeyViolation) {
		vErr := &ValidationError{}
		vErr.add("room_id", "room does not exist")
		return vErr
	}
	return err
}
