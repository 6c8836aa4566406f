package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"

	"github.com/example/room-scheduler/internal/occurrence"
	"github.com/example/room-scheduler/internal/persistence"
	"github.com/example/room-scheduler/internal/recurrence"
)

// RoomRepositoryAdapter exposes a persistence room repository to RoomService.
type RoomRepositoryAdapter struct {
	repo persistence.RoomRepository
}

// NewRoomRepositoryAdapter wraps repo.
func NewRoomRepositoryAdapter(repo persistence.RoomRepository) *RoomRepositoryAdapter {
	return &RoomRepositoryAdapter{repo: repo}
}

func (a *RoomRepositoryAdapter) CreateRoom(ctx context.Context, room Room) (Room, error) {
	if err := a.repo.CreateRoom(ctx, toPersistenceRoom(room)); err != nil {
		return Room{}, err
	}
	return a.GetRoom(ctx, room.ID)
}

func (a *RoomRepositoryAdapter) GetRoom(ctx context.Context, id string) (Room, error) {
	stored, err := a.repo.GetRoom(ctx, id)
	if err != nil {
		return Room{}, err
	}
	return toApplicationRoom(stored), nil
}

func (a *RoomRepositoryAdapter) UpdateRoom(ctx context.Context, room Room) (Room, error) {
	if err := a.repo.UpdateRoom(ctx, toPersistenceRoom(room)); err != nil {
		return Room{}, err
	}
	return a.GetRoom(ctx, room.ID)
}

func (a *RoomRepositoryAdapter) DeleteRoom(ctx context.Context, id string) error {
	return a.repo.DeleteRoom(ctx, id)
}

func (a *RoomRepositoryAdapter) ListRooms(ctx context.Context) ([]Room, error) {
	models, err := a.repo.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	rooms := make([]Room, 0, len(models))
	for _, model := range models {
		rooms = append(rooms, toApplicationRoom(model))
	}
	return rooms, nil
}

// RoomExists reports whether the room is in the catalog.
func (a *RoomRepositoryAdapter) RoomExists(ctx context.Context, id string) (bool, error) {
	if _, err := a.repo.GetRoom(ctx, id); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ReservationRepositoryAdapter exposes a persistence reservation repository
// to ReservationService and to the occurrence reconciler.
type ReservationRepositoryAdapter struct {
	repo persistence.ReservationRepository
}

// NewReservationRepositoryAdapter wraps repo.
func NewReservationRepositoryAdapter(repo persistence.ReservationRepository) *ReservationRepositoryAdapter {
	return &ReservationRepositoryAdapter{repo: repo}
}

func (a *ReservationRepositoryAdapter) CreateReservation(ctx context.Context, res Reservation) (Reservation, error) {
	if err := a.repo.CreateReservation(ctx, toPersistenceReservation(res)); err != nil {
		return Reservation{}, err
	}
	return a.GetReservation(ctx, res.ID)
}

func (a *ReservationRepositoryAdapter) GetReservation(ctx context.Context, id string) (Reservation, error) {
	stored, err := a.repo.GetReservation(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	return toApplicationReservation(stored)
}

func (a *ReservationRepositoryAdapter) UpdateReservation(ctx context.Context, res Reservation) (Reservation, error) {
	if err := a.repo.UpdateReservation(ctx, toPersistenceReservation(res)); err != nil {
		return Reservation{}, err
	}
	return a.GetReservation(ctx, res.ID)
}

func (a *ReservationRepositoryAdapter) DeleteReservation(ctx context.Context, id string) error {
	return a.repo.DeleteReservation(ctx, id)
}

func (a *ReservationRepositoryAdapter) ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	models, err := a.repo.ListReservations(ctx, persistence.ReservationFilter{
		RoomID:       filter.RoomID,
		StartsBefore: filter.StartsBefore,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Reservation, 0, len(models))
	for _, model := range models {
		res, err := toApplicationReservation(model)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// LoadReservation returns the definition occurrences are generated from.
func (a *ReservationRepositoryAdapter) LoadReservation(ctx context.Context, id string) (occurrence.Reservation, error) {
	res, err := a.GetReservation(ctx, id)
	if err != nil {
		return occurrence.Reservation{}, err
	}
	return res.Definition(), nil
}

// ExceptionStoreAdapter implements occurrence.ExceptionStore over a
// persistence exception repository.
type ExceptionStoreAdapter struct {
	repo persistence.ExceptionRepository
}

// NewExceptionStoreAdapter wraps repo.
func NewExceptionStoreAdapter(repo persistence.ExceptionRepository) *ExceptionStoreAdapter {
	return &ExceptionStoreAdapter{repo: repo}
}

func (a *ExceptionStoreAdapter) FindException(ctx context.Context, reservationID string, originalStart time.Time) (mo.Option[occurrence.ExceptionRecord], error) {
	stored, err := a.repo.GetException(ctx, reservationID, originalStart)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return mo.None[occurrence.ExceptionRecord](), nil
		}
		return mo.None[occurrence.ExceptionRecord](), err
	}
	return mo.Some(toExceptionRecord(stored)), nil
}

func (a *ExceptionStoreAdapter) ListExceptions(ctx context.Context, reservationID string) ([]occurrence.ExceptionRecord, error) {
	models, err := a.repo.ListExceptions(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	records := make([]occurrence.ExceptionRecord, 0, len(models))
	for _, model := range models {
		records = append(records, toExceptionRecord(model))
	}
	return records, nil
}

func (a *ExceptionStoreAdapter) UpsertException(ctx context.Context, record occurrence.ExceptionRecord) (occurrence.ExceptionRecord, error) {
	stored, err := a.repo.UpsertException(ctx, toPersistenceException(record))
	if err != nil {
		return occurrence.ExceptionRecord{}, err
	}
	return toExceptionRecord(stored), nil
}

// DeleteException removes the record. Deleting an absent record succeeds.
func (a *ExceptionStoreAdapter) DeleteException(ctx context.Context, reservationID string, originalStart time.Time) error {
	err := a.repo.DeleteException(ctx, reservationID, originalStart)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	return err
}

func toApplicationRoom(model persistence.Room) Room {
	return Room{
		ID:        model.ID,
		Name:      model.Name,
		Location:  model.Location,
		Capacity:  model.Capacity,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

func toPersistenceRoom(room Room) persistence.Room {
	return persistence.Room{
		ID:        room.ID,
		Name:      room.Name,
		Location:  room.Location,
		Capacity:  room.Capacity,
		CreatedAt: room.CreatedAt,
		UpdatedAt: room.UpdatedAt,
	}
}

func toApplicationReservation(model persistence.Reservation) (Reservation, error) {
	res := Reservation{
		ID:                 model.ID,
		Title:              model.Title,
		Start:              model.Start,
		End:                model.End,
		RoomID:             cloneString(model.RoomID),
		EndRecurringPeriod: cloneTime(model.EndRecurringPeriod),
		CreatedAt:          model.CreatedAt,
		UpdatedAt:          model.UpdatedAt,
	}
	if model.Frequency == "" {
		return res, nil
	}
	freq, err := recurrence.ParseFrequency(model.Frequency)
	if err != nil {
		return Reservation{}, fmt.Errorf("reservation %s: %w", model.ID, err)
	}
	res.Rule = &recurrence.Rule{
		Frequency: freq,
		Interval:  model.Interval,
		Count:     model.Count,
		Until:     cloneTime(model.Until),
	}
	return res, nil
}

func toPersistenceReservation(res Reservation) persistence.Reservation {
	model := persistence.Reservation{
		ID:                 res.ID,
		Title:              res.Title,
		Start:              res.Start,
		End:                res.End,
		RoomID:             cloneString(res.RoomID),
		Interval:           1,
		EndRecurringPeriod: cloneTime(res.EndRecurringPeriod),
		CreatedAt:          res.CreatedAt,
		UpdatedAt:          res.UpdatedAt,
	}
	if res.Rule != nil {
		model.Frequency = res.Rule.Frequency.String()
		model.Interval = res.Rule.Interval
		model.Count = res.Rule.Count
		model.Until = cloneTime(res.Rule.Until)
	}
	return model
}

func toExceptionRecord(model persistence.OccurrenceException) occurrence.ExceptionRecord {
	return occurrence.ExceptionRecord{
		ID:            model.ID,
		ReservationID: model.ReservationID,
		OriginalStart: model.OriginalStart,
		OriginalEnd:   model.OriginalEnd,
		Start:         model.Start,
		End:           model.End,
		Cancelled:     model.Cancelled,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}
}

func toPersistenceException(record occurrence.ExceptionRecord) persistence.OccurrenceException {
	return persistence.OccurrenceException{
		ID:            record.ID,
		ReservationID: record.ReservationID,
		OriginalStart: record.OriginalStart,
		OriginalEnd:   record.OriginalEnd,
		Start:         record.Start,
		End:           record.End,
		Cancelled:     record.Cancelled,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
