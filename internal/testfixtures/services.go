package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/room-scheduler/internal/application"
	"github.com/example/room-scheduler/internal/persistence/store"
	"github.com/example/room-scheduler/internal/recurrence"
)

// ServiceFactory builds application services whose identifiers and
// timestamps are predictable.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

type ServiceFactoryOption func(*ServiceFactory)

func WithClock(clock *Clock) ServiceFactoryOption {
	return func(f *ServiceFactory) { f.Clock = clock }
}

func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(f *ServiceFactory) { f.IDGenerator = generator }
}

// NewServiceFactory defaults to a still clock at ReferenceTime and "id-NNN"
// identifiers.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	f := &ServiceFactory{}
	for _, opt := range opts {
		opt(f)
	}
	if f.Clock == nil {
		f.Clock = NewClock(time.Time{})
	}
	if f.IDGenerator == nil {
		f.IDGenerator = NewIDGenerator("id")
	}
	return f
}

// Services is the pair of services the command line drives.
type Services struct {
	Rooms        *application.RoomService
	Reservations *application.ReservationService
}

// NewServices shares one identifier sequence and clock between both services.
func (f *ServiceFactory) NewServices(s store.Store, logger *slog.Logger, opts ...application.ReservationServiceOption) Services {
	nextID, now := f.IDGenerator.NextFunc(), f.Clock.NowFunc()
	roomRepo := application.NewRoomRepositoryAdapter(s)

	reservations := application.NewReservationService(
		application.NewReservationRepositoryAdapter(s),
		roomRepo,
		application.NewExceptionStoreAdapter(s),
		recurrence.NewEngine(),
		nextID,
		now,
		append([]application.ReservationServiceOption{application.WithLogger(logger)}, opts...)...,
	)
	return Services{
		Rooms:        application.NewRoomServiceWithLogger(roomRepo, nextID, now, logger),
		Reservations: reservations,
	}
}
