package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/room-scheduler/internal/persistence"
)

type roomRepoStub struct {
	createErr error
	created   Room

	getRoom Room
	getErr  error

	updateErr error
	updated   Room

	deleteErr error
	deletedID string

	list    []Room
	listErr error
}

func (r *roomRepoStub) CreateRoom(ctx context.Context, room Room) (Room, error) {
	if r.createErr != nil {
		return Room{}, r.createErr
	}
	r.created = room
	return room, nil
}

func (r *roomRepoStub) GetRoom(ctx context.Context, id string) (Room, error) {
	if r.getErr != nil {
		return Room{}, r.getErr
	}
	if r.getRoom.ID == "" {
		return Room{}, ErrNotFound
	}
	return r.getRoom, nil
}

func (r *roomRepoStub) UpdateRoom(ctx context.Context, room Room) (Room, error) {
	if r.updateErr != nil {
		return Room{}, r.updateErr
	}
	r.updated = room
	return room, nil
}

func (r *roomRepoStub) DeleteRoom(ctx context.Context, id string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.deletedID = id
	return nil
}

func (r *roomRepoStub) ListRooms(ctx context.Context) ([]Room, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	if len(r.list) == 0 {
		return nil, nil
	}
	out := make([]Room, len(r.list))
	copy(out, r.list)
	return out, nil
}

var roomClock = time.Date(2024, 4, 1, 9, 0, 0, 500, time.UTC)

func TestRoomService_CreateRoom(t *testing.T) {
	t.Run("validates required attributes", func(t *testing.T) {
		svc := NewRoomService(&roomRepoStub{}, nil, nil)

		_, err := svc.CreateRoom(context.Background(), RoomInput{Name: " ", Capacity: 0})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "name")
		assert.Contains(t, vErr.FieldErrors, "location")
		assert.Contains(t, vErr.FieldErrors, "capacity")
	})

	t.Run("persists trimmed rooms", func(t *testing.T) {
		repo := &roomRepoStub{}
		svc := NewRoomService(repo, func() string { return "room-1" }, func() time.Time { return roomClock })

		room, err := svc.CreateRoom(context.Background(), RoomInput{Name: " Aurora ", Location: " 3F ", Capacity: 8})
		require.NoError(t, err)
		assert.Equal(t, "room-1", room.ID)
		assert.Equal(t, "Aurora", repo.created.Name)
		assert.Equal(t, "3F", repo.created.Location)
		assert.Equal(t, roomClock.Truncate(time.Second), repo.created.CreatedAt)
		assert.Equal(t, repo.created.CreatedAt, repo.created.UpdatedAt)
	})

	t.Run("maps repository errors to sentinel failures", func(t *testing.T) {
		svc := NewRoomService(&roomRepoStub{createErr: persistence.ErrDuplicate}, nil, nil)

		_, err := svc.CreateRoom(context.Background(), RoomInput{Name: "Aurora", Location: "3F", Capacity: 8})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("requires a repository", func(t *testing.T) {
		svc := NewRoomService(nil, nil, nil)

		_, err := svc.CreateRoom(context.Background(), RoomInput{Name: "Aurora", Location: "3F", Capacity: 8})
		assert.Error(t, err)
	})
}

func TestRoomService_UpdateRoom(t *testing.T) {
	t.Run("propagates ErrNotFound when the room is missing", func(t *testing.T) {
		svc := NewRoomService(&roomRepoStub{getErr: persistence.ErrNotFound}, nil, nil)

		_, err := svc.UpdateRoom(context.Background(), "room-9", RoomInput{Name: "Aurora", Location: "3F", Capacity: 8})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("validates required attributes", func(t *testing.T) {
		svc := NewRoomService(&roomRepoStub{getRoom: Room{ID: "room-1"}}, nil, nil)

		_, err := svc.UpdateRoom(context.Background(), "room-1", RoomInput{})
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("persists updated attributes", func(t *testing.T) {
		created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		repo := &roomRepoStub{getRoom: Room{ID: "room-1", Name: "Old", Location: "1F", Capacity: 2, CreatedAt: created}}
		svc := NewRoomService(repo, nil, func() time.Time { return roomClock })

		room, err := svc.UpdateRoom(context.Background(), "room-1", RoomInput{Name: "New", Location: "2F", Capacity: 6})
		require.NoError(t, err)
		assert.Equal(t, "New", room.Name)
		assert.Equal(t, 6, room.Capacity)
		assert.Equal(t, created, room.CreatedAt)
		assert.Equal(t, roomClock.Truncate(time.Second), room.UpdatedAt)
	})
}

func TestRoomService_GetAndDeleteRoom(t *testing.T) {
	ctx := context.Background()

	svc := NewRoomService(&roomRepoStub{}, nil, nil)
	_, err := svc.GetRoom(ctx, "room-1")
	assert.ErrorIs(t, err, ErrNotFound)

	failing := NewRoomService(&roomRepoStub{deleteErr: persistence.ErrNotFound}, nil, nil)
	assert.ErrorIs(t, failing.DeleteRoom(ctx, "room-1"), ErrNotFound)

	repo := &roomRepoStub{}
	require.NoError(t, NewRoomService(repo, nil, nil).DeleteRoom(ctx, "room-1"))
	assert.Equal(t, "room-1", repo.deletedID)
}

func TestRoomService_ListRooms(t *testing.T) {
	t.Run("returns rooms in deterministic order", func(t *testing.T) {
		repo := &roomRepoStub{list: []Room{
			{ID: "room-3", Name: "borealis"},
			{ID: "room-2", Name: "Aurora"},
			{ID: "room-1", Name: "aurora"},
		}}
		svc := NewRoomService(repo, nil, nil)

		rooms, err := svc.ListRooms(context.Background())
		require.NoError(t, err)
		require.Len(t, rooms, 3)
		assert.Equal(t, []string{"room-1", "room-2", "room-3"}, []string{rooms[0].ID, rooms[1].ID, rooms[2].ID})
	})

	t.Run("requires a repository", func(t *testing.T) {
		_, err := NewRoomService(nil, nil, nil).ListRooms(context.Background())
		assert.ErrorIs(t, err, errRoomServiceUnavailable)
	})

	t.Run("propagates repository failures", func(t *testing.T) {
		boom := errors.New("boom")
		svc := NewRoomService(&roomRepoStub{listErr: boom}, nil, nil)

		_, err := svc.ListRooms(context.Background())
		assert.ErrorIs(t, err, boom)
	})
}

func TestMapRoomRepoError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := map[string]struct {
		err  error
		want error
	}{
		"not found":   {err: persistence.ErrNotFound, want: ErrNotFound},
		"duplicate":   {err: persistence.ErrDuplicate, want: ErrAlreadyExists},
		"passthrough": {err: boom, want: boom},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, mapRoomRepoError(tt.err), tt.want)
		})
	}

	var vErr *ValidationError
	assert.ErrorAs(t, mapRoomRepoError(persistence.ErrConstraintViolation), &vErr)
	assert.Nil(t, mapRoomRepoError(nil))
}
