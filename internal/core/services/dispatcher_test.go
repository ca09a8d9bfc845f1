package services_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
	"github.com/soilcycle/compost-backend/internal/core/mocks"
	"github.com/soilcycle/compost-backend/internal/core/services"
)

func newTestDispatcher(broadcaster *mocks.MockEventBroadcaster, registry *mocks.MockRoomRegistry) *services.Dispatcher {
	return services.NewDispatcher(broadcaster, registry, slog.New(slog.DiscardHandler))
}

func TestDispatcher_HandleEvent(t *testing.T) {
	t.Run("routes a valid event to its room", func(t *testing.T) {
		broadcaster := mocks.NewMockEventBroadcaster()
		registry := mocks.NewMockRoomRegistry()
		d := newTestDispatcher(broadcaster, registry)

		event := domain.Event{
			Kind:     domain.EventMessageCreated,
			RoomKey:  domain.TicketRoom(42),
			Payload:  json.RawMessage(`{"id":"7"}`),
			SourceID: "7",
		}
		broadcaster.On("Broadcast", event).Return(nil)

		d.HandleEvent(event)

		broadcaster.AssertExpectations(t)
	})

	t.Run("drops an event with an unknown kind", func(t *testing.T) {
		broadcaster := mocks.NewMockEventBroadcaster()
		registry := mocks.NewMockRoomRegistry()
		d := newTestDispatcher(broadcaster, registry)

		d.HandleEvent(domain.Event{
			Kind:    domain.EventKind("ROW_DELETED"),
			RoomKey: domain.TicketRoom(42),
		})

		broadcaster.AssertNotCalled(t, "Broadcast")
	})

	t.Run("drops an event without a room key", func(t *testing.T) {
		broadcaster := mocks.NewMockEventBroadcaster()
		registry := mocks.NewMockRoomRegistry()
		d := newTestDispatcher(broadcaster, registry)

		d.HandleEvent(domain.Event{Kind: domain.EventTicketUpdated})

		broadcaster.AssertNotCalled(t, "Broadcast")
	})
}

func TestDispatcher_Run(t *testing.T) {
	t.Run("delivers events in arrival order until cancelled", func(t *testing.T) {
		broadcaster := mocks.NewMockEventBroadcaster()
		registry := mocks.NewMockRoomRegistry()
		d := newTestDispatcher(broadcaster, registry)

		var delivered []string
		done := make(chan struct{})
		broadcaster.On("Broadcast", mock.AnythingOfType("domain.Event")).
			Run(func(args mock.Arguments) {
				event := args.Get(0).(domain.Event)
				delivered = append(delivered, event.SourceID)
				if len(delivered) == 3 {
					close(done)
				}
			}).Return(nil)

		events := make(chan domain.Event, 3)
		for _, id := range []string{"1", "2", "3"} {
			events <- domain.Event{
				Kind:     domain.EventNotificationCreated,
				RoomKey:  domain.TicketRoom(1),
				SourceID: id,
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		go d.Run(ctx, events)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for deliveries")
		}
		cancel()

		assert.Equal(t, []string{"1", "2", "3"}, delivered)
	})

	t.Run("stops when the event channel closes", func(t *testing.T) {
		broadcaster := mocks.NewMockEventBroadcaster()
		registry := mocks.NewMockRoomRegistry()
		d := newTestDispatcher(broadcaster, registry)

		events := make(chan domain.Event)
		close(events)

		finished := make(chan struct{})
		go func() {
			d.Run(context.Background(), events)
			close(finished)
		}()

		select {
		case <-finished:
		case <-time.After(time.Second):
			t.Fatal("run did not return after channel close")
		}
	})
}

func TestDispatcher_OnClientJoin(t *testing.T) {
	connID := uuid.NewString()

	t.Run("joins a well-formed room key", func(t *testing.T) {
		broadcaster := mocks.NewMockEventBroadcaster()
		registry := mocks.NewMockRoomRegistry()
		d := newTestDispatcher(broadcaster, registry)

		registry.On("Join", connID, domain.TicketRoom(42)).Return()

		require.NoError(t, d.OnClientJoin(connID, "ticket:42"))
		registry.AssertExpectations(t)
	})

	t.Run("rejects a malformed room key", func(t *testing.T) {
		broadcaster := mocks.NewMockEventBroadcaster()
		registry := mocks.NewMockRoomRegistry()
		d := newTestDispatcher(broadcaster, registry)

		err := d.OnClientJoin(connID, "kitchen:42")

		assert.ErrorIs(t, err, apperrors.ErrInvalidRoomKey)
		registry.AssertNotCalled(t, "Join")
	})
}

func TestDispatcher_OnClientFrame(t *testing.T) {
	connID := uuid.NewString()
	payload := json.RawMessage(`{"temp":61.2}`)

	t.Run("fans a frame out excluding the sender", func(t *testing.T) {
		broadcaster := mocks.NewMockEventBroadcaster()
		registry := mocks.NewMockRoomRegistry()
		d := newTestDispatcher(broadcaster, registry)

		machineID := uuid.New()
		room := domain.MachineRoom(machineID)
		registry.On("BroadcastFrame", room, connID, payload).Return()

		require.NoError(t, d.OnClientFrame(connID, room.String(), payload))
		registry.AssertExpectations(t)
	})

	t.Run("rejects a malformed room key", func(t *testing.T) {
		broadcaster := mocks.NewMockEventBroadcaster()
		registry := mocks.NewMockRoomRegistry()
		d := newTestDispatcher(broadcaster, registry)

		err := d.OnClientFrame(connID, "machine:not-a-uuid", payload)

		assert.ErrorIs(t, err, apperrors.ErrInvalidRoomKey)
		registry.AssertNotCalled(t, "BroadcastFrame")
	})
}
