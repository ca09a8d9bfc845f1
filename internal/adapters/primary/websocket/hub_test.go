package websocket

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soilcycle/compost-backend/internal/core/domain"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(50*time.Millisecond, slog.New(slog.DiscardHandler))
}

func newTestClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	return NewClient(hub, nil, uuid.New(), nil, slog.New(slog.DiscardHandler))
}

// receiveMessage pops the next queued message or fails the test.
func receiveMessage(t *testing.T, c *Client) ServerMessage {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return ServerMessage{}
	}
}

func TestHub_RegisterSendsFeedStatus(t *testing.T) {
	hub := newTestHub(t)
	hub.feedLive.Store(true)

	client := newTestClient(t, hub)
	hub.registerClient(client)

	msg := receiveMessage(t, client)
	assert.Equal(t, MessageTypeStatus, msg.Type)
	require.NotNil(t, msg.FeedLive)
	assert.True(t, *msg.FeedLive)

	assert.Equal(t, 1, hub.GetClientCount())
	assert.True(t, hub.IsUserConnected(client.UserID))
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient(t, hub)
	hub.registerClient(client)

	room := domain.TicketRoom(42)

	hub.Join(client.ConnectionID, room)
	hub.Join(client.ConnectionID, room)

	assert.Equal(t, 1, hub.GetClientsInRoom(room))
	assert.Equal(t, 1, hub.GetRoomCount())
	assert.True(t, client.InRoom(room))
}

func TestHub_JoinUnknownConnectionIsIgnored(t *testing.T) {
	hub := newTestHub(t)

	hub.Join("no-such-connection", domain.TicketRoom(1))

	assert.Equal(t, 0, hub.GetRoomCount())
}

func TestHub_BroadcastReachesOnlyRoomMembers(t *testing.T) {
	hub := newTestHub(t)

	member := newTestClient(t, hub)
	bystander := newTestClient(t, hub)
	hub.registerClient(member)
	hub.registerClient(bystander)

	// Drain the status messages sent on register
	receiveMessage(t, member)
	receiveMessage(t, bystander)

	hub.Join(member.ConnectionID, domain.TicketRoom(42))
	hub.Join(bystander.ConnectionID, domain.TicketRoom(43))

	hub.broadcastEvent(domain.Event{
		Kind:     domain.EventMessageCreated,
		RoomKey:  domain.TicketRoom(42),
		Payload:  json.RawMessage(`{"id":"7"}`),
		SourceID: "7",
	})

	msg := receiveMessage(t, member)
	assert.Equal(t, MessageTypeEvent, msg.Type)
	assert.Equal(t, string(domain.EventMessageCreated), msg.Kind)
	assert.Equal(t, "ticket:42", msg.Room)
	assert.Equal(t, "7", msg.SourceID)
	assert.JSONEq(t, `{"id":"7"}`, string(msg.Payload))

	select {
	case unexpected := <-bystander.Send:
		t.Fatalf("bystander received %q message for a room it never joined", unexpected.Type)
	default:
	}
}

func TestHub_TwoConnectionsSameRoomBothReceive(t *testing.T) {
	hub := newTestHub(t)
	machineID := uuid.New()
	room := domain.MachineRoom(machineID)

	first := newTestClient(t, hub)
	second := newTestClient(t, hub)
	hub.registerClient(first)
	hub.registerClient(second)
	receiveMessage(t, first)
	receiveMessage(t, second)

	hub.Join(first.ConnectionID, room)
	hub.Join(second.ConnectionID, room)

	hub.broadcastEvent(domain.Event{
		Kind:     domain.EventNotificationCreated,
		RoomKey:  room,
		Payload:  json.RawMessage(`{"code":"BIN_FULL"}`),
		SourceID: "11",
	})

	for _, client := range []*Client{first, second} {
		msg := receiveMessage(t, client)
		assert.Equal(t, MessageTypeEvent, msg.Type)
		assert.Equal(t, room.String(), msg.Room)
	}
}

func TestHub_UnregisterCleansUpMemberships(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient(t, hub)
	other := newTestClient(t, hub)
	hub.registerClient(client)
	hub.registerClient(other)

	room := domain.TicketRoom(42)
	hub.Join(client.ConnectionID, room)
	hub.Join(other.ConnectionID, room)

	hub.unregisterClient(client)

	assert.Equal(t, 1, hub.GetClientCount())
	assert.Equal(t, 1, hub.GetClientsInRoom(room))
	assert.False(t, hub.IsUserConnected(client.UserID))

	// Unregistering again is a no-op
	hub.unregisterClient(client)
	assert.Equal(t, 1, hub.GetClientCount())

	// Last member leaving removes the room entirely
	hub.unregisterClient(other)
	assert.Equal(t, 0, hub.GetRoomCount())
}

func TestHub_LeaveRoom(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient(t, hub)
	hub.registerClient(client)

	room := domain.TicketRoom(7)
	hub.Join(client.ConnectionID, room)
	require.Equal(t, 1, hub.GetClientsInRoom(room))

	hub.Leave(client.ConnectionID, room)
	assert.Equal(t, 0, hub.GetClientsInRoom(room))
	assert.False(t, client.InRoom(room))

	// Leaving a room never joined is a no-op
	hub.Leave(client.ConnectionID, domain.TicketRoom(8))
}

func TestHub_BroadcastFrameExcludesSender(t *testing.T) {
	hub := newTestHub(t)
	sender := newTestClient(t, hub)
	peer := newTestClient(t, hub)
	hub.registerClient(sender)
	hub.registerClient(peer)
	receiveMessage(t, sender)
	receiveMessage(t, peer)

	room := domain.TicketRoom(42)
	hub.Join(sender.ConnectionID, room)
	hub.Join(peer.ConnectionID, room)

	hub.BroadcastFrame(room, sender.ConnectionID, json.RawMessage(`{"typing":true}`))

	msg := receiveMessage(t, peer)
	assert.Equal(t, MessageTypeRoomFrame, msg.Type)
	assert.Equal(t, room.String(), msg.Room)
	assert.JSONEq(t, `{"typing":true}`, string(msg.Payload))

	select {
	case <-sender.Send:
		t.Fatal("sender received its own frame")
	default:
	}
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	hub := newTestHub(t)
	slow := newTestClient(t, hub)
	hub.registerClient(slow)
	receiveMessage(t, slow)

	room := domain.TicketRoom(42)
	hub.Join(slow.ConnectionID, room)

	// Fill the send buffer so the next broadcast times out
	for i := 0; i < cap(slow.Send); i++ {
		require.True(t, slow.trySend(ServerMessage{Type: MessageTypePong}))
	}

	hub.broadcastEvent(domain.Event{
		Kind:     domain.EventMessageCreated,
		RoomKey:  room,
		Payload:  json.RawMessage(`{}`),
		SourceID: "1",
	})

	assert.Equal(t, 0, hub.GetClientCount())
	assert.Equal(t, 0, hub.GetClientsInRoom(room))

	select {
	case <-slow.done:
	default:
		t.Fatal("expected dropped client to be closed")
	}
}

func TestHub_SetFeedLiveNotifiesClients(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient(t, hub)
	hub.registerClient(client)

	// Initial status from register
	msg := receiveMessage(t, client)
	require.NotNil(t, msg.FeedLive)
	assert.False(t, *msg.FeedLive)

	hub.SetFeedLive(true)
	assert.True(t, hub.FeedLive())

	msg = receiveMessage(t, client)
	assert.Equal(t, MessageTypeStatus, msg.Type)
	require.NotNil(t, msg.FeedLive)
	assert.True(t, *msg.FeedLive)

	// Repeated transition to the same state is silent
	hub.SetFeedLive(true)
	select {
	case <-client.Send:
		t.Fatal("duplicate status pushed for unchanged feed state")
	default:
	}
}

func TestHub_RunRoutesBroadcasts(t *testing.T) {
	hub := newTestHub(t)
	go hub.Run()

	client := newTestClient(t, hub)
	hub.Register <- client
	receiveMessage(t, client)

	room := domain.MachineRoom(uuid.New())
	hub.Join(client.ConnectionID, room)

	require.NoError(t, hub.Broadcast(domain.Event{
		Kind:     domain.EventNotificationCreated,
		RoomKey:  room,
		Payload:  json.RawMessage(`{"code":"CYCLE_DONE"}`),
		SourceID: "3",
	}))

	msg := receiveMessage(t, client)
	assert.Equal(t, MessageTypeEvent, msg.Type)
	assert.Equal(t, room.String(), msg.Room)

	hub.Unregister <- client
	require.Eventually(t, func() bool {
		return hub.GetClientCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHub_RejoinAfterFeedRestartKeepsMemberships(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient(t, hub)
	hub.registerClient(client)
	receiveMessage(t, client)

	room := domain.TicketRoom(42)
	hub.Join(client.ConnectionID, room)

	// A feed drop and recovery must not disturb room membership
	hub.SetFeedLive(true)
	receiveMessage(t, client)
	hub.SetFeedLive(false)
	receiveMessage(t, client)
	hub.SetFeedLive(true)
	receiveMessage(t, client)

	assert.Equal(t, 1, hub.GetClientsInRoom(room))

	hub.broadcastEvent(domain.Event{
		Kind:     domain.EventTicketUpdated,
		RoomKey:  room,
		Payload:  json.RawMessage(`{"status":"RESOLVED"}`),
		SourceID: "42",
	})

	msg := receiveMessage(t, client)
	assert.Equal(t, MessageTypeEvent, msg.Type)
}
