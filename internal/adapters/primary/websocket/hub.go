package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/soilcycle/compost-backend/internal/core/domain"
	"github.com/soilcycle/compost-backend/internal/core/ports"
)

// ServerMessage is the wire format for everything the server pushes to a
// connection: relayed feed events, peer frames, feed status, and errors.
type ServerMessage struct {
	Type     string          `json:"type"`
	Kind     string          `json:"kind,omitempty"`
	Room     string          `json:"room,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SourceID string          `json:"sourceId,omitempty"`
	FeedLive *bool           `json:"feedLive,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Server message types.
const (
	MessageTypeEvent     = "event"
	MessageTypeRoomFrame = "room_frame"
	MessageTypeStatus    = "status"
	MessageTypeError     = "error"
	MessageTypePong      = "pong"
)

// Hub maintains the set of active Clients and their room memberships, and
// fans relayed events out to them.
type Hub struct {
	// clients maps connection IDs to their client
	clients map[string]*Client

	// userClients maps user IDs to their active connections
	// A single user can have multiple connections (multiple tabs/devices)
	userClients map[uuid.UUID]map[*Client]bool

	// rooms maps room keys to joined clients
	rooms map[domain.RoomKey]map[*Client]bool

	// Broadcast channel for relayed feed events
	broadcast chan domain.Event

	// Register requests from clients
	Register chan *Client

	// Unregister requests from clients
	Unregister chan *Client

	// sendTimeout bounds how long a broadcast waits on a slow connection
	// before treating it as dead
	sendTimeout time.Duration

	// feedLive tracks whether the change feed subscription is producing
	feedLive atomic.Bool

	// mu protects the clients, userClients and rooms maps
	mu sync.RWMutex

	logger *slog.Logger
}

// Ensure Hub implements the relay ports.
var (
	_ ports.EventBroadcaster = (*Hub)(nil)
	_ ports.RoomRegistry     = (*Hub)(nil)
	_ ports.FeedStatusSink   = (*Hub)(nil)
)

// NewHub creates a new WebSocket hub
func NewHub(sendTimeout time.Duration, logger *slog.Logger) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = 2 * time.Second
	}
	return &Hub{
		clients:     make(map[string]*Client),
		userClients: make(map[uuid.UUID]map[*Client]bool),
		rooms:       make(map[domain.RoomKey]map[*Client]bool),
		broadcast:   make(chan domain.Event, 256),
		Register:    make(chan *Client),
		Unregister:  make(chan *Client),
		sendTimeout: sendTimeout,
		logger:      logger.With("component", "websocket_hub"),
	}
}

// Broadcast sends an event to the hub's internal broadcast channel.
// This method implements the ports.EventBroadcaster interface.
func (h *Hub) Broadcast(event domain.Event) error {
	select {
	case h.broadcast <- event:
		return nil
	default:
		h.logger.Warn("broadcast channel full, dropping event",
			"kind", string(event.Kind),
			"room_key", event.RoomKey.String(),
		)
		return nil
	}
}

// Run starts the hub's event loop. This MUST be run as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

// SetFeedLive records a feed liveness transition and pushes the new status
// to every connected client. Implements ports.FeedStatusSink.
func (h *Hub) SetFeedLive(live bool) {
	previous := h.feedLive.Swap(live)
	if previous == live {
		return
	}

	h.logger.Info("change feed status changed", "live", live)

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	msg := h.statusMessage()
	for _, client := range clients {
		client.trySend(msg)
	}
}

// FeedLive reports whether the change feed subscription is currently live.
func (h *Hub) FeedLive() bool {
	return h.feedLive.Load()
}

func (h *Hub) statusMessage() ServerMessage {
	live := h.feedLive.Load()
	return ServerMessage{
		Type:     MessageTypeStatus,
		FeedLive: &live,
	}
}

// registerClient adds a client to the hub and tells it the current feed
// status.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ConnectionID] = client
	if h.userClients[client.UserID] == nil {
		h.userClients[client.UserID] = make(map[*Client]bool)
	}
	h.userClients[client.UserID][client] = true
	total := len(h.userClients[client.UserID])
	h.mu.Unlock()

	client.trySend(h.statusMessage())

	h.logger.Info("client registered",
		"connection_id", client.ConnectionID,
		"user_id", client.UserID,
		"total_connections", total,
	)
}

// unregisterClient removes a client from the hub and all of its rooms
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()

	if _, ok := h.clients[client.ConnectionID]; !ok {
		// Already unregistered (slow-consumer eviction racing the read
		// pump's own unregister)
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ConnectionID)

	if userClients, ok := h.userClients[client.UserID]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.userClients, client.UserID)
		}
	}

	for _, room := range client.GetRooms() {
		if members, ok := h.rooms[room]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}

	h.mu.Unlock()

	client.CloseSend()

	h.logger.Info("client unregistered",
		"connection_id", client.ConnectionID,
		"user_id", client.UserID,
	)
}

// broadcastEvent sends a relayed event to every client joined to its room.
// A connection that cannot accept the message within the send timeout is
// treated as dead and dropped.
func (h *Hub) broadcastEvent(event domain.Event) {
	h.mu.RLock()
	members, ok := h.rooms[event.RoomKey]
	if !ok {
		h.mu.RUnlock()
		return
	}

	// Copy the client list to avoid holding the lock while sending
	clients := make([]*Client, 0, len(members))
	for client := range members {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	h.logger.Debug("broadcasting event",
		"kind", string(event.Kind),
		"room_key", event.RoomKey.String(),
		"client_count", len(clients),
	)

	msg := ServerMessage{
		Type:     MessageTypeEvent,
		Kind:     string(event.Kind),
		Room:     event.RoomKey.String(),
		Payload:  event.Payload,
		SourceID: event.SourceID,
	}

	for _, client := range clients {
		if !h.sendWithTimeout(client, msg) {
			h.logger.Warn("client too slow, dropping connection",
				"connection_id", client.ConnectionID,
				"user_id", client.UserID,
			)
			h.unregisterClient(client)
		}
	}
}

// sendWithTimeout queues a message on the client's send channel, waiting at
// most the hub's send timeout.
func (h *Hub) sendWithTimeout(client *Client, msg ServerMessage) bool {
	if client.trySend(msg) {
		return true
	}

	timer := time.NewTimer(h.sendTimeout)
	defer timer.Stop()

	return client.sendUntil(msg, timer.C)
}

// Join adds a connection to a room. Implements ports.RoomRegistry. Joining
// an already-joined room is a no-op; an unknown connection id means the
// connection disconnected while the join was in flight.
func (h *Hub) Join(connectionID string, room domain.RoomKey) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connectionID]
	if !ok {
		h.logger.Debug("join for unknown connection, ignoring",
			"connection_id", connectionID,
			"room_key", room.String(),
		)
		return
	}

	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][client] = true
	client.AddRoom(room)

	h.logger.Debug("client joined room",
		"connection_id", connectionID,
		"user_id", client.UserID,
		"room_key", room.String(),
	)
}

// Leave removes a connection from a room. Leaving a room the connection
// never joined is a no-op.
func (h *Hub) Leave(connectionID string, room domain.RoomKey) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connectionID]
	if !ok {
		return
	}

	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	client.RemoveRoom(room)

	h.logger.Debug("client left room",
		"connection_id", connectionID,
		"user_id", client.UserID,
		"room_key", room.String(),
	)
}

// BroadcastFrame fans a client-originated payload out to the room's members,
// excluding the sending connection. Implements ports.RoomRegistry.
func (h *Hub) BroadcastFrame(room domain.RoomKey, senderConnectionID string, payload json.RawMessage) {
	h.mu.RLock()
	members, ok := h.rooms[room]
	if !ok {
		h.mu.RUnlock()
		return
	}

	clients := make([]*Client, 0, len(members))
	for client := range members {
		if client.ConnectionID == senderConnectionID {
			continue
		}
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	msg := ServerMessage{
		Type:    MessageTypeRoomFrame,
		Room:    room.String(),
		Payload: payload,
	}

	for _, client := range clients {
		if !client.trySend(msg) {
			// Frames are fire-and-forget; a full buffer just drops this one
			h.logger.Debug("dropping room frame for slow client",
				"connection_id", client.ConnectionID,
				"room_key", room.String(),
			)
		}
	}
}

// GetClientCount returns the total number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetRoomCount returns the number of active rooms
func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// GetClientsInRoom returns the number of clients joined to a room
func (h *Hub) GetClientsInRoom(room domain.RoomKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if members, ok := h.rooms[room]; ok {
		return len(members)
	}
	return 0
}

// IsUserConnected checks if a user has any active connections
func (h *Hub) IsUserConnected(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.userClients[userID]
	return ok && len(clients) > 0
}
