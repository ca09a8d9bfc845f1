package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soilcycle/compost-backend/internal/core/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// RoomActions is the inbound port the client pumps drive for room joins and
// peer frames. Room key validation lives behind it.
type RoomActions interface {
	OnClientJoin(connectionID, rawKey string) error
	OnClientFrame(connectionID, rawKey string, payload json.RawMessage) error
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Hub *Hub

	// The websocket connection.
	Conn *websocket.Conn

	// ConnectionID uniquely identifies this connection within the hub.
	ConnectionID string

	// UserID of the authenticated user behind this connection.
	UserID uuid.UUID

	// Buffered channel of outbound messages.
	Send chan ServerMessage

	// done is closed when the hub drops this client. Senders select on it
	// instead of risking a send on a closed channel.
	done chan struct{}

	// rooms this connection has joined.
	rooms map[domain.RoomKey]bool

	actions RoomActions

	closeOnce sync.Once

	// mu protects the rooms map
	mu sync.RWMutex

	logger *slog.Logger
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, actions RoomActions, logger *slog.Logger) *Client {
	connectionID := uuid.NewString()
	return &Client{
		Hub:          hub,
		Conn:         conn,
		ConnectionID: connectionID,
		UserID:       userID,
		Send:         make(chan ServerMessage, 256),
		done:         make(chan struct{}),
		rooms:        make(map[domain.RoomKey]bool),
		actions:      actions,
		logger: logger.With(
			"connection_id", connectionID,
			"user_id", userID.String(),
		),
	}
}

// CloseSend marks the client as dropped, exactly once. The write pump
// observes it and closes the underlying connection.
func (c *Client) CloseSend() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// trySend queues a message without blocking. Returns false if the client is
// dropped or its buffer is full.
func (c *Client) trySend(msg ServerMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- msg:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// sendUntil queues a message, waiting until the deadline channel fires.
func (c *Client) sendUntil(msg ServerMessage, deadline <-chan time.Time) bool {
	select {
	case c.Send <- msg:
		return true
	case <-c.done:
		return false
	case <-deadline:
		return false
	}
}

// AddRoom records a room membership
func (c *Client) AddRoom(room domain.RoomKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = true
}

// RemoveRoom removes a room membership
func (c *Client) RemoveRoom(room domain.RoomKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

// InRoom checks if the client has joined a room
func (c *Client) InRoom(room domain.RoomKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[room]
}

// GetRooms returns a copy of all joined rooms
func (c *Client) GetRooms() []domain.RoomKey {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]domain.RoomKey, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// ReadPump pumps messages from the websocket connection to the hub.
// This method runs in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		return
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Error("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		c.handleIncomingMessage(message)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
// This method runs in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case msg := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				return
			}

			if err := c.writeJSON(msg); err != nil {
				c.logger.Error("failed to write message", "error", err)
				return
			}

		case <-c.done:
			// The hub dropped this client. Send a close message.
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
				c.logger.Debug("failed to send close message", "error", err)
			}
			return

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline for ping", "error", err)
				return
			}

			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// writeJSON writes a JSON message to the websocket connection
func (c *Client) writeJSON(msg ServerMessage) error {
	w, err := c.Conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(w).Encode(msg); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}

// --- Incoming Message Handling ---

// ClientMessage is the structure for messages sent from the client.
type ClientMessage struct {
	Type    string          `json:"type"`
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}

// Client message types.
const (
	ClientMessageJoinRoom  = "join_room"
	ClientMessageLeaveRoom = "leave_room"
	ClientMessageRoomFrame = "room_frame"
	ClientMessagePing      = "ping"
)

// handleIncomingMessage processes messages received from the client
func (c *Client) handleIncomingMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("failed to unmarshal client message", "error", err)
		c.sendError(msg.Room, "malformed message")
		return
	}

	switch msg.Type {
	case ClientMessageJoinRoom:
		if err := c.actions.OnClientJoin(c.ConnectionID, msg.Room); err != nil {
			c.logger.Warn("join rejected", "room", msg.Room, "error", err)
			c.sendError(msg.Room, "invalid room key")
		}

	case ClientMessageLeaveRoom:
		room, err := domain.ParseRoomKey(msg.Room)
		if err != nil {
			c.logger.Warn("leave rejected", "room", msg.Room, "error", err)
			c.sendError(msg.Room, "invalid room key")
			return
		}
		c.Hub.Leave(c.ConnectionID, room)

	case ClientMessageRoomFrame:
		if err := c.actions.OnClientFrame(c.ConnectionID, msg.Room, msg.Payload); err != nil {
			c.logger.Warn("frame rejected", "room", msg.Room, "error", err)
			c.sendError(msg.Room, "invalid room key")
		}

	case ClientMessagePing:
		// Client-side keep-alive, respond with pong
		c.trySend(ServerMessage{Type: MessageTypePong})

	default:
		c.logger.Debug("received unknown message type", "type", msg.Type)
	}
}

func (c *Client) sendError(room, reason string) {
	c.trySend(ServerMessage{
		Type:  MessageTypeError,
		Room:  room,
		Error: reason,
	})
}
