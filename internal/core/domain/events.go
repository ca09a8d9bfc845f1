package domain

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
)

// EventKind identifies the type of real-time event relayed to clients.
type EventKind string

const (
	EventNotificationCreated EventKind = "NOTIFICATION_CREATED"
	EventMessageCreated      EventKind = "MESSAGE_CREATED"
	EventTicketUpdated       EventKind = "TICKET_UPDATED"
)

// Valid reports whether the kind is one of the known event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventNotificationCreated, EventMessageCreated, EventTicketUpdated:
		return true
	}
	return false
}

// Event is one relayed change, ready for dispatch to a room.
//
// SourceID carries the primary key of the originating row so that clients
// can handle a redelivery after a resubscribe idempotently. The relay never
// persists events; the store already holds the authoritative row.
type Event struct {
	Kind     EventKind       `json:"kind"`
	RoomKey  RoomKey         `json:"roomKey"`
	Payload  json.RawMessage `json:"payload"`
	SourceID string          `json:"sourceId"`
}

// Room namespaces. A room is identified by "<namespace>:<id>".
const (
	RoomNamespaceMachine = "machine"
	RoomNamespaceTicket  = "ticket"
)

// RoomKey identifies a logical delivery channel. Rooms have no lifecycle of
// their own; a room is simply the set of connections joined to its key.
type RoomKey string

// MachineRoom returns the room key for a machine's notification feed.
func MachineRoom(machineID uuid.UUID) RoomKey {
	return RoomKey(RoomNamespaceMachine + ":" + machineID.String())
}

// TicketRoom returns the room key for a support ticket's conversation.
func TicketRoom(ticketID int64) RoomKey {
	return RoomKey(RoomNamespaceTicket + ":" + strconv.FormatInt(ticketID, 10))
}

// ParseRoomKey validates a raw room key from a client. The namespace set is
// closed; ids must parse in the namespace's id format. Anything else is
// rejected with ErrInvalidRoomKey.
func ParseRoomKey(raw string) (RoomKey, error) {
	namespace, id, ok := strings.Cut(raw, ":")
	if !ok || id == "" {
		return "", apperrors.ErrInvalidRoomKey
	}

	switch namespace {
	case RoomNamespaceMachine:
		if _, err := uuid.Parse(id); err != nil {
			return "", apperrors.ErrInvalidRoomKey
		}
	case RoomNamespaceTicket:
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil || n <= 0 {
			return "", apperrors.ErrInvalidRoomKey
		}
	default:
		return "", apperrors.ErrInvalidRoomKey
	}

	return RoomKey(raw), nil
}

func (r RoomKey) String() string {
	return string(r)
}
