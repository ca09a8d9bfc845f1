package ports

import (
	"context"
	"encoding/json"

	"github.com/soilcycle/compost-backend/internal/core/domain"
)

// EventBroadcaster delivers a relayed event to every connection currently
// joined to the event's room.
type EventBroadcaster interface {
	Broadcast(event domain.Event) error
}

// RoomRegistry is the membership side of the connection registry: joins are
// idempotent, and a join for an unknown connection id is a benign race that
// the registry logs and ignores.
type RoomRegistry interface {
	Join(connectionID string, room domain.RoomKey)
	// BroadcastFrame fans a client-originated payload out to the room's
	// members, excluding the sending connection. Frames bypass the store.
	BroadcastFrame(room domain.RoomKey, senderConnectionID string, payload json.RawMessage)
}

// FeedStatusSink receives liveness transitions from the change feed
// subscriber. Connected clients are told on connect whether the feed is
// currently producing.
type FeedStatusSink interface {
	SetFeedLive(live bool)
}

// ChangeFeed is the port for the change feed subscriber. Run blocks until
// the context is cancelled, keeping the upstream subscription alive through
// disconnects. Decoded events are delivered on Events in arrival order.
type ChangeFeed interface {
	Run(ctx context.Context) error
	Events() <-chan domain.Event
}
