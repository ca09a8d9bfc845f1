package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	"github.com/soilcycle/compost-backend/internal/core/ports"
)

// Dispatcher is the glue between the change feed subscriber and the
// connection registry, and the ingress point for connection-originated
// actions. It holds no connection or room state of its own.
type Dispatcher struct {
	broadcaster ports.EventBroadcaster
	registry    ports.RoomRegistry
	logger      *slog.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	broadcaster ports.EventBroadcaster,
	registry ports.RoomRegistry,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		broadcaster: broadcaster,
		registry:    registry,
		logger:      logger.With("component", "dispatcher"),
	}
}

// Run consumes decoded feed events until the context is cancelled. Events
// are handed to the registry in arrival order, which preserves per-room
// delivery order for feed-driven broadcasts.
func (d *Dispatcher) Run(ctx context.Context, events <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			d.HandleEvent(event)
		}
	}
}

// HandleEvent routes one feed event to its room.
func (d *Dispatcher) HandleEvent(event domain.Event) {
	if !event.Kind.Valid() || event.RoomKey == "" {
		d.logger.Warn("dropping unroutable event",
			"kind", string(event.Kind),
			"room_key", event.RoomKey.String(),
			"source_id", event.SourceID,
		)
		return
	}

	if err := d.broadcaster.Broadcast(event); err != nil {
		d.logger.Error("broadcast failed",
			"kind", string(event.Kind),
			"room_key", event.RoomKey.String(),
			"error", err,
		)
	}
}

// OnClientJoin validates a client-requested room key and joins the
// connection to the room. A malformed key is an error surfaced to the
// caller; an unknown connection id is handled (and logged) by the registry.
func (d *Dispatcher) OnClientJoin(connectionID, rawKey string) error {
	room, err := domain.ParseRoomKey(rawKey)
	if err != nil {
		return err
	}

	d.registry.Join(connectionID, room)
	return nil
}

// OnClientFrame fans a client payload out to its room peers, excluding the
// sender. Frames never touch the store; they are fire-and-forget.
func (d *Dispatcher) OnClientFrame(connectionID, rawKey string, payload json.RawMessage) error {
	room, err := domain.ParseRoomKey(rawKey)
	if err != nil {
		return err
	}

	d.registry.BroadcastFrame(room, connectionID, payload)
	return nil
}
