package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	"github.com/soilcycle/compost-backend/internal/core/ports"
)

// SubscriptionState tracks where the change feed subscription is in its
// lifecycle. Owned solely by the listener's Run goroutine.
type SubscriptionState string

const (
	StateConnecting   SubscriptionState = "CONNECTING"
	StateSubscribed   SubscriptionState = "SUBSCRIBED"
	StateTimedOut     SubscriptionState = "TIMED_OUT"
	StateChannelError SubscriptionState = "CHANNEL_ERROR"
	StateClosed       SubscriptionState = "CLOSED"
)

const pingTimeout = 5 * time.Second

// feedConn is the slice of pgx.Conn the listener needs. Tests substitute a
// fake; production uses a dedicated connection outside the pool, since
// LISTEN binds to a single session.
type feedConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type connectFunc func(ctx context.Context) (feedConn, error)

// ChangeFeedConfig holds the tuning knobs for the subscription loop.
type ChangeFeedConfig struct {
	Channel             string
	HeartbeatInterval   time.Duration
	MaxMissedHeartbeats int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
}

// ChangeFeedListener subscribes to row-change notifications emitted by the
// database triggers and translates them into domain events.
//
// The listener never persists or replays anything: a change missed while
// disconnected is lost from the relay's perspective, and clients recover
// current state through the read endpoints. Within one continuous
// subscription epoch each row change is forwarded at most once; after a
// resubscribe the same row may be delivered again, which clients absorb by
// keying on the event's source id.
type ChangeFeedListener struct {
	connect connectFunc
	cfg     ChangeFeedConfig
	sink    ports.FeedStatusSink
	events  chan domain.Event
	logger  *slog.Logger
}

var _ ports.ChangeFeed = (*ChangeFeedListener)(nil)

// NewChangeFeedListener builds a listener that dials its own connection with
// the given connection string.
func NewChangeFeedListener(connString string, cfg ChangeFeedConfig, sink ports.FeedStatusSink, logger *slog.Logger) *ChangeFeedListener {
	connect := func(ctx context.Context) (feedConn, error) {
		return pgx.Connect(ctx, connString)
	}
	return newChangeFeedListener(connect, cfg, sink, logger)
}

func newChangeFeedListener(connect connectFunc, cfg ChangeFeedConfig, sink ports.FeedStatusSink, logger *slog.Logger) *ChangeFeedListener {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.MaxMissedHeartbeats <= 0 {
		cfg.MaxMissedHeartbeats = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}

	return &ChangeFeedListener{
		connect: connect,
		cfg:     cfg,
		sink:    sink,
		events:  make(chan domain.Event, 64),
		logger:  logger.With("component", "change_feed"),
	}
}

// Events returns the channel decoded events are delivered on. It is closed
// when Run returns.
func (l *ChangeFeedListener) Events() <-chan domain.Event {
	return l.events
}

// Run drives the subscription until ctx is cancelled. Retries are unbounded:
// both a heartbeat timeout and a channel error release the dead connection
// and resubscribe after a backoff delay. The loop is flat; one goroutine
// lives for the whole process.
func (l *ChangeFeedListener) Run(ctx context.Context) error {
	defer close(l.events)
	defer l.logger.Info("change feed stopped", "state", StateClosed)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.InitialBackoff
	bo.MaxInterval = l.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		state := l.runEpoch(ctx, bo)
		l.sink.SetFeedLive(false)

		if state == StateClosed {
			return ctx.Err()
		}

		wait := bo.NextBackOff()
		l.logger.Warn("subscription lost, scheduling resubscribe",
			"state", string(state),
			"retry_in", wait.String(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// runEpoch dials, subscribes, and pumps notifications until the subscription
// dies. The returned state says why it ended.
func (l *ChangeFeedListener) runEpoch(ctx context.Context, bo *backoff.ExponentialBackOff) SubscriptionState {
	l.logger.Info("subscribing to change feed", "state", StateConnecting, "channel", l.cfg.Channel)

	conn, err := l.connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return StateClosed
		}
		l.logger.Error("failed to connect for change feed", "error", err)
		return StateChannelError
	}
	defer l.closeConn(conn)

	listenSQL := "LISTEN " + pgx.Identifier{l.cfg.Channel}.Sanitize()
	if _, err := conn.Exec(ctx, listenSQL); err != nil {
		if ctx.Err() != nil {
			return StateClosed
		}
		l.logger.Error("failed to listen on channel", "channel", l.cfg.Channel, "error", err)
		return StateChannelError
	}

	bo.Reset()
	l.sink.SetFeedLive(true)
	l.logger.Info("change feed subscribed", "state", StateSubscribed, "channel", l.cfg.Channel)

	// Dedup bookkeeping lives and dies with the epoch. After a resubscribe
	// the map starts empty and redelivery is possible again.
	seen := make(map[string]bool)
	missed := 0

	for {
		waitCtx, cancel := context.WithTimeout(ctx, l.cfg.HeartbeatInterval)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		switch {
		case err == nil:
			missed = 0
			l.handleNotification(ctx, notification, seen)

		case ctx.Err() != nil:
			return StateClosed

		case errors.Is(err, context.DeadlineExceeded):
			// Quiet interval. Probe the connection; a dead session shows
			// up here long before the TCP stack gives up on its own.
			if pingErr := l.ping(ctx, conn); pingErr != nil {
				missed++
				l.logger.Warn("change feed heartbeat missed",
					"missed", missed,
					"max", l.cfg.MaxMissedHeartbeats,
					"error", pingErr,
				)
				if missed >= l.cfg.MaxMissedHeartbeats {
					return StateTimedOut
				}
			} else {
				missed = 0
			}

		default:
			l.logger.Error("change feed receive failed", "error", err)
			return StateChannelError
		}
	}
}

func (l *ChangeFeedListener) ping(ctx context.Context, conn feedConn) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return conn.Ping(pingCtx)
}

func (l *ChangeFeedListener) closeConn(conn feedConn) {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Close(closeCtx); err != nil {
		l.logger.Debug("error closing change feed connection", "error", err)
	}
}

func (l *ChangeFeedListener) handleNotification(ctx context.Context, notification *pgconn.Notification, seen map[string]bool) {
	event, err := decodeChangeRecord([]byte(notification.Payload))
	if err != nil {
		l.logger.Warn("dropping malformed change record", "error", err)
		return
	}

	dedupKey := string(event.Kind) + ":" + event.SourceID
	if seen[dedupKey] {
		l.logger.Debug("dropping duplicate change record", "kind", event.Kind, "source_id", event.SourceID)
		return
	}
	seen[dedupKey] = true

	select {
	case l.events <- event:
	case <-ctx.Done():
	}
}

// changeRecord is the envelope the notify triggers emit.
type changeRecord struct {
	Table string          `json:"table"`
	Op    string          `json:"op"`
	Row   json.RawMessage `json:"row"`
}

type notificationRow struct {
	ID        int64     `json:"id"`
	MachineID uuid.UUID `json:"machine_id"`
	Code      string    `json:"code"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type messageRow struct {
	ID        int64     `json:"id"`
	TicketID  int64     `json:"ticket_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type ticketRow struct {
	ID          int64      `json:"id"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	Status      string     `json:"status"`
	MachineID   *uuid.UUID `json:"machine_id"`
	RequesterID uuid.UUID  `json:"requester_id"`
	AssigneeID  *uuid.UUID `json:"assignee_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

// decodeChangeRecord maps a trigger payload onto a typed domain event. The
// table set is closed; anything unrecognized is an error so a schema drift
// shows up in the logs instead of being silently swallowed.
func decodeChangeRecord(payload []byte) (domain.Event, error) {
	var record changeRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return domain.Event{}, fmt.Errorf("decoding change envelope: %w", err)
	}

	switch record.Table {
	case "machine_notifications":
		var row notificationRow
		if err := json.Unmarshal(record.Row, &row); err != nil {
			return domain.Event{}, fmt.Errorf("decoding notification row: %w", err)
		}
		snapshot := domain.NewNotificationSnapshot(&domain.MachineNotification{
			ID:        row.ID,
			MachineID: row.MachineID,
			Code:      row.Code,
			Severity:  domain.NotificationSeverity(row.Severity),
			Message:   row.Message,
			CreatedAt: row.CreatedAt,
		})
		return buildEvent(domain.EventNotificationCreated, domain.MachineRoom(row.MachineID), snapshot, row.ID)

	case "ticket_messages":
		var row messageRow
		if err := json.Unmarshal(record.Row, &row); err != nil {
			return domain.Event{}, fmt.Errorf("decoding message row: %w", err)
		}
		snapshot := domain.NewMessageSnapshot(&domain.TicketMessage{
			ID:        row.ID,
			TicketID:  row.TicketID,
			SenderID:  row.SenderID,
			Body:      row.Body,
			CreatedAt: row.CreatedAt,
		})
		return buildEvent(domain.EventMessageCreated, domain.TicketRoom(row.TicketID), snapshot, row.ID)

	case "tickets":
		var row ticketRow
		if err := json.Unmarshal(record.Row, &row); err != nil {
			return domain.Event{}, fmt.Errorf("decoding ticket row: %w", err)
		}
		snapshot := domain.NewTicketSnapshot(&domain.Ticket{
			ID:          row.ID,
			Subject:     row.Subject,
			Body:        row.Body,
			Status:      domain.TicketStatus(row.Status),
			MachineID:   row.MachineID,
			RequesterID: row.RequesterID,
			AssigneeID:  row.AssigneeID,
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		})
		return buildEvent(domain.EventTicketUpdated, domain.TicketRoom(row.ID), snapshot, row.ID)

	default:
		return domain.Event{}, fmt.Errorf("unknown change feed table %q", record.Table)
	}
}

func buildEvent(kind domain.EventKind, room domain.RoomKey, snapshot any, rowID int64) (domain.Event, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return domain.Event{}, fmt.Errorf("encoding event payload: %w", err)
	}

	return domain.Event{
		Kind:     kind,
		RoomKey:  room,
		Payload:  payload,
		SourceID: strconv.FormatInt(rowID, 10),
	}, nil
}
