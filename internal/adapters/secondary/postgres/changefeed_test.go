package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soilcycle/compost-backend/internal/core/domain"
)

type fakeFeedConn struct {
	inbox chan *pgconn.Notification
	fatal chan error

	mu      sync.Mutex
	pingErr error
	execErr error
	execSQL []string
	closed  bool
}

func newFakeFeedConn() *fakeFeedConn {
	return &fakeFeedConn{
		inbox: make(chan *pgconn.Notification, 16),
		fatal: make(chan error, 4),
	}
}

func (f *fakeFeedConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execSQL = append(f.execSQL, sql)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeFeedConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n := <-f.inbox:
		return n, nil
	case err := <-f.fatal:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeFeedConn) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeFeedConn) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeFeedConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeFeedConn) push(payload string) {
	f.inbox <- &pgconn.Notification{Channel: "compost_events", Payload: payload}
}

type fakeStatusSink struct {
	mu          sync.Mutex
	transitions []bool
}

func (s *fakeStatusSink) SetFeedLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, live)
}

func (s *fakeStatusSink) history() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// connSequence hands out prepared connections one per connect call, then
// keeps returning the last one.
func connSequence(calls *atomic.Int32, conns ...*fakeFeedConn) connectFunc {
	return func(_ context.Context) (feedConn, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(conns) {
			i = len(conns) - 1
		}
		return conns[i], nil
	}
}

func newTestListener(connect connectFunc) (*ChangeFeedListener, *fakeStatusSink) {
	sink := &fakeStatusSink{}
	cfg := ChangeFeedConfig{
		Channel:             "compost_events",
		HeartbeatInterval:   50 * time.Millisecond,
		MaxMissedHeartbeats: 2,
		InitialBackoff:      time.Millisecond,
		MaxBackoff:          5 * time.Millisecond,
	}
	listener := newChangeFeedListener(connect, cfg, sink, slog.New(slog.DiscardHandler))
	return listener, sink
}

func receiveEvent(t *testing.T, events <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case event, ok := <-events:
		require.True(t, ok, "events channel closed unexpectedly")
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func notificationPayload(id int64, machineID uuid.UUID) string {
	return fmt.Sprintf(
		`{"table":"machine_notifications","op":"INSERT","row":{"id":%d,"machine_id":%q,"code":"BIN_FULL","severity":"WARNING","message":"bin almost full","created_at":"2026-08-30T10:00:00+00:00"}}`,
		id, machineID,
	)
}

func messagePayload(id, ticketID int64, senderID uuid.UUID) string {
	return fmt.Sprintf(
		`{"table":"ticket_messages","op":"INSERT","row":{"id":%d,"ticket_id":%d,"sender_id":%q,"body":"drum is stuck again","created_at":"2026-08-30T11:00:00+00:00"}}`,
		id, ticketID, senderID,
	)
}

func TestChangeFeedListener_DeliversDecodedEvents(t *testing.T) {
	conn := newFakeFeedConn()
	var calls atomic.Int32
	listener, sink := newTestListener(connSequence(&calls, conn))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = listener.Run(ctx)
	}()

	machineID := uuid.New()
	conn.push(notificationPayload(7, machineID))

	event := receiveEvent(t, listener.Events())
	assert.Equal(t, domain.EventNotificationCreated, event.Kind)
	assert.Equal(t, domain.MachineRoom(machineID), event.RoomKey)
	assert.Equal(t, "7", event.SourceID)
	assert.JSONEq(t, fmt.Sprintf(
		`{"id":"7","machineId":%q,"code":"BIN_FULL","severity":"WARNING","message":"bin almost full","createdAt":"2026-08-30T10:00:00Z"}`,
		machineID,
	), string(event.Payload))

	assert.Equal(t, []bool{true}, sink.history())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
	assert.True(t, conn.isClosed())
}

func TestChangeFeedListener_SubscribesToConfiguredChannel(t *testing.T) {
	conn := newFakeFeedConn()
	var calls atomic.Int32
	listener, _ := newTestListener(connSequence(&calls, conn))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = listener.Run(ctx) }()

	senderID := uuid.New()
	conn.push(messagePayload(1, 42, senderID))
	event := receiveEvent(t, listener.Events())
	assert.Equal(t, domain.EventMessageCreated, event.Kind)
	assert.Equal(t, domain.TicketRoom(42), event.RoomKey)
	cancel()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.execSQL, 1)
	assert.Equal(t, `LISTEN "compost_events"`, conn.execSQL[0])
}

func TestChangeFeedListener_DropsMalformedRecords(t *testing.T) {
	conn := newFakeFeedConn()
	var calls atomic.Int32
	listener, _ := newTestListener(connSequence(&calls, conn))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Run(ctx) }()

	machineID := uuid.New()
	conn.push(`{not json`)
	conn.push(`{"table":"audit_log","op":"INSERT","row":{}}`)
	conn.push(notificationPayload(3, machineID))

	event := receiveEvent(t, listener.Events())
	assert.Equal(t, "3", event.SourceID)
	assert.Empty(t, listener.Events())
}

func TestChangeFeedListener_DedupsWithinEpoch(t *testing.T) {
	conn := newFakeFeedConn()
	var calls atomic.Int32
	listener, _ := newTestListener(connSequence(&calls, conn))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Run(ctx) }()

	machineID := uuid.New()
	conn.push(notificationPayload(5, machineID))
	conn.push(notificationPayload(5, machineID))
	conn.push(notificationPayload(6, machineID))

	first := receiveEvent(t, listener.Events())
	second := receiveEvent(t, listener.Events())
	assert.Equal(t, "5", first.SourceID)
	assert.Equal(t, "6", second.SourceID)
}

func TestChangeFeedListener_ResubscribesAfterChannelError(t *testing.T) {
	first := newFakeFeedConn()
	second := newFakeFeedConn()
	var calls atomic.Int32
	listener, sink := newTestListener(connSequence(&calls, first, second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Run(ctx) }()

	machineID := uuid.New()
	first.push(notificationPayload(9, machineID))
	assert.Equal(t, "9", receiveEvent(t, listener.Events()).SourceID)

	first.fatal <- errors.New("broken pipe")

	// The same row arriving again after a resubscribe is delivered again;
	// the dedup window is one epoch, not the process lifetime.
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	second.push(notificationPayload(9, machineID))
	assert.Equal(t, "9", receiveEvent(t, listener.Events()).SourceID)

	assert.True(t, first.isClosed())
	history := sink.history()
	require.GreaterOrEqual(t, len(history), 3)
	assert.Equal(t, []bool{true, false, true}, history[:3])
}

func TestChangeFeedListener_ReconnectsAfterMissedHeartbeats(t *testing.T) {
	stale := newFakeFeedConn()
	stale.pingErr = errors.New("connection reset")
	healthy := newFakeFeedConn()
	var calls atomic.Int32
	listener, _ := newTestListener(connSequence(&calls, stale, healthy))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, stale.isClosed())

	machineID := uuid.New()
	healthy.push(notificationPayload(12, machineID))
	assert.Equal(t, "12", receiveEvent(t, listener.Events()).SourceID)
}

func TestChangeFeedListener_ClosesEventsOnShutdown(t *testing.T) {
	conn := newFakeFeedConn()
	var calls atomic.Int32
	listener, _ := newTestListener(connSequence(&calls, conn))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- listener.Run(ctx) }()

	machineID := uuid.New()
	conn.push(notificationPayload(1, machineID))
	receiveEvent(t, listener.Events())

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, ok := <-listener.Events()
	assert.False(t, ok, "events channel should be closed")
}

func TestDecodeChangeRecord_TicketUpdate(t *testing.T) {
	requesterID := uuid.New()
	payload := fmt.Sprintf(
		`{"table":"tickets","op":"UPDATE","row":{"id":42,"subject":"Drum stalled","body":"It stopped mid-cycle.","status":"IN_PROGRESS","machine_id":null,"requester_id":%q,"assignee_id":null,"created_at":"2026-08-30T09:00:00+00:00","updated_at":"2026-08-30T09:30:00+00:00"}}`,
		requesterID,
	)

	event, err := decodeChangeRecord([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, domain.EventTicketUpdated, event.Kind)
	assert.Equal(t, domain.TicketRoom(42), event.RoomKey)
	assert.Equal(t, "42", event.SourceID)
	assert.JSONEq(t, fmt.Sprintf(
		`{"id":42,"subject":"Drum stalled","body":"It stopped mid-cycle.","status":"IN_PROGRESS","machineId":null,"requesterId":%q,"assigneeId":null,"createdAt":"2026-08-30T09:00:00Z","updatedAt":"2026-08-30T09:30:00Z"}`,
		requesterID,
	), string(event.Payload))
}

func TestDecodeChangeRecord_UnknownTable(t *testing.T) {
	_, err := decodeChangeRecord([]byte(`{"table":"users","op":"INSERT","row":{}}`))
	assert.Error(t, err)
}
