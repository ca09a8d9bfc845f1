package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	"github.com/soilcycle/compost-backend/internal/core/ports"
)

// NotificationRepository is the secondary adapter for machine notification
// persistence. Inserts here are what drive the NOTIFICATION_CREATED feed
// events; the repository itself never talks to the relay.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

var _ ports.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(pool *pgxpool.Pool) ports.NotificationRepository {
	return &NotificationRepository{pool: pool}
}

const createNotificationQuery = `
INSERT INTO machine_notifications (machine_id, code, severity, message, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, machine_id, code, severity, message, created_at`

// Create persists a new machine notification.
func (r *NotificationRepository) Create(ctx context.Context, notification *domain.MachineNotification) (*domain.MachineNotification, error) {
	db := GetDBTX(ctx, r.pool)

	row := db.QueryRow(ctx, createNotificationQuery,
		notification.MachineID,
		notification.Code,
		string(notification.Severity),
		notification.Message,
		notification.CreatedAt,
	)

	return scanNotification(row)
}

const listNotificationsByMachineQuery = `
SELECT id, machine_id, code, severity, message, created_at
FROM machine_notifications
WHERE machine_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`

// ListByMachine retrieves the most recent notifications for a machine.
func (r *NotificationRepository) ListByMachine(ctx context.Context, machineID uuid.UUID, limit int32) ([]*domain.MachineNotification, error) {
	db := GetDBTX(ctx, r.pool)

	rows, err := db.Query(ctx, listNotificationsByMachineQuery, machineID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]*domain.MachineNotification, 0)
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notification)
	}
	return notifications, rows.Err()
}

func scanNotification(row pgx.Row) (*domain.MachineNotification, error) {
	var (
		notification domain.MachineNotification
		severity     string
	)
	err := row.Scan(
		&notification.ID,
		&notification.MachineID,
		&notification.Code,
		&severity,
		&notification.Message,
		&notification.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	notification.Severity = domain.NotificationSeverity(severity)
	return &notification, nil
}
