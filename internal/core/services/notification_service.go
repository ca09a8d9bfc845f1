package services

import (
	"context"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
	"github.com/soilcycle/compost-backend/internal/core/ports"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// NotificationService implements business logic for machine notifications.
//
// Recording a notification only persists the row; connected dashboards learn
// about it through the change feed, the same way they would for a row written
// by any other process.
type NotificationService struct {
	notificationRepo ports.NotificationRepository
	machineRepo      ports.MachineRepository
}

var _ ports.NotificationService = (*NotificationService)(nil)

// NewNotificationService creates a new notification service
func NewNotificationService(
	notificationRepo ports.NotificationRepository,
	machineRepo ports.MachineRepository,
) ports.NotificationService {
	return &NotificationService{
		notificationRepo: notificationRepo,
		machineRepo:      machineRepo,
	}
}

// RecordNotification persists a device-reported notification
func (s *NotificationService) RecordNotification(ctx context.Context, params ports.RecordNotificationParams) (*domain.MachineNotification, error) {
	// The machine must exist; this also refreshes its last-seen timestamp.
	if _, err := s.machineRepo.GetByID(ctx, params.MachineID); err != nil {
		return nil, err
	}

	notification, err := domain.NewMachineNotification(domain.NotificationParams{
		MachineID: params.MachineID,
		Code:      params.Code,
		Severity:  params.Severity,
		Message:   params.Message,
	})
	if err != nil {
		return nil, err
	}

	created, err := s.notificationRepo.Create(ctx, notification)
	if err != nil {
		return nil, err
	}

	if err := s.machineRepo.TouchLastSeen(ctx, params.MachineID); err != nil {
		// The notification is already durable; a stale last-seen is tolerable.
		return created, nil
	}

	return created, nil
}

// ListNotifications retrieves recent notifications for an owned machine
func (s *NotificationService) ListNotifications(ctx context.Context, params ports.ListNotificationsParams) ([]*domain.MachineNotification, error) {
	machine, err := s.machineRepo.GetByID(ctx, params.MachineID)
	if err != nil {
		return nil, err
	}
	if !machine.IsOwnedBy(params.ViewerID) {
		return nil, apperrors.ErrForbidden
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}

	return s.notificationRepo.ListByMachine(ctx, params.MachineID, int32(limit))
}
