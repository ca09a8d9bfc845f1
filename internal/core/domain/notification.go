package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
)

// NotificationSeverity represents how urgent a hardware notification is.
type NotificationSeverity string

const (
	SeverityInfo    NotificationSeverity = "INFO"
	SeverityWarning NotificationSeverity = "WARNING"
	SeverityFault   NotificationSeverity = "FAULT"
)

// MachineNotification is a hardware-originated notice for one machine,
// e.g. a full bin, a stalled drum, or a completed cycle.
type MachineNotification struct {
	ID        int64
	MachineID uuid.UUID
	Code      string
	Severity  NotificationSeverity
	Message   string
	CreatedAt time.Time
}

// NotificationParams holds the input for recording a notification.
type NotificationParams struct {
	MachineID uuid.UUID
	Code      string
	Severity  NotificationSeverity
	Message   string
}

// NewMachineNotification is a factory function to create a valid notification.
func NewMachineNotification(params NotificationParams) (*MachineNotification, error) {
	if params.Code == "" {
		return nil, apperrors.ErrCodeRequired
	}

	switch params.Severity {
	case SeverityInfo, SeverityWarning, SeverityFault:
	default:
		return nil, apperrors.ErrInvalidSeverity
	}

	return &MachineNotification{
		MachineID: params.MachineID,
		Code:      params.Code,
		Severity:  params.Severity,
		Message:   params.Message,
		CreatedAt: time.Now().UTC(),
	}, nil
}
