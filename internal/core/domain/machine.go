package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
)

const (
	MaxMachineNameLength = 100
	MaxSerialLength      = 64
)

// Machine is a registered composting appliance.
type Machine struct {
	ID           uuid.UUID
	OwnerID      uuid.UUID
	Name         string
	Model        string
	SerialNumber string
	RegisteredAt time.Time
	LastSeenAt   *time.Time
}

// MachineParams holds the input for registering a machine.
type MachineParams struct {
	OwnerID      uuid.UUID
	Name         string
	Model        string
	SerialNumber string
}

// NewMachine is a factory function to create a valid new machine.
func NewMachine(params MachineParams) (*Machine, error) {
	if params.Name == "" {
		return nil, apperrors.ErrMachineNameRequired
	}
	if params.SerialNumber == "" {
		return nil, apperrors.ErrSerialRequired
	}

	return &Machine{
		ID:           uuid.New(),
		OwnerID:      params.OwnerID,
		Name:         params.Name,
		Model:        params.Model,
		SerialNumber: params.SerialNumber,
		RegisteredAt: time.Now().UTC(),
	}, nil
}

// Touch records that the machine was heard from.
func (m *Machine) Touch() {
	now := time.Now().UTC()
	m.LastSeenAt = &now
}

// IsOwnedBy reports whether the given user owns this machine.
func (m *Machine) IsOwnedBy(userID uuid.UUID) bool {
	return m.OwnerID == userID
}
