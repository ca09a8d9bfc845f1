package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
	"github.com/soilcycle/compost-backend/internal/core/ports"
)

// MachineService implements business logic for appliance management
type MachineService struct {
	machineRepo ports.MachineRepository
}

var _ ports.MachineService = (*MachineService)(nil)

// NewMachineService creates a new machine service
func NewMachineService(machineRepo ports.MachineRepository) ports.MachineService {
	return &MachineService{machineRepo: machineRepo}
}

// RegisterMachine registers a new appliance to its owner
func (s *MachineService) RegisterMachine(ctx context.Context, params ports.RegisterMachineParams) (*domain.Machine, error) {
	// Serial numbers are unique across the fleet
	_, err := s.machineRepo.GetBySerial(ctx, params.SerialNumber)
	if err == nil {
		return nil, apperrors.ErrMachineExists
	}
	if !errors.Is(err, apperrors.ErrMachineNotFound) {
		return nil, err
	}

	machine, err := domain.NewMachine(domain.MachineParams{
		OwnerID:      params.OwnerID,
		Name:         params.Name,
		Model:        params.Model,
		SerialNumber: params.SerialNumber,
	})
	if err != nil {
		return nil, err
	}

	return s.machineRepo.Create(ctx, machine)
}

// GetMachine retrieves a machine, scoped to its owner
func (s *MachineService) GetMachine(ctx context.Context, machineID, viewerID uuid.UUID) (*domain.Machine, error) {
	machine, err := s.machineRepo.GetByID(ctx, machineID)
	if err != nil {
		return nil, err
	}

	if !machine.IsOwnedBy(viewerID) {
		return nil, apperrors.ErrForbidden
	}

	return machine, nil
}

// ListMachines retrieves all machines registered to the given owner
func (s *MachineService) ListMachines(ctx context.Context, ownerID uuid.UUID) ([]*domain.Machine, error) {
	return s.machineRepo.ListByOwner(ctx, ownerID)
}
