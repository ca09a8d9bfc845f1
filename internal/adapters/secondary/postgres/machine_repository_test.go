package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
)

func TestMachineRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMachineRepository(testPool)

	owner := seedUser(t)
	created := seedMachine(t, owner.ID)
	assert.Nil(t, created.LastSeenAt)

	found, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.SerialNumber, found.SerialNumber)
	assert.Equal(t, owner.ID, found.OwnerID)

	bySerial, err := repo.GetBySerial(ctx, created.SerialNumber)
	require.NoError(t, err)
	assert.Equal(t, created.ID, bySerial.ID)
}

func TestMachineRepository_Create_DuplicateSerial(t *testing.T) {
	ctx := context.Background()
	repo := NewMachineRepository(testPool)

	owner := seedUser(t)
	existing := seedMachine(t, owner.ID)

	duplicate := &domain.Machine{
		ID:           uuid.New(),
		OwnerID:      owner.ID,
		Name:         "Garage Composter",
		Model:        "SC-200",
		SerialNumber: existing.SerialNumber,
		RegisteredAt: time.Now().UTC(),
	}

	_, err := repo.Create(ctx, duplicate)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrMachineExists)
}

func TestMachineRepository_ListByOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewMachineRepository(testPool)

	owner := seedUser(t)
	other := seedUser(t)
	first := seedMachine(t, owner.ID)
	second := seedMachine(t, owner.ID)
	seedMachine(t, other.ID)

	machines, err := repo.ListByOwner(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, machines, 2)
	assert.Equal(t, first.ID, machines[0].ID)
	assert.Equal(t, second.ID, machines[1].ID)
}

func TestMachineRepository_TouchLastSeen(t *testing.T) {
	ctx := context.Background()
	repo := NewMachineRepository(testPool)

	owner := seedUser(t)
	machine := seedMachine(t, owner.ID)

	require.NoError(t, repo.TouchLastSeen(ctx, machine.ID))

	found, err := repo.GetByID(ctx, machine.ID)
	require.NoError(t, err)
	require.NotNil(t, found.LastSeenAt)
	assert.WithinDuration(t, time.Now().UTC(), *found.LastSeenAt, time.Minute)
}

func TestMachineRepository_TouchLastSeen_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewMachineRepository(testPool)

	err := repo.TouchLastSeen(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrMachineNotFound)
}
