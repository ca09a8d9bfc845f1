package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
)

// seedUser inserts a user with a unique email and returns it.
func seedUser(t *testing.T) *domain.User {
	t.Helper()
	require.NotNil(t, testPool, "testPool is nil. TestMain may not have run.")

	repo := NewUserRepository(testPool)
	user := &domain.User{
		ID:             uuid.New(),
		FullName:       "Test User",
		Email:          fmt.Sprintf("user-%s@example.com", uuid.NewString()),
		Phone:          "+31600000000",
		HashedPassword: "hashedpassword",
		CreatedAt:      time.Now().UTC(),
		IsActive:       true,
	}

	created, err := repo.Create(context.Background(), user)
	require.NoError(t, err, "Failed to seed user")
	return created
}

// seedMachine inserts a machine owned by the given user.
func seedMachine(t *testing.T, ownerID uuid.UUID) *domain.Machine {
	t.Helper()

	repo := NewMachineRepository(testPool)
	machine := &domain.Machine{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Name:         "Kitchen Composter",
		Model:        "SC-200",
		SerialNumber: fmt.Sprintf("SC200-%s", uuid.NewString()),
		RegisteredAt: time.Now().UTC(),
	}

	created, err := repo.Create(context.Background(), machine)
	require.NoError(t, err, "Failed to seed machine")
	return created
}

func TestUserRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testPool)

	created := seedUser(t)

	found, err := repo.GetByEmail(ctx, created.Email)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "Test User", found.FullName)
	assert.True(t, found.IsActive)

	foundByID, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Email, foundByID.Email)
}

func TestUserRepository_Create_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testPool)

	existing := seedUser(t)

	duplicate := &domain.User{
		ID:             uuid.New(),
		FullName:       "Other User",
		Email:          existing.Email,
		HashedPassword: "hashedpassword",
		CreatedAt:      time.Now().UTC(),
		IsActive:       true,
	}

	_, err := repo.Create(ctx, duplicate)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUserExists)
}

func TestUserRepository_GetByEmail_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testPool)

	_, err := repo.GetByEmail(ctx, "nonexistent@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestTransactionManager_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testPool)
	tm := NewTransactionManager(testPool)

	email := fmt.Sprintf("rollback-%s@example.com", uuid.NewString())

	err := tm.WithTransaction(ctx, func(txCtx context.Context) error {
		user := &domain.User{
			ID:             uuid.New(),
			FullName:       "Doomed User",
			Email:          email,
			HashedPassword: "hashedpassword",
			CreatedAt:      time.Now().UTC(),
			IsActive:       true,
		}
		if _, err := repo.Create(txCtx, user); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = repo.GetByEmail(ctx, email)
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}
