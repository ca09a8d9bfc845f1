package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
	"github.com/soilcycle/compost-backend/internal/core/ports"
)

// uniqueViolation is the Postgres error code for unique constraint violations
const uniqueViolation = "23505"

// UserRepository is the secondary adapter for user persistence.
type UserRepository struct {
	pool *pgxpool.Pool
}

var _ ports.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates a new user repository.
func NewUserRepository(pool *pgxpool.Pool) ports.UserRepository {
	return &UserRepository{pool: pool}
}

const createUserQuery = `
INSERT INTO users (id, full_name, email, phone, hashed_password, created_at, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, full_name, email, phone, hashed_password, created_at, is_active`

// Create persists a new user.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	db := GetDBTX(ctx, r.pool)

	row := db.QueryRow(ctx, createUserQuery,
		user.ID,
		user.FullName,
		user.Email,
		user.Phone,
		user.HashedPassword,
		user.CreatedAt,
		user.IsActive,
	)

	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, apperrors.ErrUserExists
		}
		return nil, err
	}
	return created, nil
}

const getUserByEmailQuery = `
SELECT id, full_name, email, phone, hashed_password, created_at, is_active
FROM users
WHERE email = $1`

// GetByEmail retrieves a user by email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	db := GetDBTX(ctx, r.pool)

	user, err := scanUser(db.QueryRow(ctx, getUserByEmailQuery, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

const getUserByIDQuery = `
SELECT id, full_name, email, phone, hashed_password, created_at, is_active
FROM users
WHERE id = $1`

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	db := GetDBTX(ctx, r.pool)

	user, err := scanUser(db.QueryRow(ctx, getUserByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.FullName,
		&user.Email,
		&user.Phone,
		&user.HashedPassword,
		&user.CreatedAt,
		&user.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
