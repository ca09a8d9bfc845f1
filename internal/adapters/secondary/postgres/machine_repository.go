package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
	"github.com/soilcycle/compost-backend/internal/core/ports"
	"github.com/soilcycle/compost-backend/internal/core/utils"
)

// MachineRepository is the secondary adapter for machine persistence.
type MachineRepository struct {
	pool *pgxpool.Pool
}

var _ ports.MachineRepository = (*MachineRepository)(nil)

// NewMachineRepository creates a new machine repository.
func NewMachineRepository(pool *pgxpool.Pool) ports.MachineRepository {
	return &MachineRepository{pool: pool}
}

const createMachineQuery = `
INSERT INTO machines (id, owner_id, name, model, serial_number, registered_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, owner_id, name, model, serial_number, registered_at, last_seen_at`

// Create persists a new machine.
func (r *MachineRepository) Create(ctx context.Context, machine *domain.Machine) (*domain.Machine, error) {
	db := GetDBTX(ctx, r.pool)

	row := db.QueryRow(ctx, createMachineQuery,
		machine.ID,
		machine.OwnerID,
		machine.Name,
		machine.Model,
		machine.SerialNumber,
		machine.RegisteredAt,
	)

	created, err := scanMachine(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, apperrors.ErrMachineExists
		}
		return nil, err
	}
	return created, nil
}

const getMachineByIDQuery = `
SELECT id, owner_id, name, model, serial_number, registered_at, last_seen_at
FROM machines
WHERE id = $1`

// GetByID retrieves a machine by ID.
func (r *MachineRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Machine, error) {
	db := GetDBTX(ctx, r.pool)

	machine, err := scanMachine(db.QueryRow(ctx, getMachineByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMachineNotFound
		}
		return nil, err
	}
	return machine, nil
}

const getMachineBySerialQuery = `
SELECT id, owner_id, name, model, serial_number, registered_at, last_seen_at
FROM machines
WHERE serial_number = $1`

// GetBySerial retrieves a machine by serial number.
func (r *MachineRepository) GetBySerial(ctx context.Context, serial string) (*domain.Machine, error) {
	db := GetDBTX(ctx, r.pool)

	machine, err := scanMachine(db.QueryRow(ctx, getMachineBySerialQuery, serial))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMachineNotFound
		}
		return nil, err
	}
	return machine, nil
}

const listMachinesByOwnerQuery = `
SELECT id, owner_id, name, model, serial_number, registered_at, last_seen_at
FROM machines
WHERE owner_id = $1
ORDER BY registered_at`

// ListByOwner retrieves all machines registered to an owner.
func (r *MachineRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Machine, error) {
	db := GetDBTX(ctx, r.pool)

	rows, err := db.Query(ctx, listMachinesByOwnerQuery, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	machines := make([]*domain.Machine, 0)
	for rows.Next() {
		machine, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		machines = append(machines, machine)
	}
	return machines, rows.Err()
}

const touchLastSeenQuery = `
UPDATE machines SET last_seen_at = now() WHERE id = $1`

// TouchLastSeen records that the machine was heard from.
func (r *MachineRepository) TouchLastSeen(ctx context.Context, id uuid.UUID) error {
	db := GetDBTX(ctx, r.pool)

	tag, err := db.Exec(ctx, touchLastSeenQuery, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrMachineNotFound
	}
	return nil
}

func scanMachine(row pgx.Row) (*domain.Machine, error) {
	var (
		machine    domain.Machine
		lastSeenAt pgtype.Timestamptz
	)
	err := row.Scan(
		&machine.ID,
		&machine.OwnerID,
		&machine.Name,
		&machine.Model,
		&machine.SerialNumber,
		&machine.RegisteredAt,
		&lastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	machine.LastSeenAt = utils.FromNullTime(lastSeenAt)
	return &machine, nil
}
