package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
	"github.com/soilcycle/compost-backend/internal/core/ports"
	"github.com/soilcycle/compost-backend/internal/core/utils"
)

// TicketRepository is the secondary adapter for ticket persistence.
type TicketRepository struct {
	pool *pgxpool.Pool
}

var _ ports.TicketRepository = (*TicketRepository)(nil)

// NewTicketRepository creates a new ticket repository.
func NewTicketRepository(pool *pgxpool.Pool) ports.TicketRepository {
	return &TicketRepository{pool: pool}
}

const createTicketQuery = `
INSERT INTO tickets (subject, body, status, machine_id, requester_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, subject, body, status, machine_id, requester_id, assignee_id, created_at, updated_at`

// Create persists a new ticket.
func (r *TicketRepository) Create(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error) {
	db := GetDBTX(ctx, r.pool)

	row := db.QueryRow(ctx, createTicketQuery,
		ticket.Subject,
		ticket.Body,
		string(ticket.Status),
		utils.ToNullUUID(ticket.MachineID),
		ticket.RequesterID,
		ticket.CreatedAt,
	)

	return scanTicket(row)
}

const getTicketByIDQuery = `
SELECT id, subject, body, status, machine_id, requester_id, assignee_id, created_at, updated_at
FROM tickets
WHERE id = $1`

// GetByID retrieves a single ticket by its ID.
func (r *TicketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	db := GetDBTX(ctx, r.pool)

	ticket, err := scanTicket(db.QueryRow(ctx, getTicketByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrTicketNotFound
		}
		return nil, err
	}
	return ticket, nil
}

const updateTicketQuery = `
UPDATE tickets
SET status = $2, assignee_id = $3, updated_at = $4
WHERE id = $1
RETURNING id, subject, body, status, machine_id, requester_id, assignee_id, created_at, updated_at`

// Update persists changes to an existing ticket.
func (r *TicketRepository) Update(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error) {
	db := GetDBTX(ctx, r.pool)

	row := db.QueryRow(ctx, updateTicketQuery,
		ticket.ID,
		string(ticket.Status),
		utils.ToNullUUID(ticket.AssigneeID),
		utils.ToNullTime(ticket.UpdatedAt),
	)

	updated, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrTicketNotFound
		}
		return nil, err
	}
	return updated, nil
}

const listTicketsQuery = `
SELECT id, subject, body, status, machine_id, requester_id, assignee_id, created_at, updated_at
FROM tickets
WHERE ($1::uuid IS NULL OR requester_id = $1)
  AND ($2::text IS NULL OR status = $2)
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`

// ListPaginated retrieves tickets with pagination and optional filters.
func (r *TicketRepository) ListPaginated(ctx context.Context, params ports.ListTicketsRepoParams) ([]*domain.Ticket, error) {
	db := GetDBTX(ctx, r.pool)

	rows, err := db.Query(ctx, listTicketsQuery,
		utils.ToNullUUID(params.RequesterID),
		utils.ToNullString(params.Status),
		params.Limit,
		params.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := make([]*domain.Ticket, 0)
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket     domain.Ticket
		status     string
		machineID  pgtype.UUID
		assigneeID pgtype.UUID
		updatedAt  pgtype.Timestamptz
	)
	err := row.Scan(
		&ticket.ID,
		&ticket.Subject,
		&ticket.Body,
		&status,
		&machineID,
		&ticket.RequesterID,
		&assigneeID,
		&ticket.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	ticket.Status = domain.TicketStatus(status)
	ticket.MachineID = utils.FromNullUUID(machineID)
	ticket.AssigneeID = utils.FromNullUUID(assigneeID)
	ticket.UpdatedAt = utils.FromNullTime(updatedAt)

	return &ticket, nil
}
