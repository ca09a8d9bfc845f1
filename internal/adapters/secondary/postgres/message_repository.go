package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	"github.com/soilcycle/compost-backend/internal/core/ports"
)

// MessageRepository is the secondary adapter for ticket message persistence.
type MessageRepository struct {
	pool *pgxpool.Pool
}

var _ ports.MessageRepository = (*MessageRepository)(nil)

// NewMessageRepository creates a new message repository.
func NewMessageRepository(pool *pgxpool.Pool) ports.MessageRepository {
	return &MessageRepository{pool: pool}
}

const createMessageQuery = `
INSERT INTO ticket_messages (ticket_id, sender_id, body, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id, ticket_id, sender_id, body, created_at`

// Create persists a new ticket message.
func (r *MessageRepository) Create(ctx context.Context, message *domain.TicketMessage) (*domain.TicketMessage, error) {
	db := GetDBTX(ctx, r.pool)

	row := db.QueryRow(ctx, createMessageQuery,
		message.TicketID,
		message.SenderID,
		message.Body,
		message.CreatedAt,
	)

	return scanMessage(row)
}

const listMessagesByTicketQuery = `
SELECT id, ticket_id, sender_id, body, created_at
FROM ticket_messages
WHERE ticket_id = $1
ORDER BY created_at, id`

// ListByTicketID retrieves all messages for a ticket, oldest first.
func (r *MessageRepository) ListByTicketID(ctx context.Context, ticketID int64) ([]*domain.TicketMessage, error) {
	db := GetDBTX(ctx, r.pool)

	rows, err := db.Query(ctx, listMessagesByTicketQuery, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]*domain.TicketMessage, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

func scanMessage(row pgx.Row) (*domain.TicketMessage, error) {
	var message domain.TicketMessage
	err := row.Scan(
		&message.ID,
		&message.TicketID,
		&message.SenderID,
		&message.Body,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &message, nil
}
