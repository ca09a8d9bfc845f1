package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
)

const MaxMessageLength = 5000

// TicketMessage is one message in a ticket's conversation thread.
type TicketMessage struct {
	ID        int64
	TicketID  int64
	SenderID  uuid.UUID
	Body      string
	CreatedAt time.Time
}

// MessageParams holds the input for posting a ticket message.
type MessageParams struct {
	TicketID int64
	SenderID uuid.UUID
	Body     string
}

// NewTicketMessage is a factory function to create a valid message.
func NewTicketMessage(params MessageParams) (*TicketMessage, error) {
	if params.TicketID <= 0 {
		return nil, apperrors.ErrTicketIDRequired
	}
	if params.SenderID == uuid.Nil {
		return nil, apperrors.ErrSenderIDRequired
	}
	if params.Body == "" {
		return nil, apperrors.ErrMessageBodyRequired
	}
	if len(params.Body) > MaxMessageLength {
		return nil, apperrors.ErrMessageBodyTooLong
	}

	return &TicketMessage{
		TicketID:  params.TicketID,
		SenderID:  params.SenderID,
		Body:      params.Body,
		CreatedAt: time.Now().UTC(),
	}, nil
}
