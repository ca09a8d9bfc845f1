package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	"github.com/soilcycle/compost-backend/internal/core/ports"
)

// MessageService implements business logic for ticket messages.
//
// Posting a message persists the row and returns it; the MessageCreated
// event a dashboard uses to reconcile its optimistic placeholder is emitted
// by the change feed once the INSERT lands.
type MessageService struct {
	messageRepo ports.MessageRepository
	ticketSvc   ports.TicketService
	notifier    ports.Notifier
}

var _ ports.MessageService = (*MessageService)(nil)

// NewMessageService creates a new message service
func NewMessageService(
	messageRepo ports.MessageRepository,
	ticketSvc ports.TicketService,
	notifier ports.Notifier,
) ports.MessageService {
	return &MessageService{
		messageRepo: messageRepo,
		ticketSvc:   ticketSvc,
		notifier:    notifier,
	}
}

// CreateMessage posts a message to a ticket's conversation
func (s *MessageService) CreateMessage(ctx context.Context, params ports.CreateMessageParams) (*domain.TicketMessage, error) {
	// Reuse ticket access rules: only a participant may post.
	ticket, err := s.ticketSvc.GetTicket(ctx, params.TicketID, params.ActorID)
	if err != nil {
		return nil, err
	}

	message, err := domain.NewTicketMessage(domain.MessageParams{
		TicketID: params.TicketID,
		SenderID: params.ActorID,
		Body:     params.Body,
	})
	if err != nil {
		return nil, err
	}

	created, err := s.messageRepo.Create(ctx, message)
	if err != nil {
		return nil, err
	}

	// Notify the other participant out of band.
	if recipient, ok := otherParticipant(ticket, params.ActorID); ok {
		go s.notifier.Notify(context.Background(), ports.NotifyParams{
			RecipientUserID: recipient,
			Subject:         fmt.Sprintf("New message on ticket #%d", ticket.ID),
			Message:         fmt.Sprintf("A new message was posted on '%s'.", ticket.Subject),
			TicketID:        ticket.ID,
		})
	}

	return created, nil
}

// GetMessagesForTicket retrieves a ticket's conversation thread
func (s *MessageService) GetMessagesForTicket(ctx context.Context, params ports.GetMessagesParams) ([]*domain.TicketMessage, error) {
	if _, err := s.ticketSvc.GetTicket(ctx, params.TicketID, params.ActorID); err != nil {
		return nil, err
	}

	return s.messageRepo.ListByTicketID(ctx, params.TicketID)
}

func otherParticipant(ticket *domain.Ticket, actorID uuid.UUID) (uuid.UUID, bool) {
	if ticket.RequesterID != actorID {
		return ticket.RequesterID, true
	}
	if ticket.AssigneeID != nil && *ticket.AssigneeID != actorID {
		return *ticket.AssigneeID, true
	}
	return uuid.Nil, false
}
