package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
	"github.com/soilcycle/compost-backend/internal/core/ports"
)

// TicketService implements business logic for support tickets.
//
// Mutations here are persisted and nothing else: real-time delivery to
// dashboards happens when the store's change feed surfaces the written row,
// so an update made by this process and one made by any other writer reach
// clients through the identical path.
type TicketService struct {
	ticketRepo ports.TicketRepository
	notifier   ports.Notifier
}

var _ ports.TicketService = (*TicketService)(nil)

// NewTicketService creates a new ticket service
func NewTicketService(ticketRepo ports.TicketRepository, notifier ports.Notifier) ports.TicketService {
	return &TicketService{
		ticketRepo: ticketRepo,
		notifier:   notifier,
	}
}

// CreateTicket handles the use case for opening a new ticket
func (s *TicketService) CreateTicket(ctx context.Context, params ports.CreateTicketParams) (*domain.Ticket, error) {
	ticket, err := domain.NewTicket(domain.TicketParams{
		Subject:     params.Subject,
		Body:        params.Body,
		MachineID:   params.MachineID,
		RequesterID: params.RequesterID,
	})
	if err != nil {
		return nil, err
	}

	return s.ticketRepo.Create(ctx, ticket)
}

// GetTicket retrieves a specific ticket, scoped to its participants
func (s *TicketService) GetTicket(ctx context.Context, ticketID int64, viewerID uuid.UUID) (*domain.Ticket, error) {
	ticket, err := s.ticketRepo.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if !ticket.IsOwnedBy(viewerID) && !ticket.IsAssignedTo(viewerID) {
		return nil, apperrors.ErrForbidden
	}

	return ticket, nil
}

// UpdateStatus changes a ticket's status with business rule enforcement
func (s *TicketService) UpdateStatus(ctx context.Context, params ports.UpdateStatusParams) (*domain.Ticket, error) {
	ticket, err := s.ticketRepo.GetByID(ctx, params.TicketID)
	if err != nil {
		return nil, err
	}

	if !ticket.IsOwnedBy(params.ActorID) && !ticket.IsAssignedTo(params.ActorID) {
		return nil, apperrors.ErrForbidden
	}

	// The domain validates the transition.
	if err := ticket.UpdateStatus(params.Status); err != nil {
		return nil, err
	}

	updated, err := s.ticketRepo.Update(ctx, ticket)
	if err != nil {
		return nil, err
	}

	// Email/SMS notification for the other party, outside the request cycle.
	if ticket.RequesterID != params.ActorID {
		go s.notifier.Notify(context.Background(), ports.NotifyParams{
			RecipientUserID: ticket.RequesterID,
			Subject:         fmt.Sprintf("Your ticket status has been updated: #%d", ticket.ID),
			Message:         fmt.Sprintf("The status of your ticket '%s' was changed to %s.", ticket.Subject, ticket.Status),
			TicketID:        ticket.ID,
		})
	}

	return updated, nil
}

// ListTickets retrieves the viewer's tickets, paginated
func (s *TicketService) ListTickets(ctx context.Context, params ports.ListTicketsParams) ([]*domain.Ticket, error) {
	viewerID := params.ViewerID
	repoParams := ports.ListTicketsRepoParams{
		RequesterID: &viewerID,
		Status:      params.Status,
		Limit:       int32(params.Limit),
		Offset:      int32(params.Offset),
	}

	return s.ticketRepo.ListPaginated(ctx, repoParams)
}
