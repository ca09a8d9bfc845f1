package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
)

const (
	MaxSubjectLength = 255
	MaxBodyLength    = 10000
)

// TicketStatus represents the possible states of a support ticket.
type TicketStatus string

const (
	StatusOpen       TicketStatus = "OPEN"
	StatusInProgress TicketStatus = "IN_PROGRESS"
	StatusResolved   TicketStatus = "RESOLVED"
)

// Ticket is a support request, optionally tied to a machine.
type Ticket struct {
	ID          int64
	Subject     string
	Body        string
	Status      TicketStatus
	MachineID   *uuid.UUID
	RequesterID uuid.UUID
	AssigneeID  *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// TicketParams holds the input for opening a ticket.
type TicketParams struct {
	Subject     string
	Body        string
	MachineID   *uuid.UUID
	RequesterID uuid.UUID
}

// NewTicket is a factory function to create a valid new ticket.
func NewTicket(params TicketParams) (*Ticket, error) {
	if params.Subject == "" {
		return nil, apperrors.ErrSubjectRequired
	}
	if len(params.Subject) > MaxSubjectLength {
		return nil, apperrors.ErrSubjectTooLong
	}
	if len(params.Body) > MaxBodyLength {
		return nil, apperrors.ErrBodyTooLong
	}
	if params.RequesterID == uuid.Nil {
		return nil, apperrors.ErrRequesterRequired
	}

	return &Ticket{
		Subject:     params.Subject,
		Body:        params.Body,
		Status:      StatusOpen,
		MachineID:   params.MachineID,
		RequesterID: params.RequesterID,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// UpdateStatus changes the ticket's status, enforcing business rules.
func (t *Ticket) UpdateStatus(newStatus TicketStatus) error {
	// Defines the valid state transitions.
	validTransitions := map[TicketStatus][]TicketStatus{
		StatusOpen:       {StatusInProgress, StatusResolved},
		StatusInProgress: {StatusOpen, StatusResolved},
		StatusResolved:   {StatusOpen}, // Reopening a resolved ticket is allowed
	}

	allowed, ok := validTransitions[t.Status]
	if !ok {
		return apperrors.ErrInvalidStatusTransition
	}

	for _, s := range allowed {
		if s == newStatus {
			t.Status = newStatus
			now := time.Now().UTC()
			t.UpdatedAt = &now
			return nil
		}
	}

	return apperrors.ErrInvalidStatusTransition
}

// Assign sets or changes the assignee of the ticket.
func (t *Ticket) Assign(assigneeID uuid.UUID) error {
	if t.Status == StatusResolved {
		return apperrors.ErrInvalidStatusTransition
	}
	t.AssigneeID = &assigneeID
	now := time.Now().UTC()
	t.UpdatedAt = &now
	return nil
}

// IsOwnedBy reports whether the given user opened this ticket.
func (t *Ticket) IsOwnedBy(userID uuid.UUID) bool {
	return t.RequesterID == userID
}

// IsAssignedTo reports whether the given user is the current assignee.
func (t *Ticket) IsAssignedTo(userID uuid.UUID) bool {
	return t.AssigneeID != nil && *t.AssigneeID == userID
}
