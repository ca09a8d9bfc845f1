package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/soilcycle/compost-backend/internal/core/domain"
)

// AuthService defines the port for authentication business logic.
type AuthService interface {
	Register(ctx context.Context, params domain.UserRegistrationParams) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*domain.User, error)
}

// RegisterMachineParams defines the input for registering a machine.
type RegisterMachineParams struct {
	OwnerID      uuid.UUID
	Name         string
	Model        string
	SerialNumber string
}

// MachineService defines the port for machine management.
type MachineService interface {
	RegisterMachine(ctx context.Context, params RegisterMachineParams) (*domain.Machine, error)
	GetMachine(ctx context.Context, machineID, viewerID uuid.UUID) (*domain.Machine, error)
	ListMachines(ctx context.Context, ownerID uuid.UUID) ([]*domain.Machine, error)
}

// RecordNotificationParams defines the input for a device-reported notification.
type RecordNotificationParams struct {
	MachineID uuid.UUID
	Code      string
	Severity  domain.NotificationSeverity
	Message   string
}

// ListNotificationsParams defines the input for listing machine notifications.
type ListNotificationsParams struct {
	MachineID uuid.UUID
	ViewerID  uuid.UUID
	Limit     int
}

// NotificationService defines the port for machine notification logic.
type NotificationService interface {
	RecordNotification(ctx context.Context, params RecordNotificationParams) (*domain.MachineNotification, error)
	ListNotifications(ctx context.Context, params ListNotificationsParams) ([]*domain.MachineNotification, error)
}

// CreateTicketParams defines the required input for opening a new ticket.
type CreateTicketParams struct {
	Subject     string
	Body        string
	MachineID   *uuid.UUID
	RequesterID uuid.UUID
}

// UpdateStatusParams defines the input for changing a ticket's status.
type UpdateStatusParams struct {
	TicketID int64
	Status   domain.TicketStatus
	ActorID  uuid.UUID
}

// ListTicketsParams defines the input for listing tickets.
type ListTicketsParams struct {
	ViewerID uuid.UUID
	Limit    int
	Offset   int
	Status   *string
}

// TicketService defines the core business operations for managing tickets.
type TicketService interface {
	CreateTicket(ctx context.Context, params CreateTicketParams) (*domain.Ticket, error)
	GetTicket(ctx context.Context, ticketID int64, viewerID uuid.UUID) (*domain.Ticket, error)
	UpdateStatus(ctx context.Context, params UpdateStatusParams) (*domain.Ticket, error)
	ListTickets(ctx context.Context, params ListTicketsParams) ([]*domain.Ticket, error)
}

// CreateMessageParams defines the input for posting a ticket message.
type CreateMessageParams struct {
	TicketID int64
	ActorID  uuid.UUID
	Body     string
}

// GetMessagesParams defines the input for retrieving a ticket's messages.
type GetMessagesParams struct {
	TicketID int64
	ActorID  uuid.UUID
}

// MessageService defines the port for ticket message business logic.
type MessageService interface {
	CreateMessage(ctx context.Context, params CreateMessageParams) (*domain.TicketMessage, error)
	GetMessagesForTicket(ctx context.Context, params GetMessagesParams) ([]*domain.TicketMessage, error)
}

// NotifyParams defines the input for sending an out-of-band notification.
type NotifyParams struct {
	RecipientUserID uuid.UUID
	Subject         string
	Message         string
	TicketID        int64
}

// Notifier defines the port for sending asynchronous email/SMS notifications.
type Notifier interface {
	Notify(ctx context.Context, params NotifyParams)
}
