package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/soilcycle/compost-backend/internal/core/domain"
)

// UserRepository defines the port for user persistence.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// MachineRepository defines the port for machine persistence.
type MachineRepository interface {
	Create(ctx context.Context, machine *domain.Machine) (*domain.Machine, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Machine, error)
	GetBySerial(ctx context.Context, serial string) (*domain.Machine, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Machine, error)
	TouchLastSeen(ctx context.Context, id uuid.UUID) error
}

// NotificationRepository defines the port for machine notification persistence.
type NotificationRepository interface {
	Create(ctx context.Context, notification *domain.MachineNotification) (*domain.MachineNotification, error)
	ListByMachine(ctx context.Context, machineID uuid.UUID, limit int32) ([]*domain.MachineNotification, error)
}

// ListTicketsRepoParams defines the repository-level filters for listing tickets.
type ListTicketsRepoParams struct {
	RequesterID *uuid.UUID
	Status      *string
	Limit       int32
	Offset      int32
}

// TicketRepository defines the port for ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error)
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	Update(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error)
	ListPaginated(ctx context.Context, params ListTicketsRepoParams) ([]*domain.Ticket, error)
}

// MessageRepository defines the port for ticket message persistence.
type MessageRepository interface {
	Create(ctx context.Context, message *domain.TicketMessage) (*domain.TicketMessage, error)
	ListByTicketID(ctx context.Context, ticketID int64) ([]*domain.TicketMessage, error)
}

// TransactionManager defines the port for running atomic operations.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
