package domain

import (
	"strconv"
	"time"
)

// NotificationSnapshot matches the API response shape for machine notifications.
type NotificationSnapshot struct {
	ID        string `json:"id"`
	MachineID string `json:"machineId"`
	Code      string `json:"code"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
}

// MessageSnapshot matches the API response shape for ticket messages.
//
// The id and senderId fields are what a dashboard client keys its optimistic
// placeholder reconciliation on: a pending placeholder in the same room with
// a matching sender is replaced by this snapshot, and a snapshot whose id was
// already applied is ignored.
type MessageSnapshot struct {
	ID        string `json:"id"`
	TicketID  int64  `json:"ticketId"`
	SenderID  string `json:"senderId"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
}

// TicketSnapshot matches the API response shape for tickets.
type TicketSnapshot struct {
	ID          int64   `json:"id"`
	Subject     string  `json:"subject"`
	Body        string  `json:"body"`
	Status      string  `json:"status"`
	MachineID   *string `json:"machineId"`
	RequesterID string  `json:"requesterId"`
	AssigneeID  *string `json:"assigneeId"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   *string `json:"updatedAt"`
}

// MachineSnapshot matches the API response shape for machines.
type MachineSnapshot struct {
	ID           string  `json:"id"`
	OwnerID      string  `json:"ownerId"`
	Name         string  `json:"name"`
	Model        string  `json:"model"`
	SerialNumber string  `json:"serialNumber"`
	RegisteredAt string  `json:"registeredAt"`
	LastSeenAt   *string `json:"lastSeenAt"`
}

// NewNotificationSnapshot builds a snapshot from a domain notification.
func NewNotificationSnapshot(n *MachineNotification) NotificationSnapshot {
	return NotificationSnapshot{
		ID:        strconv.FormatInt(n.ID, 10),
		MachineID: n.MachineID.String(),
		Code:      n.Code,
		Severity:  string(n.Severity),
		Message:   n.Message,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// NewMessageSnapshot builds a snapshot from a domain ticket message.
func NewMessageSnapshot(m *TicketMessage) MessageSnapshot {
	return MessageSnapshot{
		ID:        strconv.FormatInt(m.ID, 10),
		TicketID:  m.TicketID,
		SenderID:  m.SenderID.String(),
		Body:      m.Body,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// NewTicketSnapshot builds a snapshot from a domain ticket.
func NewTicketSnapshot(ticket *Ticket) TicketSnapshot {
	var machineID *string
	if ticket.MachineID != nil {
		value := ticket.MachineID.String()
		machineID = &value
	}

	var assigneeID *string
	if ticket.AssigneeID != nil {
		value := ticket.AssigneeID.String()
		assigneeID = &value
	}

	var updatedAt *string
	if ticket.UpdatedAt != nil {
		value := ticket.UpdatedAt.UTC().Format(time.RFC3339)
		updatedAt = &value
	}

	return TicketSnapshot{
		ID:          ticket.ID,
		Subject:     ticket.Subject,
		Body:        ticket.Body,
		Status:      string(ticket.Status),
		MachineID:   machineID,
		RequesterID: ticket.RequesterID.String(),
		AssigneeID:  assigneeID,
		CreatedAt:   ticket.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   updatedAt,
	}
}

// NewMachineSnapshot builds a snapshot from a domain machine.
func NewMachineSnapshot(m *Machine) MachineSnapshot {
	var lastSeen *string
	if m.LastSeenAt != nil {
		value := m.LastSeenAt.UTC().Format(time.RFC3339)
		lastSeen = &value
	}

	return MachineSnapshot{
		ID:           m.ID.String(),
		OwnerID:      m.OwnerID.String(),
		Name:         m.Name,
		Model:        m.Model,
		SerialNumber: m.SerialNumber,
		RegisteredAt: m.RegisteredAt.UTC().Format(time.RFC3339),
		LastSeenAt:   lastSeen,
	}
}
