package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
	"github.com/soilcycle/compost-backend/internal/core/mocks"
	"github.com/soilcycle/compost-backend/internal/core/ports"
	"github.com/soilcycle/compost-backend/internal/core/services"
)

func TestTicketService_CreateTicket(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("success", func(t *testing.T) {
		mockRepo := mocks.NewMockTicketRepository()
		mockNotifier := mocks.NewMockNotifier()

		svc := services.NewTicketService(mockRepo, mockNotifier)

		mockRepo.On("Create", ctx, mock.AnythingOfType("*domain.Ticket")).
			Return(&domain.Ticket{
				ID:          1,
				Subject:     "Drum stalled",
				Body:        "Stopped mid cycle",
				Status:      domain.StatusOpen,
				RequesterID: userID,
			}, nil)

		ticket, err := svc.CreateTicket(ctx, ports.CreateTicketParams{
			Subject:     "Drum stalled",
			Body:        "Stopped mid cycle",
			RequesterID: userID,
		})

		require.NoError(t, err)
		assert.Equal(t, int64(1), ticket.ID)
		assert.Equal(t, domain.StatusOpen, ticket.Status)
		mockRepo.AssertExpectations(t)
	})

	t.Run("validation error for empty subject", func(t *testing.T) {
		mockRepo := mocks.NewMockTicketRepository()
		mockNotifier := mocks.NewMockNotifier()

		svc := services.NewTicketService(mockRepo, mockNotifier)

		ticket, err := svc.CreateTicket(ctx, ports.CreateTicketParams{
			Body:        "No subject",
			RequesterID: userID,
		})

		assert.Nil(t, ticket)
		assert.ErrorIs(t, err, apperrors.ErrSubjectRequired)
		mockRepo.AssertNotCalled(t, "Create")
	})
}

func TestTicketService_GetTicket(t *testing.T) {
	ctx := context.Background()
	requesterID := uuid.New()
	assigneeID := uuid.New()
	strangerID := uuid.New()
	ticketID := int64(7)

	ticket := &domain.Ticket{
		ID:          ticketID,
		Subject:     "Odour complaint",
		Status:      domain.StatusOpen,
		RequesterID: requesterID,
		AssigneeID:  &assigneeID,
	}

	tests := []struct {
		name      string
		viewerID  uuid.UUID
		expectErr error
	}{
		{"requester can view", requesterID, nil},
		{"assignee can view", assigneeID, nil},
		{"stranger is forbidden", strangerID, apperrors.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := mocks.NewMockTicketRepository()
			mockNotifier := mocks.NewMockNotifier()
			svc := services.NewTicketService(mockRepo, mockNotifier)

			mockRepo.On("GetByID", ctx, ticketID).Return(ticket, nil)

			got, err := svc.GetTicket(ctx, ticketID, tt.viewerID)

			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ticketID, got.ID)
		})
	}

	t.Run("not found", func(t *testing.T) {
		mockRepo := mocks.NewMockTicketRepository()
		mockNotifier := mocks.NewMockNotifier()
		svc := services.NewTicketService(mockRepo, mockNotifier)

		mockRepo.On("GetByID", ctx, int64(99)).Return(nil, apperrors.ErrTicketNotFound)

		_, err := svc.GetTicket(ctx, 99, requesterID)
		assert.ErrorIs(t, err, apperrors.ErrTicketNotFound)
	})
}

func TestTicketService_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	requesterID := uuid.New()
	assigneeID := uuid.New()
	ticketID := int64(7)

	t.Run("assignee resolves a ticket and the requester is notified", func(t *testing.T) {
		mockRepo := mocks.NewMockTicketRepository()
		mockNotifier := mocks.NewMockNotifier()
		svc := services.NewTicketService(mockRepo, mockNotifier)

		ticket := &domain.Ticket{
			ID:          ticketID,
			Subject:     "Drum stalled",
			Status:      domain.StatusInProgress,
			RequesterID: requesterID,
			AssigneeID:  &assigneeID,
		}
		mockRepo.On("GetByID", ctx, ticketID).Return(ticket, nil)
		mockRepo.On("Update", ctx, mock.AnythingOfType("*domain.Ticket")).
			Return(ticket, nil)

		notified := make(chan struct{})
		mockNotifier.On("Notify", mock.Anything, mock.MatchedBy(func(p ports.NotifyParams) bool {
			return p.RecipientUserID == requesterID && p.TicketID == ticketID
		})).Run(func(mock.Arguments) { close(notified) }).Return()

		updated, err := svc.UpdateStatus(ctx, ports.UpdateStatusParams{
			TicketID: ticketID,
			Status:   domain.StatusResolved,
			ActorID:  assigneeID,
		})

		require.NoError(t, err)
		assert.Equal(t, domain.StatusResolved, updated.Status)

		select {
		case <-notified:
		case <-time.After(time.Second):
			t.Fatal("requester was not notified")
		}
		mockRepo.AssertExpectations(t)
	})

	t.Run("invalid transition is rejected", func(t *testing.T) {
		mockRepo := mocks.NewMockTicketRepository()
		mockNotifier := mocks.NewMockNotifier()
		svc := services.NewTicketService(mockRepo, mockNotifier)

		mockRepo.On("GetByID", ctx, ticketID).Return(&domain.Ticket{
			ID:          ticketID,
			Status:      domain.StatusResolved,
			RequesterID: requesterID,
		}, nil)

		_, err := svc.UpdateStatus(ctx, ports.UpdateStatusParams{
			TicketID: ticketID,
			Status:   domain.StatusInProgress,
			ActorID:  requesterID,
		})

		assert.ErrorIs(t, err, apperrors.ErrInvalidStatusTransition)
		mockRepo.AssertNotCalled(t, "Update")
	})

	t.Run("non-participant is forbidden", func(t *testing.T) {
		mockRepo := mocks.NewMockTicketRepository()
		mockNotifier := mocks.NewMockNotifier()
		svc := services.NewTicketService(mockRepo, mockNotifier)

		mockRepo.On("GetByID", ctx, ticketID).Return(&domain.Ticket{
			ID:          ticketID,
			Status:      domain.StatusOpen,
			RequesterID: requesterID,
		}, nil)

		_, err := svc.UpdateStatus(ctx, ports.UpdateStatusParams{
			TicketID: ticketID,
			Status:   domain.StatusInProgress,
			ActorID:  uuid.New(),
		})

		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})
}

func TestMessageService_CreateMessage(t *testing.T) {
	ctx := context.Background()
	requesterID := uuid.New()
	assigneeID := uuid.New()
	ticketID := int64(42)

	ticket := &domain.Ticket{
		ID:          ticketID,
		Subject:     "Drum stalled",
		Status:      domain.StatusOpen,
		RequesterID: requesterID,
		AssigneeID:  &assigneeID,
	}

	t.Run("participant posts a message", func(t *testing.T) {
		mockMsgRepo := mocks.NewMockMessageRepository()
		mockTicketSvc := mocks.NewMockTicketService()
		mockNotifier := mocks.NewMockNotifier()
		svc := services.NewMessageService(mockMsgRepo, mockTicketSvc, mockNotifier)

		mockTicketSvc.On("GetTicket", ctx, ticketID, requesterID).Return(ticket, nil)
		mockMsgRepo.On("Create", ctx, mock.AnythingOfType("*domain.TicketMessage")).
			Return(&domain.TicketMessage{
				ID:       9,
				TicketID: ticketID,
				SenderID: requesterID,
				Body:     "Any update?",
			}, nil)

		notified := make(chan struct{})
		mockNotifier.On("Notify", mock.Anything, mock.MatchedBy(func(p ports.NotifyParams) bool {
			return p.RecipientUserID == assigneeID
		})).Run(func(mock.Arguments) { close(notified) }).Return()

		msg, err := svc.CreateMessage(ctx, ports.CreateMessageParams{
			TicketID: ticketID,
			ActorID:  requesterID,
			Body:     "Any update?",
		})

		require.NoError(t, err)
		assert.Equal(t, int64(9), msg.ID)

		select {
		case <-notified:
		case <-time.After(time.Second):
			t.Fatal("assignee was not notified")
		}
	})

	t.Run("non-participant cannot post", func(t *testing.T) {
		mockMsgRepo := mocks.NewMockMessageRepository()
		mockTicketSvc := mocks.NewMockTicketService()
		mockNotifier := mocks.NewMockNotifier()
		svc := services.NewMessageService(mockMsgRepo, mockTicketSvc, mockNotifier)

		strangerID := uuid.New()
		mockTicketSvc.On("GetTicket", ctx, ticketID, strangerID).
			Return(nil, apperrors.ErrForbidden)

		_, err := svc.CreateMessage(ctx, ports.CreateMessageParams{
			TicketID: ticketID,
			ActorID:  strangerID,
			Body:     "let me in",
		})

		assert.ErrorIs(t, err, apperrors.ErrForbidden)
		mockMsgRepo.AssertNotCalled(t, "Create")
	})
}
