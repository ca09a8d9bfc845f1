package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soilcycle/compost-backend/internal/core/domain"
)

func TestMessageRepository_CreateAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(testPool)

	requester := seedUser(t)
	agent := seedUser(t)
	ticket := seedTicket(t, requester.ID, nil)
	otherTicket := seedTicket(t, requester.ID, nil)

	first, err := repo.Create(ctx, &domain.TicketMessage{
		TicketID:  ticket.ID,
		SenderID:  requester.ID,
		Body:      "The drum stopped turning again this morning.",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Positive(t, first.ID)

	second, err := repo.Create(ctx, &domain.TicketMessage{
		TicketID:  ticket.ID,
		SenderID:  agent.ID,
		Body:      "Thanks, could you power-cycle the unit?",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &domain.TicketMessage{
		TicketID:  otherTicket.ID,
		SenderID:  requester.ID,
		Body:      "Unrelated conversation.",
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	messages, err := repo.ListByTicketID(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	// Oldest first, the order a conversation renders in.
	assert.Equal(t, first.ID, messages[0].ID)
	assert.Equal(t, second.ID, messages[1].ID)
	assert.Equal(t, agent.ID, messages[1].SenderID)
}

func TestMessageRepository_ListByTicketID_Empty(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(testPool)

	requester := seedUser(t)
	ticket := seedTicket(t, requester.ID, nil)

	messages, err := repo.ListByTicketID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}
