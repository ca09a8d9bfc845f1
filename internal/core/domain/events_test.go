package domain_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soilcycle/compost-backend/internal/core/domain"
	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
)

func TestParseRoomKey(t *testing.T) {
	machineID := uuid.New()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"ticket room", "ticket:42", false},
		{"machine room", "machine:" + machineID.String(), false},
		{"unknown namespace", "garage:42", true},
		{"missing separator", "ticket42", true},
		{"empty id", "ticket:", true},
		{"non-numeric ticket id", "ticket:abc", true},
		{"negative ticket id", "ticket:-1", true},
		{"zero ticket id", "ticket:0", true},
		{"non-uuid machine id", "machine:42", true},
		{"empty string", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := domain.ParseRoomKey(tt.raw)

			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidRoomKey)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.raw, key.String())
		})
	}
}

func TestRoomKeyConstructors(t *testing.T) {
	machineID := uuid.New()

	ticketKey := domain.TicketRoom(42)
	assert.Equal(t, "ticket:42", ticketKey.String())

	machineKey := domain.MachineRoom(machineID)
	assert.Equal(t, "machine:"+machineID.String(), machineKey.String())

	// Constructed keys must round-trip through the parser.
	_, err := domain.ParseRoomKey(ticketKey.String())
	require.NoError(t, err)
	_, err = domain.ParseRoomKey(machineKey.String())
	require.NoError(t, err)
}

func TestEventKind_Valid(t *testing.T) {
	assert.True(t, domain.EventNotificationCreated.Valid())
	assert.True(t, domain.EventMessageCreated.Valid())
	assert.True(t, domain.EventTicketUpdated.Valid())
	assert.False(t, domain.EventKind("ROW_DELETED").Valid())
	assert.False(t, domain.EventKind("").Valid())
}
