package email

import (
	"context"
	"log/slog"

	"github.com/soilcycle/compost-backend/internal/core/ports"
)

// MockSMTPNotifier is a secondary adapter that mocks sending emails.
// It implements the ports.Notifier interface.
type MockSMTPNotifier struct {
	userRepo ports.UserRepository
	logger   *slog.Logger
}

var _ ports.Notifier = (*MockSMTPNotifier)(nil)

// NewMockSMTPNotifier creates a new mock notifier.
// It requires a UserRepository to fetch recipient details.
func NewMockSMTPNotifier(userRepo ports.UserRepository, logger *slog.Logger) *MockSMTPNotifier {
	return &MockSMTPNotifier{
		userRepo: userRepo,
		logger:   logger.With("component", "email_notifier"),
	}
}

// Notify logs the notification to the console instead of sending an email.
// Callers fire it in a goroutine; delivery is best-effort and failures are
// only logged.
func (n *MockSMTPNotifier) Notify(ctx context.Context, params ports.NotifyParams) {
	// Use a fresh context in case the original request context is cancelled.
	notifyCtx := context.Background()

	user, err := n.userRepo.GetByID(notifyCtx, params.RecipientUserID)
	if err != nil {
		n.logger.Error("failed to get user for notification",
			"user_id", params.RecipientUserID,
			"error", err,
		)
		return
	}

	n.logger.Info("mock email sent",
		"to_name", user.FullName,
		"to_email", user.Email,
		"subject", params.Subject,
		"ticket_id", params.TicketID,
	)
}
