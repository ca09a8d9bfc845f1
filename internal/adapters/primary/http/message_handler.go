package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/soilcycle/compost-backend/internal/adapters/primary/http/middleware"
	"github.com/soilcycle/compost-backend/internal/adapters/primary/validation"
	"github.com/soilcycle/compost-backend/internal/core/domain"
	"github.com/soilcycle/compost-backend/internal/core/ports"
)

// MessageHandler handles HTTP requests for ticket messages.
type MessageHandler struct {
	messageService ports.MessageService
	errorHandler   *ErrorHandler
	logger         *slog.Logger
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(
	messageService ports.MessageService,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		errorHandler:   errorHandler,
		logger:         logger.With("handler", "message"),
	}
}

// Router sets up a new chi Router for message routes.
func (h *MessageHandler) Router() http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the message-specific endpoints.
// These routes are relative to /api/v1/tickets/{ticketID}/messages
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.HandleCreateMessage)
	r.Get("/", h.HandleListMessages)
}

// --- Request DTOs ---

// CreateMessageRequest defines the expected JSON body for posting a message
type CreateMessageRequest struct {
	Body string `json:"body"`
}

// Validate validates the create message request
func (r *CreateMessageRequest) Validate() error {
	v := validation.NewValidator()

	v.Required("body", r.Body).
		MaxLength("body", r.Body, domain.MaxMessageLength)

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// MessageDTO defines the JSON response for messages.
type MessageDTO struct {
	ID        string `json:"id"`
	TicketID  int64  `json:"ticketId"`
	SenderID  string `json:"senderId"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
}

func toMessageDTO(message *domain.TicketMessage) MessageDTO {
	return MessageDTO{
		ID:        strconv.FormatInt(message.ID, 10),
		TicketID:  message.TicketID,
		SenderID:  message.SenderID.String(),
		Body:      message.Body,
		CreatedAt: message.CreatedAt.Format(time.RFC3339),
	}
}

func toMessageDTOs(messages []*domain.TicketMessage) []MessageDTO {
	response := make([]MessageDTO, 0, len(messages))
	for _, message := range messages {
		response = append(response, toMessageDTO(message))
	}
	return response
}

// --- Handlers ---

// HandleCreateMessage handles requests to post a new message.
func (h *MessageHandler) HandleCreateMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := mw.GetClaims(r.Context())
	if !ok {
		WriteJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error: "Not authorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	ticketID, err := parseTicketID(r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	req, err := validation.DecodeAndValidate[CreateMessageRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	if err := req.Validate(); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	params := ports.CreateMessageParams{
		TicketID: ticketID,
		ActorID:  claims.UserID,
		Body:     req.Body,
	}

	message, err := h.messageService.CreateMessage(r.Context(), params)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	h.logger.Info("message created",
		"message_id", message.ID,
		"ticket_id", ticketID,
		"user_id", claims.UserID,
	)

	WriteCreated(w, toMessageDTO(message))
}

// HandleListMessages handles requests to list a ticket's messages.
func (h *MessageHandler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	claims, ok := mw.GetClaims(r.Context())
	if !ok {
		WriteJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error: "Not authorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	ticketID, err := parseTicketID(r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	params := ports.GetMessagesParams{
		TicketID: ticketID,
		ActorID:  claims.UserID,
	}

	messages, err := h.messageService.GetMessagesForTicket(r.Context(), params)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteList(w, toMessageDTOs(messages))
}
