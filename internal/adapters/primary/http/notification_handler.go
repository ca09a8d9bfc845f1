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
	apperrors "github.com/soilcycle/compost-backend/internal/core/errors"
	"github.com/soilcycle/compost-backend/internal/core/ports"
)

const (
	defaultNotificationsLimit = 50
	maxNotificationsLimit     = 200
)

// NotificationHandler handles HTTP requests for machine notifications.
type NotificationHandler struct {
	notificationService ports.NotificationService
	ingestLimiter       *mw.RateLimitByKey
	errorHandler        *ErrorHandler
	logger              *slog.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(
	notificationService ports.NotificationService,
	ingestLimiter *mw.RateLimitByKey,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		ingestLimiter:       ingestLimiter,
		errorHandler:        errorHandler,
		logger:              logger.With("handler", "notification"),
	}
}

// Router sets up a new chi Router for notification routes.
func (h *NotificationHandler) Router() http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the notification endpoints.
// These routes are relative to /api/v1/machines/{machineID}/notifications
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.HandleRecordNotification)
	r.Get("/", h.HandleListNotifications)
}

// --- Request DTOs ---

// RecordNotificationRequest defines the expected JSON body for a device report
type RecordNotificationRequest struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Validate validates the record notification request
func (r *RecordNotificationRequest) Validate() error {
	v := validation.NewValidator()

	v.Required("code", r.Code)

	v.Required("severity", r.Severity).
		OneOf("severity", r.Severity, []string{"INFO", "WARNING", "FAULT"})

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// NotificationDTO defines the JSON response for notifications.
type NotificationDTO struct {
	ID        string `json:"id"`
	MachineID string `json:"machineId"`
	Code      string `json:"code"`
	Severity  string `json:"severity"`
	Message   string `json:"message,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func toNotificationDTO(n *domain.MachineNotification) NotificationDTO {
	return NotificationDTO{
		ID:        strconv.FormatInt(n.ID, 10),
		MachineID: n.MachineID.String(),
		Code:      n.Code,
		Severity:  string(n.Severity),
		Message:   n.Message,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
}

func toNotificationDTOs(notifications []*domain.MachineNotification) []NotificationDTO {
	response := make([]NotificationDTO, 0, len(notifications))
	for _, n := range notifications {
		response = append(response, toNotificationDTO(n))
	}
	return response
}

// --- Handlers ---

// HandleRecordNotification handles requests to record a device-reported notification.
func (h *NotificationHandler) HandleRecordNotification(w http.ResponseWriter, r *http.Request) {
	machineID, err := parseMachineID(r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	// Per-machine limit so a misbehaving appliance cannot flood the feed
	if h.ingestLimiter != nil && !h.ingestLimiter.Allow(machineID.String()) {
		h.errorHandler.Handle(w, r, apperrors.NewRateLimitError())
		return
	}

	req, err := validation.DecodeAndValidate[RecordNotificationRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	if err := req.Validate(); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	params := ports.RecordNotificationParams{
		MachineID: machineID,
		Code:      req.Code,
		Severity:  domain.NotificationSeverity(req.Severity),
		Message:   req.Message,
	}

	notification, err := h.notificationService.RecordNotification(r.Context(), params)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	h.logger.Info("notification recorded",
		"notification_id", notification.ID,
		"machine_id", machineID,
		"severity", notification.Severity,
	)

	WriteCreated(w, toNotificationDTO(notification))
}

// HandleListNotifications handles requests to list a machine's notifications.
func (h *NotificationHandler) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	claims, ok := mw.GetClaims(r.Context())
	if !ok {
		WriteJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error: "Not authorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	machineID, err := parseMachineID(r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	limit := defaultNotificationsLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > maxNotificationsLimit {
			v := validation.NewValidator()
			v.Custom("limit", false, "limit must be between 1 and "+strconv.Itoa(maxNotificationsLimit))
			h.errorHandler.Handle(w, r, v.Errors())
			return
		}
		limit = parsed
	}

	params := ports.ListNotificationsParams{
		MachineID: machineID,
		ViewerID:  claims.UserID,
		Limit:     limit,
	}

	notifications, err := h.notificationService.ListNotifications(r.Context(), params)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteList(w, toNotificationDTOs(notifications))
}
