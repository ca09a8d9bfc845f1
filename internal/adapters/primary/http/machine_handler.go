package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/soilcycle/compost-backend/internal/adapters/primary/http/middleware"
	"github.com/soilcycle/compost-backend/internal/adapters/primary/validation"
	"github.com/soilcycle/compost-backend/internal/auth"
	"github.com/soilcycle/compost-backend/internal/core/domain"
	"github.com/soilcycle/compost-backend/internal/core/ports"
)

// MachineHandler handles HTTP requests for machines.
type MachineHandler struct {
	machineService      ports.MachineService
	notificationHandler *NotificationHandler
	errorHandler        *ErrorHandler
	logger              *slog.Logger
}

// NewMachineHandler creates a new MachineHandler.
func NewMachineHandler(
	machineService ports.MachineService,
	notificationHandler *NotificationHandler,
	errorHandler *ErrorHandler,
	logger *slog.Logger,
) *MachineHandler {
	return &MachineHandler{
		machineService:      machineService,
		notificationHandler: notificationHandler,
		errorHandler:        errorHandler,
		logger:              logger.With("handler", "machine"),
	}
}

// Router sets up a new chi Router for all machine-related routes.
func (h *MachineHandler) Router() http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes sets up the routing for all machine endpoints.
func (h *MachineHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleListMachines)
	r.Post("/", h.HandleRegisterMachine)

	r.Route("/{machineID}", func(r chi.Router) {
		r.Get("/", h.HandleGetMachine)

		// Mount the notification routes nested under /machines/{machineID}
		if h.notificationHandler != nil {
			r.Mount("/notifications", h.notificationHandler.Router())
		}
	})
}

// --- Request/Response DTOs ---

// RegisterMachineRequest defines the expected JSON body for registering a machine
type RegisterMachineRequest struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	SerialNumber string `json:"serialNumber"`
}

// Validate validates the register machine request
func (r *RegisterMachineRequest) Validate() error {
	v := validation.NewValidator()

	v.Required("name", r.Name).
		MaxLength("name", r.Name, domain.MaxMachineNameLength)

	v.Required("serialNumber", r.SerialNumber).
		MaxLength("serialNumber", r.SerialNumber, domain.MaxSerialLength)

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// MachineDTO defines the JSON response for machines.
type MachineDTO struct {
	ID           string  `json:"id"`
	OwnerID      string  `json:"ownerId"`
	Name         string  `json:"name"`
	Model        string  `json:"model,omitempty"`
	SerialNumber string  `json:"serialNumber"`
	RegisteredAt string  `json:"registeredAt"`
	LastSeenAt   *string `json:"lastSeenAt"`
}

func toMachineDTO(machine *domain.Machine) MachineDTO {
	var lastSeenAt *string
	if machine.LastSeenAt != nil {
		value := machine.LastSeenAt.Format(time.RFC3339)
		lastSeenAt = &value
	}

	return MachineDTO{
		ID:           machine.ID.String(),
		OwnerID:      machine.OwnerID.String(),
		Name:         machine.Name,
		Model:        machine.Model,
		SerialNumber: machine.SerialNumber,
		RegisteredAt: machine.RegisteredAt.Format(time.RFC3339),
		LastSeenAt:   lastSeenAt,
	}
}

func toMachineDTOs(machines []*domain.Machine) []MachineDTO {
	response := make([]MachineDTO, 0, len(machines))
	for _, machine := range machines {
		response = append(response, toMachineDTO(machine))
	}
	return response
}

// --- Handlers ---

// HandleListMachines handles GET /machines
func (h *MachineHandler) HandleListMachines(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.getClaims(w, r)
	if !ok {
		return
	}

	machines, err := h.machineService.ListMachines(r.Context(), claims.UserID)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteList(w, toMachineDTOs(machines))
}

// HandleRegisterMachine handles POST /machines
func (h *MachineHandler) HandleRegisterMachine(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.getClaims(w, r)
	if !ok {
		return
	}

	req, err := validation.DecodeAndValidate[RegisterMachineRequest](r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	if err := req.Validate(); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	params := ports.RegisterMachineParams{
		OwnerID:      claims.UserID,
		Name:         req.Name,
		Model:        req.Model,
		SerialNumber: req.SerialNumber,
	}

	machine, err := h.machineService.RegisterMachine(r.Context(), params)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	h.logger.Info("machine registered",
		"machine_id", machine.ID,
		"user_id", claims.UserID,
	)

	WriteCreated(w, toMachineDTO(machine))
}

// HandleGetMachine handles GET /machines/{machineID}
func (h *MachineHandler) HandleGetMachine(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.getClaims(w, r)
	if !ok {
		return
	}

	machineID, err := parseMachineID(r)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	machine, err := h.machineService.GetMachine(r.Context(), machineID, claims.UserID)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, toMachineDTO(machine))
}

// --- Helper methods ---

// getClaims extracts and validates user claims from the request context
func (h *MachineHandler) getClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := mw.GetClaims(r.Context())
	if !ok {
		WriteJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error: "Not authorized",
			Code:  "UNAUTHORIZED",
		})
		return nil, false
	}
	return claims, true
}

// parseMachineID extracts and validates the machine ID from the URL
func parseMachineID(r *http.Request) (uuid.UUID, error) {
	machineIDStr := chi.URLParam(r, "machineID")
	machineID, err := uuid.Parse(machineIDStr)
	if err != nil {
		v := validation.NewValidator()
		v.Custom("machineID", false, "Invalid machine ID")
		return uuid.Nil, v.Errors()
	}
	return machineID, nil
}
