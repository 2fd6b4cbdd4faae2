package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/application/services"
	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
)

// AppointmentService defines the appointment operations the handler needs
type AppointmentService interface {
	ScheduleAppointment(ctx context.Context, req services.ScheduleRequest) (*entities.Appointment, error)
	CancelAppointment(ctx context.Context, id, userID string) (*entities.Appointment, error)
	UpdateStatus(ctx context.Context, id string, status entities.AppointmentStatus) (*entities.Appointment, error)
	GetAppointment(ctx context.Context, id, userID string) (*entities.Appointment, error)
	ListAppointments(ctx context.Context, filter repositories.AppointmentFilter) ([]*entities.Appointment, error)
}

// SlotService computes bookable slots
type SlotService interface {
	GetAvailableSlots(ctx context.Context, communityID, date string) ([]entities.TimeSlot, error)
}

// AppointmentHandler handles appointment requests
type AppointmentHandler struct {
	service AppointmentService
	slots   SlotService
	logger  zerolog.Logger
}

// NewAppointmentHandler creates a new appointment handler
func NewAppointmentHandler(service AppointmentService, slots SlotService, logger zerolog.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		service: service,
		slots:   slots,
		logger:  logger.With().Str("component", "appointment_handler").Logger(),
	}
}

type scheduleRequest struct {
	CommunityID string                   `json:"community_id"`
	Date        string                   `json:"date"`
	Time        string                   `json:"time"`
	Type        entities.AppointmentType `json:"type"`
	Notes       string                   `json:"notes"`
	Duration    int                      `json:"duration"`
}

type statusRequest struct {
	Status entities.AppointmentStatus `json:"status"`
}

// GetSlots handles GET /api/communities/{id}/slots?date=YYYY-MM-DD
func (h *AppointmentHandler) GetSlots(w http.ResponseWriter, r *http.Request) {
	communityID := r.PathValue("id")
	date := r.URL.Query().Get("date")
	if date == "" {
		respondWithError(w, http.StatusBadRequest, "date query parameter is required")
		return
	}

	slots, err := h.slots.GetAvailableSlots(r.Context(), communityID, date)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"community_id": communityID,
		"date":         date,
		"slots":        slots,
	})
}

// ScheduleAppointment handles POST /api/appointments
func (h *AppointmentHandler) ScheduleAppointment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	appointment, err := h.service.ScheduleAppointment(r.Context(), services.ScheduleRequest{
		UserID:      userID,
		CommunityID: req.CommunityID,
		Date:        req.Date,
		Time:        req.Time,
		Type:        req.Type,
		Notes:       req.Notes,
		Duration:    req.Duration,
	})
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, appointment)
}

// ListMyAppointments handles GET /api/appointments
func (h *AppointmentHandler) ListMyAppointments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.list(w, r, userID)
}

// ListCommunityAppointments handles GET /api/admin/appointments?community_id=
func (h *AppointmentHandler) ListCommunityAppointments(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("community_id") == "" {
		respondWithError(w, http.StatusBadRequest, "community_id query parameter is required")
		return
	}
	h.list(w, r, "")
}

func (h *AppointmentHandler) list(w http.ResponseWriter, r *http.Request, userID string) {
	query := r.URL.Query()
	filter := repositories.AppointmentFilter{
		UserID:      userID,
		CommunityID: query.Get("community_id"),
		Status:      entities.AppointmentStatus(query.Get("status")),
	}

	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := query.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid "+key+" date format (use RFC3339)")
			return
		}
		*dst = &t
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit", 50); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	appointments, err := h.service.ListAppointments(r.Context(), filter)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"appointments": appointments,
		"count":        len(appointments),
	})
}

// GetAppointment handles GET /api/appointments/{id}
func (h *AppointmentHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	appointment, err := h.service.GetAppointment(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, appointment)
}

// CancelAppointment handles POST /api/appointments/{id}/cancel
func (h *AppointmentHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	appointment, err := h.service.CancelAppointment(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, appointment)
}

// UpdateStatus handles PATCH /api/admin/appointments/{id}/status
func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	appointment, err := h.service.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		respondWithAppError(w, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, appointment)
}
