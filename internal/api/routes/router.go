package routes

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/api/handlers"
	"github.com/metacircle/backend/internal/api/middleware"
	"github.com/metacircle/backend/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	appointmentHandler *handlers.AppointmentHandler
	adminHandler       *handlers.AdminHandler
	activityHandler    *handlers.ActivityHandler
	sseHandler         *handlers.SSEHandler
	healthHandler      *handlers.HealthHandler

	throttle       *middleware.ThrottleStore
	allowedOrigins []string
	metrics        *observability.Metrics
	logger         zerolog.Logger
}

// NewRouter creates a new router. throttle and metrics may be nil.
func NewRouter(
	appointmentHandler *handlers.AppointmentHandler,
	adminHandler *handlers.AdminHandler,
	activityHandler *handlers.ActivityHandler,
	sseHandler *handlers.SSEHandler,
	healthHandler *handlers.HealthHandler,
	throttle *middleware.ThrottleStore,
	allowedOrigins []string,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Router {
	return &Router{
		mux:                http.NewServeMux(),
		appointmentHandler: appointmentHandler,
		adminHandler:       adminHandler,
		activityHandler:    activityHandler,
		sseHandler:         sseHandler,
		healthHandler:      healthHandler,
		throttle:           throttle,
		allowedOrigins:     allowedOrigins,
		metrics:            metrics,
		logger:             logger,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", r.healthHandler.Health)

	// Booking
	r.mux.HandleFunc("GET /api/communities/{id}/slots", r.appointmentHandler.GetSlots)
	r.mux.Handle("POST /api/appointments", r.throttled(http.HandlerFunc(r.appointmentHandler.ScheduleAppointment)))
	r.mux.HandleFunc("GET /api/appointments", r.appointmentHandler.ListMyAppointments)
	r.mux.HandleFunc("GET /api/appointments/{id}", r.appointmentHandler.GetAppointment)
	r.mux.HandleFunc("POST /api/appointments/{id}/cancel", r.appointmentHandler.CancelAppointment)

	// Community activity fan-out
	r.mux.HandleFunc("POST /api/communities/{id}/activity", r.activityHandler.NotifyActivity)

	// Live calendar
	if r.sseHandler != nil {
		r.mux.HandleFunc("GET /api/stream/communities/{id}/calendar", r.sseHandler.StreamCalendar)
	}

	// Admin
	r.mux.HandleFunc("GET /api/admin/appointments", r.appointmentHandler.ListCommunityAppointments)
	r.mux.HandleFunc("PATCH /api/admin/appointments/{id}/status", r.appointmentHandler.UpdateStatus)

	r.mux.HandleFunc("GET /api/admin/communities/{id}/windows", r.adminHandler.ListWindows)
	r.mux.HandleFunc("PUT /api/admin/communities/{id}/windows", r.adminHandler.ReplaceWindows)
	r.mux.HandleFunc("GET /api/admin/communities/{id}/blocked-dates", r.adminHandler.ListBlockedDates)
	r.mux.HandleFunc("POST /api/admin/communities/{id}/blocked-dates", r.adminHandler.BlockDate)
	r.mux.HandleFunc("DELETE /api/admin/communities/{id}/blocked-dates/{date}", r.adminHandler.UnblockDate)
	r.mux.HandleFunc("GET /api/admin/communities/{id}/settings", r.adminHandler.GetSettings)
	r.mux.HandleFunc("PUT /api/admin/communities/{id}/settings", r.adminHandler.UpdateSettings)

	r.mux.HandleFunc("GET /api/admin/rate-limits/{tier}", r.adminHandler.GetPolicy)
	r.mux.HandleFunc("PUT /api/admin/rate-limits/{tier}", r.adminHandler.UpdatePolicy)
	r.mux.HandleFunc("GET /api/admin/senders/{id}/stats", r.adminHandler.GetSenderStats)
	r.mux.HandleFunc("POST /api/admin/senders/{id}/reset", r.adminHandler.ResetSender)
	r.mux.HandleFunc("GET /api/admin/senders/{id}/connection", r.adminHandler.GetSenderConnection)
	r.mux.HandleFunc("GET /api/admin/notifications", r.adminHandler.ListNotifications)

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(r.logger)(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.ResponseOptimization(handler)
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}

func (r *Router) throttled(next http.Handler) http.Handler {
	if r.throttle == nil {
		return next
	}
	return middleware.Throttle(r.throttle)(next)
}
